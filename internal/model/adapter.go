package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runtime opens a serialized model into an executable Session.
type Runtime interface {
	Open(ctx context.Context, modelPath string, meta Metadata) (Session, error)
}

// Session runs forward passes. Run must release every buffer it allocates
// before it returns, on success and on error.
type Session interface {
	Run(in *Tensor) ([]float32, error)
	Close() error
}

type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// OverlapPolicy decides what a predict does while another one is running.
type OverlapPolicy string

const (
	OverlapQueue  OverlapPolicy = "queue"
	OverlapReject OverlapPolicy = "reject"
)

type Options struct {
	ModelPath    string
	MetadataPath string
	Runtime      Runtime
	Overlap      OverlapPolicy
	MaxPixels    int
	Logger       *zap.Logger
}

// Adapter owns one model session and bridges images to score vectors.
type Adapter struct {
	modelPath    string
	metadataPath string
	runtime      Runtime
	overlap      OverlapPolicy
	maxPixels    int
	log          *zap.Logger
	alloc        Allocator

	mu         sync.Mutex
	state      State
	session    Session
	meta       Metadata
	loadErr    error
	loadDone   chan struct{}
	cancelLoad context.CancelFunc
	gen        uint64

	// one token: held by the predict currently using the session
	sem chan struct{}
}

func NewAdapter(opts Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	overlap := opts.Overlap
	if overlap == "" {
		overlap = OverlapQueue
	}
	return &Adapter{
		modelPath:    opts.ModelPath,
		metadataPath: opts.MetadataPath,
		runtime:      opts.Runtime,
		overlap:      overlap,
		maxPixels:    opts.MaxPixels,
		log:          log,
		sem:          make(chan struct{}, 1),
	}
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err returns the error of the last failed load, if any.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadErr
}

func (a *Adapter) Metadata() (Metadata, error) {
	_, meta, err := a.ready()
	return meta, err
}

// Load opens the model once. Callers arriving while a load is in flight
// wait for its outcome. After a failure the next call retries.
func (a *Adapter) Load(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case StateReady:
		a.mu.Unlock()
		return nil
	case StateLoading:
		done := a.loadDone
		a.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.state == StateReady {
			return nil
		}
		if a.loadErr != nil {
			return a.loadErr
		}
		return ErrNotReady
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.state = StateLoading
	a.loadErr = nil
	done := make(chan struct{})
	a.loadDone = done
	a.cancelLoad = cancel
	gen := a.gen
	a.mu.Unlock()

	start := time.Now()
	a.log.Info("loading model",
		zap.String("model_path", a.modelPath),
		zap.String("metadata_path", a.metadataPath))

	meta, session, err := a.open(loadCtx)

	a.mu.Lock()
	defer func() {
		a.cancelLoad = nil
		close(done)
		a.mu.Unlock()
	}()

	if gen != a.gen {
		if err == nil {
			_ = session.Close()
		}
		a.state = StateUnloaded
		a.log.Info("model load abandoned, adapter closed", zap.String("model_path", a.modelPath))
		return ErrClosed
	}
	if err != nil {
		a.state = StateFailed
		a.loadErr = err
		a.log.Error("failed to load model",
			zap.String("model_path", a.modelPath),
			zap.Error(err))
		return err
	}

	a.state = StateReady
	a.session = session
	a.meta = meta
	a.log.Info("model loaded",
		zap.Int("classes", len(meta.Classes)),
		zap.Int64s("input_shape", meta.InputShape),
		zap.String("layout", meta.Layout),
		zap.Duration("cost", time.Since(start)))
	return nil
}

func (a *Adapter) open(ctx context.Context) (Metadata, Session, error) {
	if a.runtime == nil {
		return Metadata{}, nil, fmt.Errorf("no runtime configured")
	}
	meta, err := LoadMetadata(a.metadataPath)
	if err != nil {
		return Metadata{}, nil, err
	}
	session, err := a.runtime.Open(ctx, a.modelPath, meta)
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, session, nil
}

func (a *Adapter) ready() (Session, Metadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateReady || a.session == nil {
		return nil, Metadata{}, ErrNotReady
	}
	return a.session, a.meta, nil
}

func (a *Adapter) acquire(ctx context.Context) (func(), error) {
	if a.overlap == OverlapReject {
		select {
		case a.sem <- struct{}{}:
		default:
			return nil, ErrBusy
		}
	} else {
		select {
		case a.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return func() { <-a.sem }, nil
}

// Predict decodes an image, preprocesses it to the model input and
// returns the raw score vector of one forward pass.
func (a *Adapter) Predict(ctx context.Context, r io.Reader) ([]float32, error) {
	if _, _, err := a.ready(); err != nil {
		return nil, err
	}

	img, format, err := DecodeImage(r, a.maxPixels)
	if err != nil {
		return nil, err
	}
	a.log.Debug("image decoded",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	session, meta, err := a.ready()
	if err != nil {
		return nil, err
	}

	input, err := Preprocess(&a.alloc, img, meta)
	if err != nil {
		return nil, err
	}
	defer input.Release()

	return a.run(session, meta, input)
}

// PredictTensor runs an already preprocessed input.
func (a *Adapter) PredictTensor(ctx context.Context, data []float32) ([]float32, error) {
	_, meta, err := a.ready()
	if err != nil {
		return nil, err
	}
	if expected := meta.InputSize(); len(data) != expected {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrShape, expected, len(data))
	}

	release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	session, meta, err := a.ready()
	if err != nil {
		return nil, err
	}

	input := a.alloc.NewTensor(meta.InputShape...)
	defer input.Release()
	copy(input.Data, data)

	return a.run(session, meta, input)
}

func (a *Adapter) run(session Session, meta Metadata, input *Tensor) ([]float32, error) {
	start := time.Now()
	scores, err := session.Run(input)
	if err != nil {
		a.log.Error("inference failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if len(scores) != len(meta.Classes) {
		return nil, fmt.Errorf("%w: output %d, classes %d", ErrOutputMismatch, len(scores), len(meta.Classes))
	}
	a.log.Debug("inference done", zap.Duration("cost", time.Since(start)))
	return scores, nil
}

// LiveTensors counts intermediate buffers not yet released, including
// those the session reports.
func (a *Adapter) LiveTensors() int64 {
	n := a.alloc.Live()
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if tracked, ok := session.(interface{ LiveTensors() int64 }); ok {
		n += tracked.LiveTensors()
	}
	return n
}

// Close waits for the running predict, if any, and releases the session.
// A load in flight is cancelled and Close returns only after the loader
// has finished, so no runtime call outlives it.
func (a *Adapter) Close() error {
	a.sem <- struct{}{}
	defer func() { <-a.sem }()

	a.mu.Lock()
	a.gen++
	if a.state == StateLoading {
		done, cancel := a.loadDone, a.cancelLoad
		a.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-done
		a.mu.Lock()
	}
	defer a.mu.Unlock()

	session := a.session
	a.session = nil
	a.meta = Metadata{}
	if a.state != StateLoading {
		a.state = StateUnloaded
	}
	if session == nil {
		return nil
	}
	a.log.Info("model released", zap.String("model_path", a.modelPath))
	return session.Close()
}

// LoadMetadata reads a model sidecar. An empty path yields DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	if path == "" {
		return DefaultMetadata(), nil
	}

	metaFile, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return normalizeMetadata(metadata)
}

func normalizeMetadata(m Metadata) (Metadata, error) {
	if len(m.Classes) == 0 {
		return Metadata{}, fmt.Errorf("metadata: no classes")
	}
	if m.Layout == "" {
		m.Layout = LayoutNHWC
	}
	if m.Layout != LayoutNHWC && m.Layout != LayoutNCHW {
		return Metadata{}, fmt.Errorf("metadata: unknown layout %q", m.Layout)
	}
	if m.ImageSize <= 0 {
		m.ImageSize = 256
	}
	if len(m.InputShape) == 0 {
		size := int64(m.ImageSize)
		if m.Layout == LayoutNCHW {
			m.InputShape = []int64{1, 3, size, size}
		} else {
			m.InputShape = []int64{1, size, size, 3}
		}
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	return m, nil
}
