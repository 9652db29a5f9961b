package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit sync.Mutex

// ONNXRuntime opens models with onnxruntime. LibraryPath points at the
// onnxruntime shared library; empty uses the platform default.
type ONNXRuntime struct {
	LibraryPath string
}

func (r *ONNXRuntime) Open(ctx context.Context, modelPath string, meta Metadata) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ortInit.Lock()
	if !ort.IsInitialized() {
		if r.LibraryPath != "" {
			ort.SetSharedLibraryPath(r.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortInit.Unlock()
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	ortInit.Unlock()

	inputName, outputName := meta.InputName, meta.OutputName
	if inputName == "" {
		inputName = "input"
	}
	if outputName == "" {
		outputName = "output"
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputName}, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		session:     session,
		outputShape: append([]int64(nil), meta.OutputShape...),
	}, nil
}

// Shutdown tears down the process-wide onnxruntime environment.
func (r *ONNXRuntime) Shutdown() error {
	ortInit.Lock()
	defer ortInit.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

type onnxSession struct {
	session     *ort.DynamicAdvancedSession
	outputShape []int64
	live        atomic.Int64
}

// Run allocates its own ort tensors for every call and destroys them
// before returning.
func (s *onnxSession) Run(in *Tensor) ([]float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	s.live.Add(1)
	defer s.destroy(inputTensor)

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.outputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	s.live.Add(1)
	defer s.destroy(outputTensor)

	if err := s.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, err
	}

	outputData := outputTensor.GetData()
	scores := make([]float32, len(outputData))
	copy(scores, outputData)
	return scores, nil
}

func (s *onnxSession) destroy(t *ort.Tensor[float32]) {
	_ = t.Destroy()
	s.live.Add(-1)
}

func (s *onnxSession) LiveTensors() int64 {
	return s.live.Load()
}

func (s *onnxSession) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
