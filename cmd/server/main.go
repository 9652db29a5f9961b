package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/leaflens-api/internal/advisor"
	"github.com/Brownie44l1/leaflens-api/internal/cache"
	"github.com/Brownie44l1/leaflens-api/internal/config"
	"github.com/Brownie44l1/leaflens-api/internal/handlers"
	"github.com/Brownie44l1/leaflens-api/internal/logger"
	"github.com/Brownie44l1/leaflens-api/internal/middleware"
	"github.com/Brownie44l1/leaflens-api/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/lpernett/godotenv"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	log.Info("starting leaflens server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	runtime := &model.ONNXRuntime{LibraryPath: cfg.Model.LibraryPath}
	adapter := model.NewAdapter(model.Options{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		Runtime:      runtime,
		Overlap:      model.OverlapPolicy(cfg.Model.Overlap),
		MaxPixels:    cfg.Upload.MaxPixels,
		Logger:       log.Named("model"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the server answers /health with 503 until the model is ready
	go func() {
		loadCtx, cancel := context.WithTimeout(ctx, cfg.Model.LoadTimeout)
		defer cancel()
		if err := adapter.Load(loadCtx); err != nil {
			log.Error("model unavailable, predictions will be rejected", zap.Error(err))
		}
	}()

	store := newStore(ctx, cfg, log)

	var adv advisor.Advisor
	if cfg.Advisor.Enabled {
		gemini, err := advisor.NewGemini(ctx, cfg.Advisor.APIKey, cfg.Advisor.Model, cfg.Advisor.Timeout, log.Named("advisor"))
		if err != nil {
			log.Warn("advisor disabled", zap.Error(err))
		} else {
			defer gemini.Close()
			adv = gemini
		}
	}

	build := handlers.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}
	handler := handlers.NewHandler(adapter, store, adv, cfg.Upload, build, log.Named("http"))

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log.Named("access")))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	handler.Register(r)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("model", cfg.Model.Path))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}

	if err := adapter.Close(); err != nil {
		log.Warn("failed to release model", zap.Error(err))
	}
	if err := runtime.Shutdown(); err != nil {
		log.Warn("failed to destroy onnx environment", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		log.Warn("failed to close cache", zap.Error(err))
	}
	log.Info("server stopped")
}

func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) cache.Store {
	if !cfg.Redis.Enabled {
		return cache.Nop{}
	}

	store := cache.NewRedisStore(&cfg.Redis, log.Named("cache"))
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		log.Warn("redis connection failed, cache disabled", zap.Error(err))
		_ = store.Close()
		return cache.Nop{}
	}
	log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	return store
}
