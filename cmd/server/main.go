package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Brownie44l1/dementia-api/internal/artifact"
	"github.com/Brownie44l1/dementia-api/internal/config"
	"github.com/Brownie44l1/dementia-api/internal/handlers"
	"github.com/Brownie44l1/dementia-api/internal/logging"
	"github.com/Brownie44l1/dementia-api/internal/metrics"
	"github.com/Brownie44l1/dementia-api/internal/model"
)

func main() {
	config.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logFile, err := logging.Setup(level, cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	profile, err := model.LookupProfile(cfg.ModelProfile)
	if err != nil {
		log.Fatalf("Failed to select model profile: %v", err)
	}

	fetcher := artifact.NewFetcher(artifact.Config{
		CacheDir:          cfg.ModelCacheDir,
		S3EndpointURL:     cfg.S3EndpointURL,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3Region:          cfg.S3Region,
	})

	if cfg.ModelMetadataPath != "" {
		metadataPath, err := fetcher.Fetch(context.Background(), cfg.ModelMetadataPath)
		if err != nil {
			log.Fatalf("Failed to fetch model metadata: %v", err)
		}
		metadata, err := model.LoadMetadata(metadataPath)
		if err != nil {
			log.Fatalf("Failed to load model metadata: %v", err)
		}
		if profile, err = metadata.Apply(profile); err != nil {
			log.Fatalf("Model metadata does not fit profile %s: %v", cfg.ModelProfile, err)
		}
	}

	// A missing artifact is not fatal: the service starts, reports the model
	// as not loaded and answers predictions with 503.
	var modelUpdated time.Time
	modelPath, err := fetcher.Fetch(context.Background(), cfg.ModelPath)
	if err != nil {
		slog.Error("model artifact unavailable", "location", cfg.ModelPath, "error", err)
		modelPath = cfg.ModelPath
	} else if info, err := os.Stat(modelPath); err == nil {
		modelUpdated = info.ModTime()
	}

	m := metrics.New()

	adapter, err := model.NewAdapter(profile,
		model.ONNXLoader(modelPath, cfg.OnnxRuntimeDylib, profile),
		model.Options{MaxConcurrent: cfg.MaxConcurrentInferences, Metrics: m},
	)
	if err != nil {
		log.Fatalf("Failed to create inference adapter: %v", err)
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			slog.Error("error closing model", "error", err)
		}
		if err := model.DestroyRuntime(); err != nil {
			slog.Error("error destroying ONNX runtime", "error", err)
		}
	}()

	if cfg.PreloadModel {
		go adapter.Load() //nolint:errcheck
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(m.Middleware)

	handler := handlers.NewHandler(cfg.Codec(), adapter, handlers.Options{
		Prefix:       cfg.Prefix(),
		Environment:  cfg.Environment,
		ModelVersion: cfg.ModelVersion,
		ModelUpdated: modelUpdated,
		Metrics:      m,
	})
	handler.AddRoutes(r)

	port := strconv.Itoa(cfg.Port)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server starting",
		"port", port,
		"environment", cfg.Environment,
		"profile", profile.Name,
		"model", modelPath,
		"classes", profile.Labels,
	)
	slog.Info("endpoints",
		"health", "GET /health",
		"upload", "POST /predict/",
		"base64", "POST "+cfg.Prefix()+"/predict",
		"tensor", "POST "+cfg.Prefix()+"/predict/tensor",
		"model", "GET "+cfg.Prefix()+"/model",
		"metrics", "GET /metrics",
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", port, err)
	}

	slog.Info("server stopped")
}
