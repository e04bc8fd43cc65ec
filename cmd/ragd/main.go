package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/chunker"
	"github.com/research-os/ragd/internal/config"
	"github.com/research-os/ragd/internal/connector"
	"github.com/research-os/ragd/internal/connector/arxiv"
	"github.com/research-os/ragd/internal/connector/semanticscholar"
	openaiEmb "github.com/research-os/ragd/internal/embedding/openai"
	"github.com/research-os/ragd/internal/ingest"
	logpkg "github.com/research-os/ragd/internal/logger"
	"github.com/research-os/ragd/internal/metrics"
	"github.com/research-os/ragd/internal/pipeline"
	"github.com/research-os/ragd/internal/retry"
	chiTransport "github.com/research-os/ragd/internal/transport/chi"
	"github.com/research-os/ragd/internal/vectorstore"
	storeChromem "github.com/research-os/ragd/internal/vectorstore/chromem"
	storeRedis "github.com/research-os/ragd/internal/vectorstore/redis"
	"github.com/research-os/ragd/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragd API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("store_backend", cfg.Store.Backend),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	// Embedding provider first: the store schema needs its dimension.
	embedder := openaiEmb.New(&openaiEmb.Config{
		APIKey:      cfg.Embedding.APIKey,
		BaseURL:     cfg.Embedding.BaseURL,
		Model:       cfg.Embedding.Model,
		Dimensions:  cfg.Embedding.Dimensions,
		BatchSize:   cfg.Embedding.BatchSize,
		Parallelism: cfg.Embedding.Parallelism,
		Provider:    cfg.Embedding.Provider,
		Logger:      logger,
	})
	logger.Info("Embedding provider created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", embedder.Dimension()),
	)

	ctx := context.Background()

	// Create vector store based on backend
	var store vectorstore.Store
	switch cfg.Store.Backend {
	case "redis":
		redisStore, err := storeRedis.New(storeRedis.Config{
			Addrs:              cfg.Store.Addrs,
			Password:           cfg.Store.Password,
			DB:                 cfg.Store.DB,
			IndexName:          cfg.Store.IndexName,
			KeyPrefix:          cfg.Store.KeyPrefix,
			Dimension:          embedder.Dimension(),
			HNSWM:              cfg.Store.HNSWM,
			HNSWEFConstruction: cfg.Store.HNSWEFConstruct,
			Logger:             logger,
		})
		if err != nil {
			logger.Fatal("Failed to create redis store", zap.Error(err))
		}
		readiness := time.Duration(cfg.Store.ReadinessTimeout) * time.Second
		if err := redisStore.WaitForReady(ctx, readiness); err != nil {
			logger.Fatal("Store not ready", zap.Error(err))
		}
		store = redisStore
	case "chromem":
		chromemStore, err := storeChromem.New(storeChromem.Config{
			Path:       cfg.Store.Path,
			Collection: cfg.Store.Collection,
			Dimension:  embedder.Dimension(),
			Logger:     logger,
		})
		if err != nil {
			logger.Fatal("Failed to create chromem store", zap.Error(err))
		}
		store = chromemStore
	default:
		logger.Fatal("Unknown store backend", zap.String("backend", cfg.Store.Backend))
	}
	defer store.Close()

	if err := store.InitializeSchema(ctx); err != nil {
		logger.Fatal("Failed to initialize store schema", zap.Error(err))
	}
	logger.Info("Vector store ready", zap.String("backend", cfg.Store.Backend))

	// Shared retry policy for outbound source calls
	retrier := retry.Executor{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelaySec) * time.Second,
		Multiplier:   cfg.Retry.BackoffMultiple,
	}

	var connectors []connector.Connector
	if cfg.Connectors.Arxiv.Enabled {
		connectors = append(connectors, arxiv.New(arxiv.Config{
			BaseURL:        cfg.Connectors.Arxiv.BaseURL,
			Timeout:        time.Duration(cfg.Connectors.Arxiv.TimeoutSec) * time.Second,
			RequestsPerSec: cfg.Connectors.Arxiv.RequestsPerSec,
			Retry:          retrier,
			Logger:         logger,
		}))
	}
	if cfg.Connectors.SemanticScholar.Enabled {
		connectors = append(connectors, semanticscholar.New(semanticscholar.Config{
			BaseURL: cfg.Connectors.SemanticScholar.BaseURL,
			APIKey:  cfg.Connectors.SemanticScholar.APIKey,
			Timeout: time.Duration(cfg.Connectors.SemanticScholar.TimeoutSec) * time.Second,
			Retry:   retrier,
			Logger:  logger,
		}))
	}
	logger.Info("Connectors configured", zap.Int("count", len(connectors)))

	pipe := pipeline.New(
		chunker.New(chunker.Config{
			ChunkSize:    cfg.Chunker.ChunkSize,
			ChunkOverlap: cfg.Chunker.ChunkOverlap,
			MinChunkSize: cfg.Chunker.MinChunkSize,
		}),
		embedder,
		store,
		logger,
	)

	orchestrator := ingest.New(connectors, pipe, ingest.Config{
		Workers: cfg.Ingest.Workers,
	}, logger)

	checks := map[string]chiTransport.HealthChecker{
		"store":     store,
		"embedding": embeddingHealthChecker{embedder: embedder},
	}
	for _, c := range connectors {
		checks[c.Name()] = c
	}

	server := chiTransport.NewServer(pipe, orchestrator, checks, chiTransport.Limits{
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxLimit:        cfg.Search.MaxLimit,
		DefaultMinScore: cfg.Search.DefaultMinScore,
		MaxResults:      cfg.Ingest.MaxResults,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embeddingHealthChecker folds the provider's error-returning probe
// into the boolean health surface.
type embeddingHealthChecker struct {
	embedder *openaiEmb.Provider
}

func (h embeddingHealthChecker) HealthCheck(ctx context.Context) bool {
	return h.embedder.HealthCheck(ctx) == nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
