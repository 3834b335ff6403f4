// Command ocrbase runs the asynchronous document OCR and structured
// extraction pipeline's HTTP server and in-process Worker: config/DB init,
// the chi middleware stack, huma API registration, and graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"ocrbase/internal/blobstore"
	"ocrbase/internal/config"
	"ocrbase/internal/database"
	"ocrbase/internal/eventbus"
	"ocrbase/internal/http/handlers"
	"ocrbase/internal/http/mw"
	"ocrbase/internal/http/routes"
	"ocrbase/internal/llm"
	"ocrbase/internal/logging"
	"ocrbase/internal/ocr"
	"ocrbase/internal/queue"
	"ocrbase/internal/realtime"
	"ocrbase/internal/repository"
	"ocrbase/internal/shutdown"
	"ocrbase/internal/submission"
	"ocrbase/internal/version"
	"ocrbase/internal/webhook"
	"ocrbase/internal/worker"
)

func main() {
	logger := logging.SetDefault()
	logger.Info("starting ocrbase", "version", version.Get().String())

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if schemaVersion, err := database.GetLatestSchemaVersion(db); err == nil {
		logger.Info("database ready", "schema_version", schemaVersion)
	}

	repos := repository.NewRepositories(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := repos.Job.MarkStaleRunningJobsFailed(ctx, cfg.WorkerStaleJobMaxAge); err != nil {
		logger.Warn("failed to sweep stale running jobs", "error", err)
	} else if n > 0 {
		logger.Info("swept stale running jobs", "count", n)
	}

	redisClient := redis.NewClient(mustParseRedisURL(cfg.RedisURL, logger))
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	var blobStore blobstore.Store
	if cfg.StorageEnabled {
		s3Store, err := blobstore.NewS3Store(cfg, logger)
		if err != nil {
			logger.Error("failed to init blob store", "error", err)
			os.Exit(1)
		}
		blobStore = s3Store
	} else {
		logger.Warn("blob store not configured, using in-memory store (not durable)")
		blobStore = blobstore.NewMemoryStore()
	}

	bus := eventbus.New(redisClient, logger)
	registry := eventbus.NewRegistry(bus)

	q := queue.New(redisClient, logger, cfg.WorkerMaxAttempts, cfg.WorkerBackoffBase, cfg.WorkerBackoffMax)

	schemas := llm.NewMemorySchemaStore()

	llmRegistry := llm.NewRegistry(logger)
	if cfg.AnthropicAPIKey != "" {
		llmRegistry.Register(llm.NewAnthropicProvider(cfg.AnthropicAPIKey, ""))
	}
	if cfg.OpenAIAPIKey != "" {
		llmRegistry.Register(llm.NewOpenAIProvider(cfg.OpenAIAPIKey, ""))
	}

	ocrParser := ocr.NewHTTPParser(cfg.OCREndpoint)

	notifier, err := webhook.New(logger, repos.WebhookDelivery, cfg.WebhookSigningSecret, 5)
	if err != nil {
		logger.Error("failed to init webhook notifier", "error", err)
		os.Exit(1)
	}

	jobWorker := worker.New(repos.Job, blobStore, ocrParser, llmRegistry, schemas, bus, q, notifier, worker.Config{
		Concurrency:         cfg.WorkerConcurrency,
		ShutdownGracePeriod: cfg.WorkerShutdownGracePeriod,
	}, logger)
	jobWorker.Start(ctx)

	submissionSvc := submission.New(repos.Job, blobStore, q, schemas, cfg.MaxUploadBytes, queue.EnqueueOptions{
		MaxAttempts: cfg.WorkerMaxAttempts,
		BackoffBase: cfg.WorkerBackoffBase,
		BackoffMax:  cfg.WorkerBackoffMax,
	}, logger)

	gateway := realtime.New(registry, repos.Job, cfg.RealtimeKeepAlive, logger)

	verifier := mw.NewJWTVerifier(cfg.AuthSecret)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:          30 * time.Second,
		Extended:         5 * time.Minute,
		ExtendedPatterns: []string{"/v1/parse", "/v1/extract"},
		SkipPatterns:     []string{"/v1/realtime"},
	}))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	router.Use(middleware.RequestSize(1024 * 1024))
	router.Use(mw.APIVersion())

	var idleMonitor *shutdown.IdleMonitor
	if cfg.IdleTimeout > 0 {
		idleMonitor = shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
			Timeout:      cfg.IdleTimeout,
			Logger:       logger,
			ExcludePaths: []string{"/healthz", "/livez", "/readyz"},
			BackgroundWorkCheck: func() bool {
				return jobWorker.ActiveJobs() > 0
			},
		})
		idleMonitor.Start()
		router.Use(idleMonitor.Middleware)
	}

	humaConfig := routes.NewHumaConfig(cfg.BaseURL)
	api := humachi.New(router, humaConfig)
	api.UseMiddleware(mw.HumaAuth(api, mw.HumaAuthConfig{Verifier: verifier}))

	routes.Register(api, routes.Handlers{
		Submission: handlers.NewSubmissionHandler(submissionSvc),
		Jobs:       handlers.NewJobHandler(repos.Job),
		Readyz:     handlers.NewReadyzHandler(db),
	})

	router.With(mw.Auth(verifier)).Get("/v1/realtime", gateway.ServeHTTP)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	var idleShutdown <-chan struct{}
	if idleMonitor != nil {
		idleShutdown = idleMonitor.ShutdownChan()
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-idleShutdown:
		logger.Info("idle timeout reached, shutting down")
	}

	cancel()
	jobWorker.Stop()
	if idleMonitor != nil {
		idleMonitor.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

func mustParseRedisURL(url string, logger *slog.Logger) *redis.Options {
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	return opts
}
