package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/signcast/api/internal/client"
	"github.com/signcast/api/internal/config"
	"github.com/signcast/api/internal/handler"
	"github.com/signcast/api/internal/media"
	"github.com/signcast/api/internal/middleware"
	"github.com/signcast/api/internal/plan"
	"github.com/signcast/api/internal/resolver"
	"github.com/signcast/api/internal/server"
	"github.com/signcast/api/internal/service"
	"github.com/signcast/api/internal/store"
	ws "github.com/signcast/api/internal/websocket"
	"github.com/signcast/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
		redisAvailable = false
	}

	if err := os.MkdirAll(cfg.Storage.OutputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output dir: %v", err)
	}

	// Job store
	jobStore, err := store.Open(&cfg.Storage, redisClient)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer jobStore.Close()

	// External clients
	transcriber := client.NewAssemblyAIClient(&cfg.AssemblyAI)
	if !transcriber.IsConfigured() {
		log.Printf("Warning: ASSEMBLYAI_API_KEY not set, jobs will fail at transcription")
	}
	signClient := client.NewSignASLClient(&cfg.SignASL)

	var publisher client.StorageClient
	if cfg.R2.AccountID != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 disabled: %v", err)
		} else {
			publisher = r2Client
		}
	}

	// Clip resolution and planning
	lookupCache := resolver.Cache(resolver.NewMemoryCache())
	if redisAvailable {
		lookupCache = resolver.NewTieredCache(resolver.NewMemoryCache(), resolver.NewRedisCache(redisClient, cfg.Storage.CacheTTL))
	}
	clipResolver := resolver.New(signClient,
		resolver.WithCache(lookupCache),
		resolver.WithCaps(cfg.SignASL.WordCap, cfg.SignASL.LetterCap),
	)
	planBuilder := plan.NewBuilder(clipResolver, cfg.Plan.WordFloor, cfg.Plan.ClipFloor)

	// Media
	tool := media.NewTool(&cfg.Media)
	if !tool.Available() {
		log.Printf("Warning: ffmpeg not found at %q", tool.FFmpegPath())
	}
	fetcher, err := media.NewFetcher(tool, cfg.SignASL.UserAgent, signClient.SignPageURL, 0)
	if err != nil {
		log.Fatalf("Failed to create media fetcher: %v", err)
	}
	engine := media.NewEngine(fetcher, tool, media.ProfileFromConfig(&cfg.Media), cfg.Media.FetchConcurrency, cfg.Media.TempDir)

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	translateService := service.NewTranslateService(service.TranslateDeps{
		Store:         jobStore,
		Transcriber:   transcriber,
		Planner:       planBuilder,
		Merger:        engine,
		Publisher:     publisher,
		Notifier:      hub,
		OutputDir:     cfg.Storage.OutputDir,
		AudioDir:      cfg.Storage.AudioDir,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})

	// Workers
	var pool *worker.Pool
	var workerServer *asynq.Server
	switch cfg.Worker.Driver {
	case "asynq":
		asynqClient := asynq.NewClient(redisOpt(cfg))
		defer asynqClient.Close()
		translateService.SetDispatcher(worker.NewAsynqDispatcher(asynqClient))
		workerServer = newWorkerServer(cfg)
		if err := startWorkerServer(workerServer, translateService); err != nil {
			log.Fatalf("Failed to start asynq worker: %v", err)
		}
	default:
		// no other process owns jobs in a local pool, so leftovers were interrupted
		if n, err := translateService.Recover(ctx); err != nil {
			log.Printf("Warning: job recovery failed: %v", err)
		} else if n > 0 {
			log.Printf("Recovered %d unsettled jobs", n)
		}
		pool = worker.NewPool(translateService, cfg.Worker.Concurrency)
		translateService.SetDispatcher(pool)
	}
	log.Printf("Job store: %s, workers: %s (%d)", cfg.Storage.Driver, cfg.Worker.Driver, cfg.Worker.Concurrency)

	// Handlers
	validate := validator.New()
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"ffmpeg":        func(context.Context) bool { return tool.Available() },
		"transcription": func(context.Context) bool { return transcriber.IsConfigured() },
		"redis":         func(ctx context.Context) bool { return redisClient.Ping(ctx).Err() == nil },
		"storage":       func(context.Context) bool { return publisher != nil },
	})

	var rateLimiter *middleware.RateLimiter
	if redisAvailable {
		rateLimiter = middleware.NewRateLimiter(redisClient)
	}

	app := server.NewApp(server.Options{
		Translate:     handler.NewTranslateHandler(translateService, validate),
		Health:        healthHandler,
		Hub:           hub,
		RateLimiter:   rateLimiter,
		SubmitPerHour: cfg.RateLimit.SubmitPerHour,
		OutputDir:     cfg.Storage.OutputDir,
		AccessLog:     true,
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	// Let running jobs settle before the store closes
	if pool != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := pool.Shutdown(shutdownCtx); err != nil {
			log.Printf("Worker pool shutdown: %v", err)
		}
		cancel()
	}
	if workerServer != nil {
		workerServer.Shutdown()
	}
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func newWorkerServer(cfg *config.Config) *asynq.Server {
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})
}

// startWorkerServer starts processing without trapping signals; main owns shutdown
func startWorkerServer(srv *asynq.Server, svc *service.TranslateService) error {
	translateWorker := worker.NewTranslateWorker(svc)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTranslate, translateWorker.ProcessTask)

	return srv.Start(mux)
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch level {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
