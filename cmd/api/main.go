package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iago/treasury-bizcase-back/internal/ai"
	"github.com/iago/treasury-bizcase-back/internal/audit"
	"github.com/iago/treasury-bizcase-back/internal/cache"
	"github.com/iago/treasury-bizcase-back/internal/config"
	contextbuilder "github.com/iago/treasury-bizcase-back/internal/context"
	httpserver "github.com/iago/treasury-bizcase-back/internal/http"
	"github.com/iago/treasury-bizcase-back/internal/http/handlers"
	"github.com/iago/treasury-bizcase-back/internal/jobs"
	"github.com/iago/treasury-bizcase-back/internal/metrics"
	"github.com/iago/treasury-bizcase-back/internal/prompt"
	"github.com/iago/treasury-bizcase-back/internal/quality"
	"github.com/iago/treasury-bizcase-back/internal/queue"
	"github.com/iago/treasury-bizcase-back/internal/repository"
	"github.com/iago/treasury-bizcase-back/internal/service"
	"github.com/iago/treasury-bizcase-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[bizcase] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := setupRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	store, storeCloser := setupStore(ctx, cfg, redisClient, logger)
	defer storeCloser()
	responseLog := setupResponseLog(cfg, redisClient, logger)
	producer, consumer, queueCloser := setupQueue(ctx, cfg, redisClient, logger)
	defer queueCloser()

	registry := metrics.NewRegistry()
	recorder := audit.NewRecorder(500, audit.NewSlogLogger(os.Stdout, audit.Config{Format: cfg.AuditLogFormat}))

	timeouts := ai.NewTimeoutMonitor(ai.TimeoutMonitorConfig{
		Threshold: cfg.LLMTimeoutAlertCount,
		Window:    cfg.LLMTimeoutAlertWindow,
		Audit:     recorder,
		OnAlert: func(count int) {
			registry.TimeoutAlert(count)
			logger.Printf("llm timeout alert consecutive_timeouts=%d", count)
		},
	})
	llmClient := ai.NewClient(ai.ClientConfig{
		APIKey:     cfg.LLMAPIKey,
		BaseURL:    cfg.LLMBaseURL,
		Style:      ai.APIStyle(cfg.LLMAPIStyle),
		Timeout:    cfg.LLMTimeout,
		MaxRetries: cfg.LLMMaxRetries,
		Parser: ai.NewParser(ai.ParserConfig{
			MaxOutputTokens: cfg.LLMMaxOutputTokens,
			RetainRaw:       cfg.LLMRetainRaw,
		}),
		Timeouts: timeouts,
		Observer: registry,
		SiteURL:  cfg.LLMSiteURL,
		AppName:  cfg.LLMAppName,
		Logger:   logger,
	})
	controller := quality.NewController(quality.ControllerConfig{
		Client:      llmClient,
		ResponseLog: responseLog,
		Audit:       recorder,
		Observer:    registry,
		Logger:      logger,
	})

	promptBuilder, err := prompt.NewBuilder(prompt.BuilderConfig{})
	if err != nil {
		logger.Fatalf("failed to build prompt: %v", err)
	}
	businessCases, err := service.NewBusinessCaseService(service.BusinessCaseDependencies{
		Router: ai.NewModelRouter(ai.ModelRouterConfig{
			BusinessCaseModel: cfg.LLMModel,
			EnrichmentModel:   cfg.LLMEnrichmentModel,
			Temperature:       cfg.LLMTemperature,
			MaxOutputTokens:   cfg.LLMMaxOutputTokens,
		}),
		Prompt:    promptBuilder,
		Generator: controller,
		Research:  contextbuilder.NewBuilder(contextbuilder.NewInputRetriever()),
		Cache: cache.NewResultCache(cache.Config{
			TTL:        cfg.ResultCacheTTL,
			MaxEntries: cfg.ResultCacheMaxEntries,
		}),
		EnrichWithLLM: cfg.EnrichmentEnabled,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatalf("failed to build business case service: %v", err)
	}

	tracker := jobs.NewTracker(jobs.TrackerConfig{
		Store:         store,
		Producer:      producer,
		Runner:        businessCases.Runner(),
		TTL:           cfg.JobTTL,
		TerminalGrace: cfg.JobTerminalGrace,
		Audit:         recorder,
		Observer:      registry,
		Logger:        logger,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(worker.ProcessorConfig{
			Consumer:        consumer,
			Jobs:            tracker,
			CleanupInterval: cfg.JobCleanupInterval,
			Logger:          logger,
		})
		go processor.Start(ctx)
		logger.Printf("worker enabled and started")
	} else {
		logger.Printf("worker disabled by configuration")
	}

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(businessCases, tracker, recorder),
		Metrics:        registry,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	// Synchronous generation may legitimately run for the whole LLM timeout.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.LLMTimeout*2 + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRedis(ctx context.Context, cfg config.Config, logger *log.Logger) redis.UniversalClient {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using in-process fallbacks")
		return nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Printf("redis unavailable, using in-process fallbacks: %v", err)
		_ = client.Close()
		return nil
	}
	logger.Printf("redis connected addr=%s db=%d", cfg.RedisAddr, cfg.RedisDB)
	return client
}

func setupStore(
	ctx context.Context,
	cfg config.Config,
	redisClient redis.UniversalClient,
	logger *log.Logger,
) (repository.Store, func()) {
	if cfg.DatabaseURL != "" {
		pgStore, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err == nil {
			logger.Printf("postgres job store initialized")
			return pgStore, pgStore.Close
		}
		logger.Printf("failed to initialize postgres store, falling back: %v", err)
	}

	if redisClient != nil {
		logger.Printf("redis job store initialized")
		return repository.NewRedisStore(redisClient), func() {}
	}

	logger.Printf("using in-memory job store")
	return repository.NewMemoryStore(), func() {}
}

func setupResponseLog(cfg config.Config, redisClient redis.UniversalClient, logger *log.Logger) repository.ResponseLog {
	if redisClient != nil {
		logger.Printf("redis response log initialized key=%s capacity=%d", cfg.ResponseLogKey, cfg.ResponseLogCapacity)
		return repository.NewRedisResponseLog(redisClient, cfg.ResponseLogKey, cfg.ResponseLogCapacity)
	}
	return repository.NewMemoryResponseLog(cfg.ResponseLogCapacity)
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	redisClient redis.UniversalClient,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	if redisClient != nil {
		streams, err := queue.NewStreamsQueue(ctx, redisClient, queue.StreamsConfig{
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: 3,
			Logger:      logger,
		})
		if err == nil {
			logger.Printf("redis streams queue initialized stream=%s group=%s", cfg.RedisStream, cfg.RedisGroup)
			return streams, streams, func() {}
		}
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
	}

	local := queue.NewLocalQueue(512, 3, logger)
	return local, local, local.Close
}
