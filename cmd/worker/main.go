// Command worker drains mindia's task queue: video transcodes, content
// moderation, plugin executions, embedding generation, and workflow steps
// (spec §4.N/§5), alongside the expiry cleanup sweep and webhook retry loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindia/internal/auth"
	"mindia/internal/catalog"
	"mindia/internal/cleanup"
	"mindia/internal/config"
	"mindia/internal/crypto"
	"mindia/internal/embedding"
	"mindia/internal/models"
	"mindia/internal/objectstore"
	"mindia/internal/observability/logging"
	"mindia/internal/observability/metrics"
	"mindia/internal/plugin"
	"mindia/internal/ratelimit"
	"mindia/internal/taskqueue"
	"mindia/internal/transcode"
	"mindia/internal/webhook"
	"mindia/internal/worker"
	"mindia/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.New()

	ctx := context.Background()
	pool, err := catalog.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		logger.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := catalog.NewStore(pool)

	storage, err := objectstore.NewFromConfig(cfg)
	if err != nil {
		logger.Error("building object storage", "error", err)
		os.Exit(1)
	}

	ssrf := auth.NewSSRFValidator()

	var cryptoSvc *crypto.Service
	if cfg.EncryptionKey != "" {
		encKey, err := crypto.KeyFromBase64(cfg.EncryptionKey)
		if err != nil {
			logger.Error("decoding ENCRYPTION_KEY", "error", err)
			os.Exit(1)
		}
		cryptoSvc, err = crypto.NewService(encKey)
		if err != nil {
			logger.Error("building crypto service", "error", err)
			os.Exit(1)
		}
	}

	tasks := taskqueue.NewQueue(pool)

	webhookCfg := webhook.Config{
		DeliveryTimeout:        cfg.WebhookDeliveryTimeout,
		RetryBackoffBase:       cfg.WebhookBackoffBase,
		RetryBackoffCap:        cfg.WebhookBackoffCap,
		MaxRetries:             cfg.WebhookMaxRetries,
		MaxConsecutiveFailures: cfg.WebhookMaxConsecutiveFailures,
	}
	webhookSvc := webhook.NewService(store, ssrf, webhookCfg, recorder, logger)
	webhookRetry := webhook.NewRetryService(webhookSvc, store, webhookCfg, logger)

	registry := plugin.NewRegistry()
	registry.Register(plugin.NewModerationPlugin(), plugin.Info{
		Name:                "aws_rekognition_moderation",
		Description:         "keyword-based content moderation stand-in",
		SupportedMediaTypes: []models.MediaType{models.MediaImage, models.MediaVideo},
	})
	registry.Register(plugin.NewTranscriptionPlugin(), plugin.Info{
		Name:                "async_transcription",
		Description:         "asynchronous transcription stand-in",
		SupportedMediaTypes: []models.MediaType{models.MediaAudio, models.MediaVideo},
	})
	pluginSvc := plugin.NewService(registry, store, tasks, storage, cryptoSvc, recorder, logger)
	workflowEngine := workflow.NewEngine(registry, store, tasks, storage, cryptoSvc, webhookSvc, recorder, logger)
	embeddingSvc := embedding.NewService(store, embedding.HashProvider{}, logger)

	orchestrator := transcode.NewOrchestrator(transcode.Config{
		FFmpegPath:            cfg.FFmpegPath,
		FFprobePath:           cfg.FFprobePath,
		TempDir:               cfg.TranscodeTempDir,
		UploadPrefix:          "uploads",
		SegmentSeconds:        cfg.TranscodeSegmentSeconds,
		Encoder:               cfg.TranscodeEncoder,
		MinFreeDiskBytes:      cfg.TranscodeMinFreeDiskBytes,
		MaxMemPercent:         cfg.TranscodeMaxMemPercent,
		MaxLoadAverage:        cfg.TranscodeMaxLoadAverage,
		CapacityCheckInterval: cfg.TranscodeCapacityCheckInterval,
	}, store, storage, webhookSvc, recorder, logger)

	rateLimiter := ratelimit.NewShardedLimiter(cfg.RateLimitShardCount, cfg.TaskRateLimitPerSecond, cfg.RateLimitBurst, 10*time.Minute)

	handlers := map[models.TaskType]worker.Handler{
		models.TaskVideoTranscode:    orchestrator.Handle,
		models.TaskContentModeration: pluginSvc.HandleContentModeration,
		models.TaskPluginExecution:   pluginSvc.Handle,
		models.TaskGenerateEmbedding: embeddingSvc.Handle,
		models.TaskWorkflowStep:      workflowEngine.Handle,
	}
	taskTypes := make([]models.TaskType, 0, len(handlers))
	for t := range handlers {
		taskTypes = append(taskTypes, t)
	}

	workerPool := worker.NewPool(worker.Config{
		Queue:         tasks,
		Handlers:      handlers,
		TaskTypes:     taskTypes,
		WorkerCount:   cfg.WorkerCount,
		PollInterval:  cfg.WorkerPollInterval,
		LeaseDuration: cfg.TaskLeaseDuration,
		BackoffBase:   cfg.TaskBackoffBase,
		BackoffCap:    cfg.TaskBackoffCap,
		RateLimiter:   rateLimiter,
		Metrics:       recorder,
		Logger:        logger,
	})

	cleanupSvc := cleanup.NewService(store, storage, tasks, cfg.TaskRetention, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopCleanup := cleanupSvc.Start(runCtx, cfg.CleanupInterval)
	go webhookRetry.Run(runCtx)

	logger.Info("mindia worker started", "worker_count", cfg.WorkerCount, "task_types", len(taskTypes))
	workerPool.Start()

	<-runCtx.Done()
	logger.Info("shutdown signal received, draining worker pool")
	stopCleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker pool shutdown error", "error", err)
	}
	logger.Info("mindia worker stopped")
}
