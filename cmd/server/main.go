// Command server runs mindia's HTTP API: media ingest, catalog browsing,
// search, folders, webhooks, plugins, and workflows (spec §6). It performs
// no background task processing itself; cmd/worker drains the task queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindia/internal/api"
	"mindia/internal/auth"
	"mindia/internal/catalog"
	"mindia/internal/config"
	"mindia/internal/crypto"
	"mindia/internal/embedding"
	"mindia/internal/ingest"
	"mindia/internal/models"
	"mindia/internal/objectstore"
	"mindia/internal/observability/logging"
	"mindia/internal/observability/metrics"
	"mindia/internal/plugin"
	"mindia/internal/ratelimit"
	"mindia/internal/serverutil"
	"mindia/internal/taskqueue"
	"mindia/internal/webhook"
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

	if err := catalog.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logger.Error("running migrations", "error", err)
		os.Exit(1)
	}

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
	apiKeyAuth := auth.NewAPIKeyAuthenticator(store, 10, 15*time.Minute)

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

	webhookSvc := webhook.NewService(store, ssrf, webhook.Config{
		DeliveryTimeout:        cfg.WebhookDeliveryTimeout,
		RetryBackoffBase:       cfg.WebhookBackoffBase,
		RetryBackoffCap:        cfg.WebhookBackoffCap,
		MaxRetries:             cfg.WebhookMaxRetries,
		MaxConsecutiveFailures: cfg.WebhookMaxConsecutiveFailures,
	}, recorder, logger)

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

	ingestCfg := ingest.NewConfig(cfg.MaxUploadBytes, cfg.DefaultStorePermanently, cfg.DefaultExpiryDuration, cfg.URLUploadTimeout)
	ingestCfg.AntivirusEnabled = cfg.AntivirusEnabled
	ingestCfg.AntivirusFailClosed = cfg.AntivirusFailClosed
	ingestCfg.RemoveEXIF = cfg.RemoveEXIF
	ingestCfg.SemanticSearchEnabled = cfg.SemanticSearchEnabled
	ingestCfg.PresignedUploadExpiry = cfg.PresignedUploadExpiry

	coordinator := ingest.NewCoordinator(store, tasks, storage, storageBackend(cfg.StorageBackend), webhookSvc, ingest.NoopScanner{}, ingestCfg, recorder, logger)

	rateLimiter := ratelimit.NewShardedLimiter(cfg.RateLimitShardCount, cfg.RateLimitRequestsPerSecond, cfg.RateLimitBurst, 10*time.Minute)

	srv := api.NewServer(api.ServerConfig{
		Logger:             logger,
		Metrics:            recorder,
		Authenticator:      apiKeyAuth,
		MasterAPIKey:       cfg.MasterAPIKey,
		RateLimiter:        rateLimiter,
		CSRFSecret:         cfg.CSRFSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Development:        cfg.Development,
		DB:                 pool,
	})

	api.MountMedia(srv.APIRouter, coordinator, store, ssrf)
	api.MountUploads(srv.APIRouter, coordinator, store)
	api.MountSearch(srv.APIRouter, embeddingSvc)
	api.MountFolders(srv.APIRouter, store)
	api.MountWebhooks(srv.APIRouter, store)
	api.MountPlugins(srv.APIRouter, store, pluginSvc, cryptoSvc, logger)
	api.MountWorkflows(srv.APIRouter, store, workflowEngine)
	api.MountAnalytics(srv.APIRouter, store)
	api.MountPresets(srv.APIRouter, store)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mindia server listening", "addr", cfg.ListenAddr())
	if err := serverutil.Run(runCtx, serverutil.Config{
		Server:          httpServer,
		ShutdownTimeout: serverutil.DefaultShutdownTimeout,
	}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("mindia server stopped")
}

// storageBackend maps the configured backend name to the models enum
// recorded on every StorageLocation.
func storageBackend(name string) models.StorageBackend {
	switch name {
	case "s3":
		return models.BackendS3
	case "nfs":
		return models.BackendNFS
	default:
		return models.BackendLocal
	}
}
