package webhook

import (
	"context"
	"log/slog"
	"time"

	"mindia/internal/models"
)

// RetryService runs the background loop from spec §4.J: every RetryInterval
// it selects due retries, re-delivers the original payload, and either
// reschedules with the next backoff step or marks the event terminally
// failed once the retry budget is exhausted.
type RetryService struct {
	service *Service
	store   Store
	cfg     Config
	logger  *slog.Logger
}

// NewRetryService builds a RetryService over the same Store and Config the
// delivery Service uses.
func NewRetryService(service *Service, store Store, cfg Config, logger *slog.Logger) *RetryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryService{service: service, store: store, cfg: cfg.withDefaults(), logger: logger}
}

// Run blocks, ticking every cfg.RetryInterval until ctx is cancelled.
func (r *RetryService) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *RetryService) tick(ctx context.Context) {
	due, err := r.store.DueWebhookRetries(ctx, 100)
	if err != nil {
		r.logger.Error("listing due webhook retries", "error", err)
		return
	}
	for _, item := range due {
		r.retryOne(ctx, item)
	}
	if r.service != nil && r.service.metrics != nil {
		if depth, err := r.store.CountPendingWebhookRetries(ctx); err == nil {
			r.service.metrics.SetWebhookRetryQueueDepth(depth)
		}
	}
}

// retryOne re-delivers a single due retry, loading the webhook row and the
// original event log for its payload bytes, then branches on success,
// budget-exhausted failure, and reschedulable failure.
func (r *RetryService) retryOne(ctx context.Context, item models.WebhookRetryQueueItem) {
	hook, err := r.store.GetWebhook(ctx, item.WebhookID)
	if err != nil {
		r.logger.Error("loading webhook for retry", "webhook_id", item.WebhookID, "error", err)
		return
	}
	log, err := r.store.GetWebhookEventLog(ctx, item.WebhookEventID)
	if err != nil {
		r.logger.Error("loading webhook event log for retry", "event_log_id", item.WebhookEventID, "error", err)
		return
	}

	nextCount := item.RetryCount + 1

	status, deliverErr := r.service.redeliver(ctx, hook, log.Payload)
	if deliverErr == nil {
		_ = r.store.UpdateWebhookEventLogStatus(ctx, log.ID, models.WebhookEventSuccess, &status, nextCount)
		_ = r.store.ResetWebhookFailures(ctx, hook.ID)
		_ = r.store.DeleteWebhookRetry(ctx, item.ID)
		if r.service.metrics != nil {
			r.service.metrics.WebhookDelivered(log.EventType, "retry_success")
		}
		return
	}

	if nextCount >= item.MaxRetries {
		_ = r.store.UpdateWebhookEventLogStatus(ctx, log.ID, models.WebhookEventFailed, responseStatusPtr(status), nextCount)
		if err := r.store.DeleteWebhookRetry(ctx, item.ID); err != nil {
			r.logger.Error("deleting exhausted webhook retry", "retry_id", item.ID, "error", err)
		}
		if err := r.store.RecordWebhookFailure(ctx, hook.ID, r.cfg.MaxConsecutiveFailures, "exhausted retry budget"); err != nil {
			r.logger.Error("recording webhook failure", "webhook_id", hook.ID, "error", err)
		}
		if r.service.metrics != nil {
			r.service.metrics.WebhookDelivered(log.EventType, "retry_exhausted")
		}
		return
	}

	_ = r.store.UpdateWebhookEventLogStatus(ctx, log.ID, models.WebhookEventRetrying, responseStatusPtr(status), nextCount)
	delay := retryBackoff(nextCount, r.cfg.RetryBackoffBase, r.cfg.RetryBackoffCap)
	if _, err := r.store.EnqueueWebhookRetry(ctx, models.WebhookRetryQueueItem{
		WebhookEventID: item.WebhookEventID,
		WebhookID:      item.WebhookID,
		TenantID:       item.TenantID,
		RetryCount:     nextCount,
		MaxRetries:     item.MaxRetries,
		NextRetryAt:    time.Now().Add(delay),
		LastError:      deliverErr.Error(),
	}); err != nil {
		r.logger.Error("rescheduling webhook retry", "retry_id", item.ID, "error", err)
	}
	if r.service.metrics != nil {
		r.service.metrics.WebhookDelivered(log.EventType, "retry_scheduled")
	}
}
