package catalog

import (
	"context"

	"github.com/google/uuid"

	"mindia/internal/apperror"
	"mindia/internal/models"
)

// CreateWebhook registers a new tenant-scoped webhook target.
func (s *Store) CreateWebhook(ctx context.Context, w models.Webhook) (models.Webhook, error) {
	w.ID = uuid.NewString()
	const q = `
		INSERT INTO webhooks (id, tenant_id, url, event_type, signing_secret, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING ` + webhookColumns
	return scanWebhook(s.pool.QueryRow(ctx, q, w.ID, w.TenantID, w.URL, w.EventType, nullString(w.SigningSecret)))
}

// ListActiveWebhooksForEvent returns every active webhook a tenant has
// registered for eventType, the set the delivery step fans out to.
func (s *Store) ListActiveWebhooksForEvent(ctx context.Context, tenantID, eventType string) ([]models.Webhook, error) {
	const q = `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE tenant_id = $1 AND event_type = $2 AND is_active = true`
	rows, err := s.pool.Query(ctx, q, tenantID, eventType)
	if err != nil {
		return nil, mapErr(err, "webhook")
	}
	defer rows.Close()

	var out []models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, mapErr(err, "webhook")
		}
		out = append(out, w)
	}
	return out, mapErr(rows.Err(), "webhook")
}

// ListWebhooks returns every webhook registered by a tenant.
func (s *Store) ListWebhooks(ctx context.Context, tenantID string) ([]models.Webhook, error) {
	const q = `SELECT ` + webhookColumns + ` FROM webhooks WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, mapErr(err, "webhook")
	}
	defer rows.Close()

	var out []models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, mapErr(err, "webhook")
		}
		out = append(out, w)
	}
	return out, mapErr(rows.Err(), "webhook")
}

// GetWebhook fetches one webhook by ID, regardless of tenant, used by the
// retry loop which only carries a webhook_id on its queue rows.
func (s *Store) GetWebhook(ctx context.Context, id string) (models.Webhook, error) {
	const q = `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1`
	w, err := scanWebhook(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return models.Webhook{}, mapErr(err, "webhook")
	}
	return w, nil
}

// GetWebhookEventLog fetches one delivery log row by ID, used by the retry
// loop to recover the original payload bytes for re-delivery.
func (s *Store) GetWebhookEventLog(ctx context.Context, id string) (models.WebhookEventLog, error) {
	const q = `SELECT ` + eventLogColumns + ` FROM webhook_event_logs WHERE id = $1`
	l, err := scanEventLog(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return models.WebhookEventLog{}, mapErr(err, "webhook_event_log")
	}
	return l, nil
}

// DeleteWebhook removes a tenant's webhook registration.
func (s *Store) DeleteWebhook(ctx context.Context, tenantID, id string) error {
	const q = `DELETE FROM webhooks WHERE tenant_id = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, tenantID, id)
	if err != nil {
		return mapErr(err, "webhook")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("webhook not found")
	}
	return nil
}

// RecordWebhookFailure increments a webhook's consecutive-failure counter,
// and deactivates it once threshold is reached.
func (s *Store) RecordWebhookFailure(ctx context.Context, id string, threshold int, reason string) error {
	const q = `
		UPDATE webhooks SET
			consecutive_failures = consecutive_failures + 1,
			is_active = CASE WHEN consecutive_failures + 1 >= $2 THEN false ELSE is_active END,
			deactivated_at = CASE WHEN consecutive_failures + 1 >= $2 THEN now() ELSE deactivated_at END,
			deactivation_reason = CASE WHEN consecutive_failures + 1 >= $2 THEN $3 ELSE deactivation_reason END
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, threshold, reason)
	return mapErr(err, "webhook")
}

// ResetWebhookFailures clears a webhook's consecutive-failure counter after
// a successful delivery.
func (s *Store) ResetWebhookFailures(ctx context.Context, id string) error {
	const q = `UPDATE webhooks SET consecutive_failures = 0 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	return mapErr(err, "webhook")
}

// CreateWebhookEventLog records one delivery attempt's starting state.
func (s *Store) CreateWebhookEventLog(ctx context.Context, l models.WebhookEventLog) (models.WebhookEventLog, error) {
	l.ID = uuid.NewString()
	const q = `
		INSERT INTO webhook_event_logs (id, webhook_id, tenant_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + eventLogColumns
	return scanEventLog(s.pool.QueryRow(ctx, q, l.ID, l.WebhookID, l.TenantID, l.EventType, l.Payload, l.Status))
}

// UpdateWebhookEventLogStatus records the outcome of one delivery attempt.
func (s *Store) UpdateWebhookEventLogStatus(ctx context.Context, id string, status models.WebhookEventStatus, responseStatus *int, retryCount int) error {
	const q = `
		UPDATE webhook_event_logs SET status = $2, response_status = $3, retry_count = $4, updated_at = now()
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, status, responseStatus, retryCount)
	return mapErr(err, "webhook_event_log")
}

// EnqueueWebhookRetry inserts the at-most-one-active-retry row for a failed
// delivery.
func (s *Store) EnqueueWebhookRetry(ctx context.Context, item models.WebhookRetryQueueItem) (models.WebhookRetryQueueItem, error) {
	item.ID = uuid.NewString()
	const q = `
		INSERT INTO webhook_retry_queue (id, webhook_event_id, webhook_id, tenant_id, retry_count, max_retries, next_retry_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (webhook_event_id) DO UPDATE SET
			retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at, last_error = excluded.last_error
		RETURNING ` + retryColumns
	return scanRetryItem(s.pool.QueryRow(ctx, q, item.ID, item.WebhookEventID, item.WebhookID, item.TenantID, item.RetryCount, item.MaxRetries, item.NextRetryAt, nullString(item.LastError)))
}

// DueWebhookRetries returns retry rows whose next_retry_at has elapsed.
func (s *Store) DueWebhookRetries(ctx context.Context, limit int) ([]models.WebhookRetryQueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + retryColumns + ` FROM webhook_retry_queue WHERE next_retry_at <= now() ORDER BY next_retry_at LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, mapErr(err, "webhook_retry_queue")
	}
	defer rows.Close()

	var out []models.WebhookRetryQueueItem
	for rows.Next() {
		item, err := scanRetryItem(rows)
		if err != nil {
			return nil, mapErr(err, "webhook_retry_queue")
		}
		out = append(out, item)
	}
	return out, mapErr(rows.Err(), "webhook_retry_queue")
}

// DeleteWebhookRetry removes a retry row, either because delivery succeeded
// or the retry budget was exhausted.
func (s *Store) DeleteWebhookRetry(ctx context.Context, id string) error {
	const q = `DELETE FROM webhook_retry_queue WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	return mapErr(err, "webhook_retry_queue")
}

// CountPendingWebhookRetries reports the retry queue's depth, used to feed
// the retry-queue-depth gauge.
func (s *Store) CountPendingWebhookRetries(ctx context.Context) (int, error) {
	const q = `SELECT count(*) FROM webhook_retry_queue`
	var n int
	err := s.pool.QueryRow(ctx, q).Scan(&n)
	return n, mapErr(err, "webhook_retry_queue")
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const webhookColumns = `
	id, tenant_id, url, event_type, coalesce(signing_secret, ''), is_active,
	deactivated_at, coalesce(deactivation_reason, ''), consecutive_failures, created_at`

func scanWebhook(row rowScanner) (models.Webhook, error) {
	var w models.Webhook
	err := row.Scan(
		&w.ID, &w.TenantID, &w.URL, &w.EventType, &w.SigningSecret, &w.IsActive,
		&w.DeactivatedAt, &w.DeactivationReason, &w.ConsecutiveFailures, &w.CreatedAt,
	)
	return w, err
}

const eventLogColumns = `
	id, webhook_id, tenant_id, event_type, payload, status, response_status,
	retry_count, created_at, updated_at`

func scanEventLog(row rowScanner) (models.WebhookEventLog, error) {
	var l models.WebhookEventLog
	err := row.Scan(
		&l.ID, &l.WebhookID, &l.TenantID, &l.EventType, &l.Payload, &l.Status,
		&l.ResponseStatus, &l.RetryCount, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

const retryColumns = `
	id, webhook_event_id, webhook_id, tenant_id, retry_count, max_retries,
	next_retry_at, coalesce(last_error, '')`

func scanRetryItem(row rowScanner) (models.WebhookRetryQueueItem, error) {
	var item models.WebhookRetryQueueItem
	err := row.Scan(
		&item.ID, &item.WebhookEventID, &item.WebhookID, &item.TenantID,
		&item.RetryCount, &item.MaxRetries, &item.NextRetryAt, &item.LastError,
	)
	return item, err
}
