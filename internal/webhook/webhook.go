// Package webhook is the outbound event delivery subsystem (spec §4.I/4.J):
// it resolves a tenant's active webhook registrations for an event type,
// builds the canonical payload, SSRF-validates the target, signs the body,
// and POSTs it with a per-webhook timeout, queuing a backoff retry on
// failure. New domain logic grounded on the mindia-core webhook model and
// the teacher's outbound-HTTP-with-rollback idiom in
// internal/ingest/http_controller.go, generalized from a fire-and-forget
// provisioning call to a signed, retried delivery.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mindia/internal/apperror"
	"mindia/internal/auth"
	"mindia/internal/catalog"
	"mindia/internal/models"
	"mindia/internal/observability/metrics"
)

var _ Store = (*catalog.Store)(nil)

// Store is the subset of *catalog.Store the webhook service needs, narrowed
// to an interface so delivery and retry logic can be tested without a live
// database.
type Store interface {
	ListActiveWebhooksForEvent(ctx context.Context, tenantID, eventType string) ([]models.Webhook, error)
	GetWebhook(ctx context.Context, id string) (models.Webhook, error)
	CreateWebhookEventLog(ctx context.Context, l models.WebhookEventLog) (models.WebhookEventLog, error)
	GetWebhookEventLog(ctx context.Context, id string) (models.WebhookEventLog, error)
	UpdateWebhookEventLogStatus(ctx context.Context, id string, status models.WebhookEventStatus, responseStatus *int, retryCount int) error
	EnqueueWebhookRetry(ctx context.Context, item models.WebhookRetryQueueItem) (models.WebhookRetryQueueItem, error)
	DueWebhookRetries(ctx context.Context, limit int) ([]models.WebhookRetryQueueItem, error)
	DeleteWebhookRetry(ctx context.Context, id string) error
	RecordWebhookFailure(ctx context.Context, id string, threshold int, reason string) error
	ResetWebhookFailures(ctx context.Context, id string) error
	CountPendingWebhookRetries(ctx context.Context) (int, error)
}

// Config controls delivery timeouts, retry backoff, and deactivation policy.
type Config struct {
	DeliveryTimeout           time.Duration
	RetryBackoffBase          time.Duration
	RetryBackoffCap           time.Duration
	MaxRetries                int
	MaxConsecutiveFailures    int
	RetryInterval             time.Duration
	ResponseBodyTruncateBytes int
}

const (
	defaultDeliveryTimeout        = 10 * time.Second
	defaultRetryBackoffBase       = 30 * time.Second
	defaultRetryBackoffCap        = time.Hour
	defaultMaxRetries             = 8
	defaultMaxConsecutiveFailures = 10
	defaultRetryInterval          = 30 * time.Second
	defaultResponseBodyTruncate   = 2048
)

func (c Config) withDefaults() Config {
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = defaultDeliveryTimeout
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = defaultRetryBackoffBase
	}
	if c.RetryBackoffCap <= 0 {
		c.RetryBackoffCap = defaultRetryBackoffCap
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.ResponseBodyTruncateBytes <= 0 {
		c.ResponseBodyTruncateBytes = defaultResponseBodyTruncate
	}
	return c
}

// Service delivers webhook events and runs the retry loop.
type Service struct {
	store      Store
	ssrf       *auth.SSRFValidator
	httpClient *http.Client
	cfg        Config
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// NewService builds a Service. ssrf and logger default when nil.
func NewService(store Store, ssrf *auth.SSRFValidator, cfg Config, rec *metrics.Recorder, logger *slog.Logger) *Service {
	if ssrf == nil {
		ssrf = auth.NewSSRFValidator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Service{
		store:      store,
		ssrf:       ssrf,
		httpClient: &http.Client{Timeout: cfg.DeliveryTimeout},
		cfg:        cfg,
		metrics:    rec,
		logger:     logger,
	}
}

// hookPayload is the canonical JSON body delivered to every webhook target.
type hookPayload struct {
	Hook      hookInfo       `json:"hook"`
	Data      map[string]any `json:"data"`
	Initiator initiatorInfo  `json:"initiator"`
}

type hookInfo struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Target    string    `json:"target"`
	Project   string    `json:"project"`
	CreatedAt time.Time `json:"created_at"`
}

type initiatorInfo struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Emit resolves every active webhook a tenant has registered for eventType
// and delivers to each independently; one target's failure (queued for
// retry) never blocks another's delivery.
func (s *Service) Emit(ctx context.Context, tenantID, eventType string, data map[string]any) error {
	hooks, err := s.store.ListActiveWebhooksForEvent(ctx, tenantID, eventType)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		if err := s.deliverOne(ctx, hook, eventType, data); err != nil {
			s.logger.Warn("webhook delivery failed", "webhook_id", hook.ID, "event", eventType, "error", err)
		}
	}
	return nil
}

// deliverOne implements spec step 3-6 for a single webhook target: SSRF
// validation, payload signing, POST, and recording the outcome.
func (s *Service) deliverOne(ctx context.Context, hook models.Webhook, eventType string, data map[string]any) error {
	payload := hookPayload{
		Hook: hookInfo{
			ID:        hook.ID,
			Event:     eventType,
			Target:    hook.URL,
			Project:   hook.TenantID,
			CreatedAt: time.Now().UTC(),
		},
		Data:      data,
		Initiator: initiatorInfo{Type: "system", ID: hook.TenantID},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return apperror.Internal(err)
	}

	log, err := s.store.CreateWebhookEventLog(ctx, models.WebhookEventLog{
		WebhookID: hook.ID,
		TenantID:  hook.TenantID,
		EventType: eventType,
		Payload:   body,
		Status:    models.WebhookEventPending,
	})
	if err != nil {
		return err
	}

	if err := s.ssrf.Validate(ctx, hook.URL, auth.PolicyWebhook); err != nil {
		_ = s.store.UpdateWebhookEventLogStatus(ctx, log.ID, models.WebhookEventFailed, nil, 0)
		s.recordOutcome(ctx, hook.ID, eventType, "ssrf_rejected")
		return err
	}

	status, deliverErr := s.post(ctx, hook, body)
	if deliverErr == nil {
		_ = s.store.UpdateWebhookEventLogStatus(ctx, log.ID, models.WebhookEventSuccess, &status, 0)
		_ = s.store.ResetWebhookFailures(ctx, hook.ID)
		s.recordOutcome(ctx, hook.ID, eventType, "success")
		return nil
	}

	_ = s.store.UpdateWebhookEventLogStatus(ctx, log.ID, models.WebhookEventRetrying, responseStatusPtr(status), 0)
	s.recordOutcome(ctx, hook.ID, eventType, "retry_scheduled")
	_, queueErr := s.store.EnqueueWebhookRetry(ctx, models.WebhookRetryQueueItem{
		WebhookEventID: log.ID,
		WebhookID:      hook.ID,
		TenantID:       hook.TenantID,
		RetryCount:     0,
		MaxRetries:     s.cfg.MaxRetries,
		NextRetryAt:    time.Now().Add(retryBackoff(0, s.cfg.RetryBackoffBase, s.cfg.RetryBackoffCap)),
		LastError:      deliverErr.Error(),
	})
	if queueErr != nil {
		return queueErr
	}
	return deliverErr
}

// redeliver re-sends the original payload bytes recorded in an event log,
// used by RetryService instead of rebuilding the payload from scratch.
func (s *Service) redeliver(ctx context.Context, hook models.Webhook, body []byte) (int, error) {
	return s.post(ctx, hook, body)
}

func responseStatusPtr(status int) *int {
	if status == 0 {
		return nil
	}
	return &status
}

func (s *Service) recordOutcome(ctx context.Context, webhookID, eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookDelivered(eventType, outcome)
	}
	if outcome == "retry_scheduled" {
		if err := s.store.RecordWebhookFailure(ctx, webhookID, s.cfg.MaxConsecutiveFailures, "exceeded consecutive delivery failure threshold"); err != nil {
			s.logger.Error("recording webhook failure", "webhook_id", webhookID, "error", err)
		}
	}
}

// post signs and sends one delivery attempt, returning the response status
// code (0 if the request never got a response) and an error describing any
// failure, including non-2xx responses.
func (s *Service) post(ctx context.Context, hook models.Webhook, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, apperror.InvalidInput("malformed webhook URL").WithDetail(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if hook.SigningSecret != "" {
		req.Header.Set("X-Webhook-Signature", signPayload(hook.SigningSecret, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, apperror.UpstreamTimeout(fmt.Errorf("delivering webhook: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, int64(s.cfg.ResponseBodyTruncateBytes)))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, apperror.UpstreamTimeout(fmt.Errorf("webhook target returned %d: %s", resp.StatusCode, respBody))
	}
	return resp.StatusCode, nil
}

// signPayload computes the X-Webhook-Signature header value: "sha256="
// followed by the hex-encoded HMAC-SHA256 of the canonical JSON body.
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// retryBackoff computes the delay before the (retryCount+1)th retry,
// doubling from base and capped, matching spec's "2^retry_count x base".
func retryBackoff(retryCount int, base, cap time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	shift := uint(retryCount)
	if shift > 32 {
		return cap
	}
	delay := base << shift
	if delay <= 0 || delay > cap {
		return cap
	}
	return delay
}
