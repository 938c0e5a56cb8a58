package webhook

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mindia/internal/auth"
	"mindia/internal/models"
	"mindia/internal/observability/metrics"
)

type fakeWebhookStore struct {
	hooks      map[string]models.Webhook
	eventLogs  map[string]models.WebhookEventLog
	retries    map[string]models.WebhookRetryQueueItem
	failures   map[string]int
	deactivate map[string]bool
}

func newFakeWebhookStore() *fakeWebhookStore {
	return &fakeWebhookStore{
		hooks:      map[string]models.Webhook{},
		eventLogs:  map[string]models.WebhookEventLog{},
		retries:    map[string]models.WebhookRetryQueueItem{},
		failures:   map[string]int{},
		deactivate: map[string]bool{},
	}
}

func (f *fakeWebhookStore) ListActiveWebhooksForEvent(ctx context.Context, tenantID, eventType string) ([]models.Webhook, error) {
	var out []models.Webhook
	for _, h := range f.hooks {
		if h.TenantID == tenantID && h.EventType == eventType && h.IsActive {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeWebhookStore) GetWebhook(ctx context.Context, id string) (models.Webhook, error) {
	return f.hooks[id], nil
}

func (f *fakeWebhookStore) CreateWebhookEventLog(ctx context.Context, l models.WebhookEventLog) (models.WebhookEventLog, error) {
	l.ID = "log-" + l.WebhookID
	f.eventLogs[l.ID] = l
	return l, nil
}

func (f *fakeWebhookStore) GetWebhookEventLog(ctx context.Context, id string) (models.WebhookEventLog, error) {
	return f.eventLogs[id], nil
}

func (f *fakeWebhookStore) UpdateWebhookEventLogStatus(ctx context.Context, id string, status models.WebhookEventStatus, responseStatus *int, retryCount int) error {
	l := f.eventLogs[id]
	l.Status = status
	l.ResponseStatus = responseStatus
	l.RetryCount = retryCount
	f.eventLogs[id] = l
	return nil
}

func (f *fakeWebhookStore) EnqueueWebhookRetry(ctx context.Context, item models.WebhookRetryQueueItem) (models.WebhookRetryQueueItem, error) {
	if item.ID == "" {
		item.ID = "retry-" + item.WebhookEventID
	}
	f.retries[item.WebhookEventID] = item
	return item, nil
}

func (f *fakeWebhookStore) DueWebhookRetries(ctx context.Context, limit int) ([]models.WebhookRetryQueueItem, error) {
	var out []models.WebhookRetryQueueItem
	for _, r := range f.retries {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeWebhookStore) DeleteWebhookRetry(ctx context.Context, id string) error {
	for k, r := range f.retries {
		if r.ID == id {
			delete(f.retries, k)
		}
	}
	return nil
}

func (f *fakeWebhookStore) RecordWebhookFailure(ctx context.Context, id string, threshold int, reason string) error {
	f.failures[id]++
	if f.failures[id] >= threshold {
		f.deactivate[id] = true
	}
	return nil
}

func (f *fakeWebhookStore) ResetWebhookFailures(ctx context.Context, id string) error {
	f.failures[id] = 0
	return nil
}

func (f *fakeWebhookStore) CountPendingWebhookRetries(ctx context.Context) (int, error) {
	return len(f.retries), nil
}

func loopbackSSRF() *auth.SSRFValidator {
	return auth.NewSSRFValidator().WithResolver(fakeResolver{})
}

type fakeResolver struct{}

func (fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

func TestEmitDeliversToActiveHooksAndRecordsSuccess(t *testing.T) {
	var received hookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	store.hooks["hook-1"] = models.Webhook{ID: "hook-1", TenantID: "tenant-1", URL: srv.URL, EventType: "file.processing_completed", IsActive: true}

	svc := NewService(store, loopbackSSRF(), Config{}, metrics.New(), nil)
	if err := svc.Emit(context.Background(), "tenant-1", "file.processing_completed", map[string]any{"media_id": "m-1"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if received.Hook.ID != "hook-1" || received.Hook.Event != "file.processing_completed" {
		t.Fatalf("unexpected payload: %+v", received)
	}
	if store.eventLogs["log-hook-1"].Status != models.WebhookEventSuccess {
		t.Fatalf("expected success log, got %+v", store.eventLogs["log-hook-1"])
	}
	if len(store.retries) != 0 {
		t.Fatalf("expected no retry enqueued on success")
	}
}

func TestDeliverOneSignsPayloadWhenSecretPresent(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	hook := models.Webhook{ID: "hook-2", TenantID: "tenant-1", URL: srv.URL, EventType: "file.processing_completed", IsActive: true, SigningSecret: "shh"}
	store.hooks[hook.ID] = hook

	svc := NewService(store, loopbackSSRF(), Config{}, metrics.New(), nil)
	if err := svc.deliverOne(context.Background(), hook, "file.processing_completed", map[string]any{}); err != nil {
		t.Fatalf("deliverOne: %v", err)
	}
	if gotSig == "" || gotSig[:7] != "sha256=" {
		t.Fatalf("expected signed header, got %q", gotSig)
	}
}

func TestDeliverOneEnqueuesRetryOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	hook := models.Webhook{ID: "hook-3", TenantID: "tenant-1", URL: srv.URL, EventType: "file.processing_completed", IsActive: true}
	store.hooks[hook.ID] = hook

	svc := NewService(store, loopbackSSRF(), Config{}, metrics.New(), nil)
	err := svc.deliverOne(context.Background(), hook, "file.processing_completed", map[string]any{})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if len(store.retries) != 1 {
		t.Fatalf("expected one retry enqueued, got %d", len(store.retries))
	}
}

func TestDeliverOneRejectsSSRFTarget(t *testing.T) {
	store := newFakeWebhookStore()
	hook := models.Webhook{ID: "hook-4", TenantID: "tenant-1", URL: "http://10.0.0.5/hook", EventType: "file.processing_completed", IsActive: true}
	store.hooks[hook.ID] = hook

	svc := NewService(store, auth.NewSSRFValidator(), Config{}, metrics.New(), nil)
	err := svc.deliverOne(context.Background(), hook, "file.processing_completed", map[string]any{})
	if err == nil {
		t.Fatal("expected SSRF rejection error")
	}
	if len(store.retries) != 0 {
		t.Fatal("SSRF rejection must never enqueue a retry")
	}
	if store.eventLogs["log-hook-4"].Status != models.WebhookEventFailed {
		t.Fatalf("expected failed log on SSRF rejection, got %+v", store.eventLogs["log-hook-4"])
	}
}

func TestSignPayloadIsDeterministicHMAC(t *testing.T) {
	sig1 := signPayload("secret", []byte("body"))
	sig2 := signPayload("secret", []byte("body"))
	if sig1 != sig2 {
		t.Fatal("expected deterministic signature")
	}
	if sig1[:7] != "sha256=" {
		t.Fatalf("expected sha256= prefix, got %q", sig1)
	}
	if signPayload("other", []byte("body")) == sig1 {
		t.Fatal("expected different secret to change signature")
	}
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	base := time.Second
	cap := 10 * time.Second
	if got := retryBackoff(0, base, cap); got != time.Second {
		t.Fatalf("retry 0: got %v", got)
	}
	if got := retryBackoff(2, base, cap); got != 4*time.Second {
		t.Fatalf("retry 2: got %v", got)
	}
	if got := retryBackoff(10, base, cap); got != cap {
		t.Fatalf("expected cap at high retry count, got %v", got)
	}
}

func TestRetryOneReschedulesOnContinuedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	hook := models.Webhook{ID: "hook-5", TenantID: "tenant-1", URL: srv.URL, EventType: "file.processing_completed", IsActive: true}
	store.hooks[hook.ID] = hook
	store.eventLogs["log-5"] = models.WebhookEventLog{ID: "log-5", WebhookID: hook.ID, TenantID: hook.TenantID, EventType: hook.EventType, Payload: []byte(`{}`), Status: models.WebhookEventRetrying}

	svc := NewService(store, loopbackSSRF(), Config{MaxRetries: 5}, metrics.New(), nil)
	retrySvc := NewRetryService(svc, store, Config{MaxRetries: 5}, nil)

	retrySvc.retryOne(context.Background(), models.WebhookRetryQueueItem{
		ID: "retry-5", WebhookEventID: "log-5", WebhookID: hook.ID, TenantID: hook.TenantID,
		RetryCount: 1, MaxRetries: 5, NextRetryAt: time.Now(),
	})

	if len(store.retries) != 1 {
		t.Fatalf("expected retry rescheduled, got %d entries", len(store.retries))
	}
	if store.eventLogs["log-5"].RetryCount != 2 {
		t.Fatalf("expected retry count incremented to 2, got %d", store.eventLogs["log-5"].RetryCount)
	}
}

func TestRetryOneExhaustsBudgetAndDeactivates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	hook := models.Webhook{ID: "hook-6", TenantID: "tenant-1", URL: srv.URL, EventType: "file.processing_completed", IsActive: true}
	store.hooks[hook.ID] = hook
	store.eventLogs["log-6"] = models.WebhookEventLog{ID: "log-6", WebhookID: hook.ID, TenantID: hook.TenantID, EventType: hook.EventType, Payload: []byte(`{}`), Status: models.WebhookEventRetrying}

	svc := NewService(store, loopbackSSRF(), Config{MaxConsecutiveFailures: 1}, metrics.New(), nil)
	retrySvc := NewRetryService(svc, store, Config{MaxConsecutiveFailures: 1}, nil)

	retrySvc.retryOne(context.Background(), models.WebhookRetryQueueItem{
		ID: "retry-6", WebhookEventID: "log-6", WebhookID: hook.ID, TenantID: hook.TenantID,
		RetryCount: 4, MaxRetries: 5, NextRetryAt: time.Now(),
	})

	if len(store.retries) != 0 {
		t.Fatalf("expected exhausted retry removed, got %d entries", len(store.retries))
	}
	if store.eventLogs["log-6"].Status != models.WebhookEventFailed {
		t.Fatalf("expected terminal failed status, got %v", store.eventLogs["log-6"].Status)
	}
	if !store.deactivate[hook.ID] {
		t.Fatal("expected webhook deactivated after exhausting retries past threshold")
	}
}

func TestRetryOneSucceedsAndClearsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeWebhookStore()
	hook := models.Webhook{ID: "hook-7", TenantID: "tenant-1", URL: srv.URL, EventType: "file.processing_completed", IsActive: true}
	store.hooks[hook.ID] = hook
	store.failures[hook.ID] = 3
	store.eventLogs["log-7"] = models.WebhookEventLog{ID: "log-7", WebhookID: hook.ID, TenantID: hook.TenantID, EventType: hook.EventType, Payload: []byte(`{}`), Status: models.WebhookEventRetrying}

	svc := NewService(store, loopbackSSRF(), Config{}, metrics.New(), nil)
	retrySvc := NewRetryService(svc, store, Config{}, nil)

	retrySvc.retryOne(context.Background(), models.WebhookRetryQueueItem{
		ID: "retry-7", WebhookEventID: "log-7", WebhookID: hook.ID, TenantID: hook.TenantID,
		RetryCount: 1, MaxRetries: 5, NextRetryAt: time.Now(),
	})

	if len(store.retries) != 0 {
		t.Fatal("expected retry row removed on success")
	}
	if store.eventLogs["log-7"].Status != models.WebhookEventSuccess {
		t.Fatalf("expected success status, got %v", store.eventLogs["log-7"].Status)
	}
	if store.failures[hook.ID] != 0 {
		t.Fatal("expected consecutive failures reset on success")
	}
}
