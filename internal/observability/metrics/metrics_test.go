package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequestNormalizesPath(t *testing.T) {
	r := New()
	r.ObserveRequest("get", "/media/01HXYZ1234567", 200, 50*time.Millisecond)

	count := testutil.CollectAndCount(r.requestsTotal)
	if count != 1 {
		t.Fatalf("expected exactly one request series, got %d", count)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"root", "/", "/"},
		{"empty", "", "/"},
		{"uuid segment collapses", "/media/550e8400-e29b-41d4-a716-446655440000", "/media/:id"},
		{"numeric id collapses", "/tasks/12345", "/tasks/:id"},
		{"short alpha segment kept", "/media/by/name", "/media/by/name"},
		{"trailing slash trimmed", "/media/", "/media"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizePath(tc.in); got != tc.want {
				t.Fatalf("normalizePath(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestTaskLifecycleCounters(t *testing.T) {
	r := New()
	r.TaskEnqueued("video_transcode")
	r.TaskLeased()
	r.TaskCompleted("video_transcode", 2*time.Second)

	if got := testutil.ToFloat64(r.tasksEnqueued.WithLabelValues("video_transcode")); got != 1 {
		t.Fatalf("expected 1 enqueued task, got %v", got)
	}
	if got := testutil.ToFloat64(r.tasksCompleted.WithLabelValues("video_transcode")); got != 1 {
		t.Fatalf("expected 1 completed task, got %v", got)
	}
	if got := testutil.ToFloat64(r.tasksInFlight); got != 0 {
		t.Fatalf("expected in-flight gauge to return to 0, got %v", got)
	}
}

func TestTaskFailureCounters(t *testing.T) {
	r := New()
	r.TaskLeased()
	r.TaskFailed("webhook_delivery", time.Second)

	if got := testutil.ToFloat64(r.tasksFailed.WithLabelValues("webhook_delivery")); got != 1 {
		t.Fatalf("expected 1 failed task, got %v", got)
	}
}

func TestWebhookAndTranscodeCounters(t *testing.T) {
	r := New()
	r.WebhookDelivered("media.ready", "success")
	r.SetWebhookRetryQueueDepth(3)
	r.TranscodeJobStarted()
	r.TranscodeJobFinished("completed")

	if got := testutil.ToFloat64(r.webhookDeliveries.WithLabelValues("media.ready", "success")); got != 1 {
		t.Fatalf("expected 1 webhook delivery, got %v", got)
	}
	if got := testutil.ToFloat64(r.webhookRetryDepth); got != 3 {
		t.Fatalf("expected retry queue depth 3, got %v", got)
	}
	if got := testutil.ToFloat64(r.activeTranscodes); got != 0 {
		t.Fatalf("expected active transcode gauge to return to 0, got %v", got)
	}
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	r := New()
	r.ObserveRequest("GET", "/healthz", 200, time.Millisecond)

	if r.Handler() == nil {
		t.Fatalf("expected non-nil handler")
	}
}
