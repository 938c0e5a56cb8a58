// Package metrics exposes the process's Prometheus metrics.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps a dedicated Prometheus registry with the counters and
// histograms this service exposes. A dedicated registry (rather than the
// global default) keeps tests isolated from one another.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	tasksEnqueued  *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	tasksInFlight  prometheus.Gauge

	webhookDeliveries *prometheus.CounterVec
	webhookRetryDepth prometheus.Gauge

	transcodeJobs    *prometheus.CounterVec
	activeTranscodes prometheus.Gauge

	pluginExecutions *prometheus.CounterVec
}

var defaultRecorder = New()

// New constructs a Recorder backed by a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindia_http_requests_total",
			Help: "Total number of HTTP requests processed by the API.",
		}, []string{"method", "path", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindia_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		tasksEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindia_tasks_enqueued_total",
			Help: "Total tasks submitted to the task queue by task type.",
		}, []string{"task_type"}),

		tasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindia_tasks_completed_total",
			Help: "Total tasks completed successfully by task type.",
		}, []string{"task_type"}),

		tasksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindia_tasks_failed_total",
			Help: "Total tasks that exhausted retries and failed by task type.",
		}, []string{"task_type"}),

		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindia_task_duration_seconds",
			Help:    "Task handler execution duration in seconds by task type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_type"}),

		tasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mindia_tasks_in_flight",
			Help: "Current number of tasks leased by a worker.",
		}),

		webhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindia_webhook_deliveries_total",
			Help: "Total webhook delivery attempts by event type and outcome.",
		}, []string{"event_type", "outcome"}),

		webhookRetryDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mindia_webhook_retry_queue_depth",
			Help: "Current number of webhook deliveries awaiting retry.",
		}),

		transcodeJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindia_transcode_jobs_total",
			Help: "Total video transcode jobs by outcome.",
		}, []string{"outcome"}),

		activeTranscodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mindia_transcode_jobs_active",
			Help: "Current number of transcode jobs in progress.",
		}),

		pluginExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindia_plugin_executions_total",
			Help: "Total plugin executions by plugin name and outcome.",
		}, []string{"plugin", "outcome"}),
	}
}

// Default returns the singleton Recorder shared by packages that do not
// require a private registry.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records one HTTP request's outcome and latency.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": strings.ToUpper(method),
		"path":   normalizePath(path),
		"status": http.StatusText(status),
	}
	if labels["status"] == "" {
		labels["status"] = "unknown"
	}
	r.requestsTotal.With(labels).Inc()
	r.requestDuration.With(labels).Observe(duration.Seconds())
}

// TaskEnqueued increments the enqueue counter for taskType.
func (r *Recorder) TaskEnqueued(taskType string) {
	r.tasksEnqueued.WithLabelValues(taskType).Inc()
}

// TaskLeased marks one more task as in flight.
func (r *Recorder) TaskLeased() {
	r.tasksInFlight.Inc()
}

// TaskCompleted records a successful task handler run and its duration.
func (r *Recorder) TaskCompleted(taskType string, duration time.Duration) {
	r.tasksCompleted.WithLabelValues(taskType).Inc()
	r.taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
	r.tasksInFlight.Dec()
}

// TaskFailed records a task handler run that exhausted its retry budget.
func (r *Recorder) TaskFailed(taskType string, duration time.Duration) {
	r.tasksFailed.WithLabelValues(taskType).Inc()
	r.taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
	r.tasksInFlight.Dec()
}

// WebhookDelivered records the outcome of one webhook delivery attempt.
func (r *Recorder) WebhookDelivered(eventType, outcome string) {
	r.webhookDeliveries.WithLabelValues(eventType, outcome).Inc()
}

// SetWebhookRetryQueueDepth sets the current retry queue depth gauge.
func (r *Recorder) SetWebhookRetryQueueDepth(depth int) {
	r.webhookRetryDepth.Set(float64(depth))
}

// TranscodeJobStarted increments the active transcode gauge.
func (r *Recorder) TranscodeJobStarted() {
	r.activeTranscodes.Inc()
}

// TranscodeJobFinished records a finished transcode job's outcome and
// decrements the active gauge.
func (r *Recorder) TranscodeJobFinished(outcome string) {
	r.transcodeJobs.WithLabelValues(outcome).Inc()
	r.activeTranscodes.Dec()
}

// PluginExecuted records the outcome of one plugin execution.
func (r *Recorder) PluginExecuted(plugin, outcome string) {
	r.pluginExecutions.WithLabelValues(plugin, outcome).Inc()
}

// Handler exposes the Recorder's registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Handler exposes the default Recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// normalizePath collapses path segments that look like identifiers so the
// request label cardinality stays bounded regardless of how many distinct
// tenant/media/task IDs pass through the router.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}
