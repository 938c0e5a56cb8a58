// Package worker is the fixed-size task-processing pool: each worker loops
// over the registered task types, checks a per-type rate limit, leases one
// task, dispatches it to its registered handler, and completes or fails it.
// The loop/janitor shape is grounded directly on the teacher's
// uploads_processor.go, generalized from an in-memory channel to leasing
// durable rows from internal/taskqueue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mindia/internal/apperror"
	"mindia/internal/models"
	"mindia/internal/observability/metrics"
	"mindia/internal/ratelimit"
	"mindia/internal/taskqueue"
)

// Handler processes one leased task's payload and returns a JSON-serializable
// result. Handlers must be idempotent at the semantic level: reprocessing a
// completed task must not duplicate side effects beyond normal retry
// semantics.
type Handler func(ctx context.Context, task models.Task) (any, error)

// Queue is the subset of *taskqueue.Queue the pool needs, narrowed to an
// interface so tests can exercise the dispatch loop against a fake.
type Queue interface {
	Lease(ctx context.Context, taskType models.TaskType, workerID string, leaseDuration time.Duration) (models.Task, bool, error)
	Complete(ctx context.Context, taskID, workerID string, result any) error
	Fail(ctx context.Context, taskID, workerID, errMsg string, backoffBase, backoffCap time.Duration) error
	ReclaimExpiredLeases(ctx context.Context) (int, error)
}

var _ Queue = (*taskqueue.Queue)(nil)

// Config controls the pool's runtime behaviour.
type Config struct {
	Queue         Queue
	Handlers      map[models.TaskType]Handler
	TaskTypes     []models.TaskType
	WorkerCount   int
	PollInterval  time.Duration
	LeaseDuration time.Duration
	TaskDeadline  time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	RateLimiter   *ratelimit.ShardedLimiter
	Metrics       *metrics.Recorder
	Logger        *slog.Logger
}

const (
	defaultWorkerCount   = 4
	defaultPollInterval  = time.Second
	defaultLeaseDuration = 5 * time.Minute
	defaultTaskDeadline  = 10 * time.Minute
	defaultBackoffBase   = time.Second
	defaultBackoffCap    = 5 * time.Minute
)

// Pool is the fixed-size worker pool.
type Pool struct {
	queue         Queue
	handlers      map[models.TaskType]Handler
	taskTypes     []models.TaskType
	workerCount   int
	pollInterval  time.Duration
	leaseDuration time.Duration
	taskDeadline  time.Duration
	backoffBase   time.Duration
	backoffCap    time.Duration
	limiter       *ratelimit.ShardedLimiter
	metrics       *metrics.Recorder
	logger        *slog.Logger

	id string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool builds a Pool from cfg, applying the teacher's defaulting style.
func NewPool(cfg Config) *Pool {
	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = defaultWorkerCount
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	leaseDuration := cfg.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = defaultLeaseDuration
	}
	taskDeadline := cfg.TaskDeadline
	if taskDeadline <= 0 {
		taskDeadline = defaultTaskDeadline
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}
	backoffCap := cfg.BackoffCap
	if backoffCap <= 0 {
		backoffCap = defaultBackoffCap
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = ratelimit.NewShardedLimiter(8, 1, 2, 10*time.Minute)
	}

	return &Pool{
		queue:         cfg.Queue,
		handlers:      cfg.Handlers,
		taskTypes:     cfg.TaskTypes,
		workerCount:   workerCount,
		pollInterval:  pollInterval,
		leaseDuration: leaseDuration,
		taskDeadline:  taskDeadline,
		backoffBase:   backoffBase,
		backoffCap:    backoffCap,
		limiter:       limiter,
		metrics:       cfg.Metrics,
		logger:        logger,
		id:            uuid.NewString(),
	}
}

// Start launches the worker goroutines and the lease-reclamation janitor.
func (p *Pool) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	p.wg.Add(1)
	go p.runJanitor()
}

// Shutdown cancels the pool and waits for in-flight tasks to finish, bounded
// by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) runWorker(index int) {
	defer p.wg.Done()
	workerID := fmt.Sprintf("%s-%d", p.id, index)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if !p.leaseAndHandle(workerID) {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
		}
	}
}

// leaseAndHandle tries each registered task type in order and reports
// whether it found and processed a task.
func (p *Pool) leaseAndHandle(workerID string) bool {
	for _, taskType := range p.taskTypes {
		if allowed, _, _, _ := p.limiter.Allow(string(taskType)); !allowed {
			continue
		}
		task, ok, err := p.queue.Lease(p.ctx, taskType, workerID, p.leaseDuration)
		if err != nil {
			p.logger.Error("leasing task", "task_type", taskType, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if p.metrics != nil {
			p.metrics.TaskLeased()
		}
		p.handle(workerID, task)
		return true
	}
	return false
}

func (p *Pool) handle(workerID string, task models.Task) {
	start := time.Now()
	handler, ok := p.handlers[task.Type]
	if !ok {
		p.failTask(workerID, task, fmt.Errorf("no handler registered for task type %q", task.Type))
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.taskDeadline)
	defer cancel()

	result, err := p.runHandler(ctx, handler, task)
	if err != nil {
		p.logger.Error("task failed", "task_id", task.ID, "task_type", task.Type, "error", err)
		p.failTask(workerID, task, err)
		if p.metrics != nil {
			p.metrics.TaskFailed(string(task.Type), time.Since(start))
		}
		return
	}

	if err := p.queue.Complete(p.ctx, task.ID, workerID, result); err != nil {
		p.logger.Error("completing task", "task_id", task.ID, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.TaskCompleted(string(task.Type), time.Since(start))
	}
}

// runHandler invokes handler, converting a panic into an error so one
// misbehaving handler can't take down the worker goroutine.
func (p *Pool) runHandler(ctx context.Context, handler Handler, task models.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, task)
}

func (p *Pool) failTask(workerID string, task models.Task, cause error) {
	message := cause.Error()
	if appErr, ok := apperror.As(cause); ok {
		message = appErr.Message
		if appErr.Detail != "" {
			message = fmt.Sprintf("%s: %s", appErr.Message, appErr.Detail)
		}
	}
	if err := p.queue.Fail(p.ctx, task.ID, workerID, message, p.backoffBase, p.backoffCap); err != nil {
		p.logger.Error("recording task failure", "task_id", task.ID, "error", err)
	}
}

func (p *Pool) runJanitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.leaseDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := p.queue.ReclaimExpiredLeases(p.ctx)
			if err != nil {
				p.logger.Error("reclaiming expired leases", "error", err)
				continue
			}
			if reclaimed > 0 {
				p.logger.Info("reclaimed expired task leases", "count", reclaimed)
			}
		}
	}
}
