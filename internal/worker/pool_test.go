package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mindia/internal/models"
)

type fakeQueue struct {
	mu        sync.Mutex
	pending   []models.Task
	completed []string
	failed    []string
}

func (f *fakeQueue) Lease(_ context.Context, taskType models.TaskType, workerID string, _ time.Duration) (models.Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.pending {
		if t.Type == taskType {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			t.LeasedBy = workerID
			return t, true, nil
		}
	}
	return models.Task{}, false, nil
}

func (f *fakeQueue) Complete(_ context.Context, taskID, _ string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, taskID)
	return nil
}

func (f *fakeQueue) Fail(_ context.Context, taskID, _, _ string, _, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, taskID)
	return nil
}

func (f *fakeQueue) ReclaimExpiredLeases(_ context.Context) (int, error) {
	return 0, nil
}

func TestPoolDispatchesToRegisteredHandler(t *testing.T) {
	q := &fakeQueue{pending: []models.Task{{ID: "task-1", Type: models.TaskVideoTranscode}}}
	handled := make(chan struct{})

	pool := NewPool(Config{
		Queue:        q,
		TaskTypes:    []models.TaskType{models.TaskVideoTranscode},
		WorkerCount:  1,
		PollInterval: 5 * time.Millisecond,
		Handlers: map[models.TaskType]Handler{
			models.TaskVideoTranscode: func(_ context.Context, task models.Task) (any, error) {
				close(handled)
				return map[string]string{"ok": "true"}, nil
			},
		},
	})

	pool.Start()
	defer pool.Shutdown(context.Background())

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatalf("expected handler to run within timeout")
	}

	deadline := time.After(time.Second)
	for {
		q.mu.Lock()
		n := len(q.completed)
		q.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected task to be completed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPoolFailsTaskOnHandlerError(t *testing.T) {
	q := &fakeQueue{pending: []models.Task{{ID: "task-2", Type: models.TaskContentModeration}}}

	pool := NewPool(Config{
		Queue:        q,
		TaskTypes:    []models.TaskType{models.TaskContentModeration},
		WorkerCount:  1,
		PollInterval: 5 * time.Millisecond,
		Handlers: map[models.TaskType]Handler{
			models.TaskContentModeration: func(_ context.Context, task models.Task) (any, error) {
				return nil, errors.New("moderation backend unavailable")
			},
		},
	})

	pool.Start()
	defer pool.Shutdown(context.Background())

	deadline := time.After(time.Second)
	for {
		q.mu.Lock()
		n := len(q.failed)
		q.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected task to be failed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPoolFailsTaskOnHandlerPanic(t *testing.T) {
	q := &fakeQueue{pending: []models.Task{{ID: "task-3", Type: models.TaskPluginExecution}}}

	pool := NewPool(Config{
		Queue:        q,
		TaskTypes:    []models.TaskType{models.TaskPluginExecution},
		WorkerCount:  1,
		PollInterval: 5 * time.Millisecond,
		Handlers: map[models.TaskType]Handler{
			models.TaskPluginExecution: func(_ context.Context, task models.Task) (any, error) {
				panic("boom")
			},
		},
	})

	pool.Start()
	defer pool.Shutdown(context.Background())

	deadline := time.After(time.Second)
	for {
		q.mu.Lock()
		n := len(q.failed)
		q.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected panicking handler to still fail the task")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
