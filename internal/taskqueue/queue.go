// Package taskqueue is the durable, Postgres-backed work queue the worker
// pool leases from: submit, lease, heartbeat, complete, fail, and the
// janitor that reclaims lapsed leases, generalizing the teacher's in-memory
// channel + in-flight-set upload processor to rows a cluster of worker
// processes can lease without double-processing.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
)

// Queue is the durable task store.
type Queue struct {
	pool *catalog.Pool
}

// NewQueue builds a Queue over an open pool.
func NewQueue(pool *catalog.Pool) *Queue {
	return &Queue{pool: pool}
}

// SubmitParams describes a new unit of work.
type SubmitParams struct {
	TenantID         string
	Type             models.TaskType
	Payload          any
	Priority         models.TaskPriority
	MaxAttempts      int
	ScheduledAt      time.Time
	DeduplicationKey string
}

// Submit inserts a new pending task. If DeduplicationKey is set and a task
// with the same (tenant_id, deduplication_key) already exists, Submit
// returns the existing row instead of erroring, so callers can safely retry
// an enqueue without producing duplicate work.
func (q *Queue) Submit(ctx context.Context, p SubmitParams) (models.Task, error) {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return models.Task{}, apperror.Internal(err)
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.ScheduledAt.IsZero() {
		p.ScheduledAt = time.Now().UTC()
	}

	var dedupKey *string
	if p.DeduplicationKey != "" {
		dedupKey = &p.DeduplicationKey
	}

	t := models.Task{
		ID:               uuid.NewString(),
		TenantID:         p.TenantID,
		Type:             p.Type,
		Payload:          payload,
		Priority:         p.Priority,
		Status:           models.TaskPending,
		MaxAttempts:      p.MaxAttempts,
		ScheduledAt:      p.ScheduledAt,
		DeduplicationKey: p.DeduplicationKey,
	}

	const q1 = `
		INSERT INTO tasks (id, tenant_id, task_type, payload, priority, status, max_attempts, scheduled_at, deduplication_key)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8)
		ON CONFLICT (tenant_id, deduplication_key) WHERE deduplication_key IS NOT NULL DO NOTHING
		RETURNING id, created_at, updated_at`

	err = q.pool.QueryRow(ctx, q1, t.ID, t.TenantID, t.Type, payload, t.Priority, t.MaxAttempts, t.ScheduledAt, dedupKey).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, mapErr(err, "task")
	}

	existing, getErr := q.getByDedupKey(ctx, p.TenantID, p.DeduplicationKey)
	if getErr != nil {
		return models.Task{}, mapErr(getErr, "task")
	}
	return existing, nil
}

func (q *Queue) getByDedupKey(ctx context.Context, tenantID, dedupKey string) (models.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM tasks WHERE tenant_id = $1 AND deduplication_key = $2`
	return scanTask(q.pool.QueryRow(ctx, query, tenantID, dedupKey))
}

// Lease claims one pending task of taskType (any tenant), oldest-scheduled
// and highest-priority first, locking the row so no other worker can lease
// it concurrently.
func (q *Queue) Lease(ctx context.Context, taskType models.TaskType, workerID string, leaseDuration time.Duration) (models.Task, bool, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return models.Task{}, false, mapErr(err, "task")
	}
	defer tx.Rollback(ctx)

	const selectQ = `
		SELECT id FROM tasks
		WHERE task_type = $1 AND status = 'pending' AND scheduled_at <= now()
		ORDER BY priority DESC, scheduled_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`

	var id string
	err = tx.QueryRow(ctx, selectQ, taskType).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, mapErr(err, "task")
	}

	leasedUntil := time.Now().Add(leaseDuration)
	const updateQ = `
		UPDATE tasks SET status = 'leased', leased_until = $2, leased_by = $3,
			attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING ` + taskColumns

	task, err := scanTask(tx.QueryRow(ctx, updateQ, id, leasedUntil, workerID))
	if err != nil {
		return models.Task{}, false, mapErr(err, "task")
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Task{}, false, mapErr(err, "task")
	}
	return task, true, nil
}

// Heartbeat extends a leased task's lease, called periodically by the
// worker handling it so a slow-but-alive task isn't reclaimed.
func (q *Queue) Heartbeat(ctx context.Context, taskID, workerID string, extension time.Duration) error {
	const query = `
		UPDATE tasks SET leased_until = now() + $3, updated_at = now()
		WHERE id = $1 AND leased_by = $2 AND status = 'leased'`
	tag, err := q.pool.Exec(ctx, query, taskID, workerID, extension)
	if err != nil {
		return mapErr(err, "task")
	}
	if tag.RowsAffected() == 0 {
		return apperror.Conflict("task is no longer leased by this worker")
	}
	return nil
}

// Complete marks a leased task finished successfully, recording result.
func (q *Queue) Complete(ctx context.Context, taskID, workerID string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return apperror.Internal(err)
	}
	const query = `
		UPDATE tasks SET status = 'completed', result = $3, leased_until = NULL, updated_at = now()
		WHERE id = $1 AND leased_by = $2 AND status = 'leased'`
	tag, err := q.pool.Exec(ctx, query, taskID, workerID, payload)
	if err != nil {
		return mapErr(err, "task")
	}
	if tag.RowsAffected() == 0 {
		return apperror.Conflict("task is no longer leased by this worker")
	}
	return nil
}

// Fail records a task attempt's failure. If attempts remain, the task is
// rescheduled with exponential backoff bounded by backoffCap; otherwise it
// transitions to its terminal Failed state.
func (q *Queue) Fail(ctx context.Context, taskID, workerID, errMsg string, backoffBase, backoffCap time.Duration) error {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if task.Attempts < task.MaxAttempts {
		delay := backoffDelay(task.Attempts, backoffBase, backoffCap)
		const query = `
			UPDATE tasks SET status = 'pending', leased_until = NULL, leased_by = '',
				last_error = $3, scheduled_at = now() + $4, updated_at = now()
			WHERE id = $1 AND leased_by = $2 AND status = 'leased'`
		tag, err := q.pool.Exec(ctx, query, taskID, workerID, errMsg, delay)
		if err != nil {
			return mapErr(err, "task")
		}
		if tag.RowsAffected() == 0 {
			return apperror.Conflict("task is no longer leased by this worker")
		}
		return nil
	}

	const query = `
		UPDATE tasks SET status = 'failed', leased_until = NULL, last_error = $3, updated_at = now()
		WHERE id = $1 AND leased_by = $2 AND status = 'leased'`
	tag, err := q.pool.Exec(ctx, query, taskID, workerID, errMsg)
	if err != nil {
		return mapErr(err, "task")
	}
	if tag.RowsAffected() == 0 {
		return apperror.Conflict("task is no longer leased by this worker")
	}
	return nil
}

// Cancel transitions a pending or leased task to Cancelled.
func (q *Queue) Cancel(ctx context.Context, tenantID, taskID string) error {
	const query = `
		UPDATE tasks SET status = 'cancelled', updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status IN ('pending', 'leased')`
	tag, err := q.pool.Exec(ctx, query, tenantID, taskID)
	if err != nil {
		return mapErr(err, "task")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("task not found or already terminal")
	}
	return nil
}

// Get fetches one task by ID, regardless of tenant, used internally by Fail
// and by the worker pool when resolving a lease result.
func (q *Queue) Get(ctx context.Context, taskID string) (models.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(q.pool.QueryRow(ctx, query, taskID))
	if err != nil {
		return models.Task{}, mapErr(err, "task")
	}
	return task, nil
}

// ReclaimExpiredLeases resets leased tasks whose lease has lapsed back to
// pending, making them eligible for another worker to lease. It returns the
// number of tasks reclaimed.
func (q *Queue) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	const query = `
		UPDATE tasks SET status = 'pending', leased_until = NULL, leased_by = '', updated_at = now()
		WHERE status = 'leased' AND leased_until < now()`
	tag, err := q.pool.Exec(ctx, query)
	if err != nil {
		return 0, mapErr(err, "task")
	}
	return int(tag.RowsAffected()), nil
}

// PurgeFinished deletes Completed/Failed/Cancelled tasks older than
// retention, bounding table growth per the retention-window invariant.
func (q *Queue) PurgeFinished(ctx context.Context, retention time.Duration) (int, error) {
	const query = `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < now() - $1::interval`
	tag, err := q.pool.Exec(ctx, query, retention)
	if err != nil {
		return 0, mapErr(err, "task")
	}
	return int(tag.RowsAffected()), nil
}

// backoffDelay computes the exponential backoff delay for a task's next
// retry after attempts failed attempts, doubling from backoffBase and
// capped at backoffCap.
func backoffDelay(attempts int, backoffBase, backoffCap time.Duration) time.Duration {
	if attempts <= 0 {
		return backoffBase
	}
	shift := uint(attempts - 1)
	if shift > 32 {
		return backoffCap
	}
	delay := backoffBase << shift
	if delay <= 0 || delay > backoffCap {
		return backoffCap
	}
	return delay
}

const taskColumns = `
	id, tenant_id, task_type, payload, priority, status, attempts, max_attempts,
	scheduled_at, leased_until, coalesce(leased_by, ''), result, coalesce(last_error, ''),
	coalesce(deduplication_key, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Type, &t.Payload, &t.Priority, &t.Status, &t.Attempts, &t.MaxAttempts,
		&t.ScheduledAt, &t.LeasedUntil, &t.LeasedBy, &t.Result, &t.LastError,
		&t.DeduplicationKey, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}
