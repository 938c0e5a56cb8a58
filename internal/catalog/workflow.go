package catalog

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"mindia/internal/apperror"
	"mindia/internal/models"
)

// CreateWorkflow registers a new tenant-scoped workflow definition.
func (s *Store) CreateWorkflow(ctx context.Context, w models.Workflow) (models.Workflow, error) {
	w.ID = uuid.NewString()
	steps, err := json.Marshal(w.Steps)
	if err != nil {
		return models.Workflow{}, apperror.Internal(err)
	}
	filters, err := json.Marshal(w.Filters)
	if err != nil {
		return models.Workflow{}, apperror.Internal(err)
	}
	const q = `
		INSERT INTO workflows (id, tenant_id, name, enabled, steps, trigger_on_upload, stop_on_failure, filters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + workflowColumns
	wf, err := scanWorkflow(s.pool.QueryRow(ctx, q, w.ID, w.TenantID, w.Name, w.Enabled, steps, w.TriggerOnUpload, w.StopOnFailure, filters))
	if err != nil {
		return models.Workflow{}, mapErr(err, "workflow")
	}
	return wf, nil
}

// GetWorkflow fetches one tenant's workflow by ID.
func (s *Store) GetWorkflow(ctx context.Context, tenantID, id string) (models.Workflow, error) {
	const q = `SELECT ` + workflowColumns + ` FROM workflows WHERE tenant_id = $1 AND id = $2`
	wf, err := scanWorkflow(s.pool.QueryRow(ctx, q, tenantID, id))
	if err != nil {
		return models.Workflow{}, mapErr(err, "workflow")
	}
	return wf, nil
}

// ListWorkflows returns every workflow a tenant has defined.
func (s *Store) ListWorkflows(ctx context.Context, tenantID string) ([]models.Workflow, error) {
	const q = `SELECT ` + workflowColumns + ` FROM workflows WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, mapErr(err, "workflow")
	}
	defer rows.Close()

	var out []models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, mapErr(err, "workflow")
		}
		out = append(out, wf)
	}
	return out, mapErr(rows.Err(), "workflow")
}

// ListUploadTriggeredWorkflows returns every enabled, trigger_on_upload
// workflow a tenant has defined; filter matching against the uploaded
// media happens in the workflow engine, not in SQL.
func (s *Store) ListUploadTriggeredWorkflows(ctx context.Context, tenantID string) ([]models.Workflow, error) {
	const q = `
		SELECT ` + workflowColumns + `
		FROM workflows WHERE tenant_id = $1 AND enabled = true AND trigger_on_upload = true`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, mapErr(err, "workflow")
	}
	defer rows.Close()

	var out []models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, mapErr(err, "workflow")
		}
		out = append(out, wf)
	}
	return out, mapErr(rows.Err(), "workflow")
}

// CreateWorkflowExecution records a new Running execution of a workflow
// against one media item, starting at step 0.
func (s *Store) CreateWorkflowExecution(ctx context.Context, we models.WorkflowExecution) (models.WorkflowExecution, error) {
	we.ID = uuid.NewString()
	taskIDs, err := json.Marshal(we.TaskIDs)
	if err != nil {
		return models.WorkflowExecution{}, apperror.Internal(err)
	}
	const q = `
		INSERT INTO workflow_executions (id, workflow_id, media_id, status, task_ids, current_step)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + workflowExecutionColumns
	we2, err := scanWorkflowExecution(s.pool.QueryRow(ctx, q, we.ID, we.WorkflowID, we.MediaID, we.Status, taskIDs, we.CurrentStep))
	if err != nil {
		return models.WorkflowExecution{}, mapErr(err, "workflow_execution")
	}
	return we2, nil
}

// GetWorkflowExecution fetches one execution row by ID.
func (s *Store) GetWorkflowExecution(ctx context.Context, id string) (models.WorkflowExecution, error) {
	const q = `SELECT ` + workflowExecutionColumns + ` FROM workflow_executions WHERE id = $1`
	we, err := scanWorkflowExecution(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return models.WorkflowExecution{}, mapErr(err, "workflow_execution")
	}
	return we, nil
}

// AdvanceWorkflowExecution records the engine's progress after a step task
// settles: the new status, current_step, and the appended task_ids list.
func (s *Store) AdvanceWorkflowExecution(ctx context.Context, id string, status models.WorkflowExecutionStatus, currentStep int, taskIDs []string) (models.WorkflowExecution, error) {
	taskIDsJSON, err := json.Marshal(taskIDs)
	if err != nil {
		return models.WorkflowExecution{}, apperror.Internal(err)
	}
	const q = `
		UPDATE workflow_executions SET status = $2, current_step = $3, task_ids = $4, updated_at = now()
		WHERE id = $1
		RETURNING ` + workflowExecutionColumns
	we, err := scanWorkflowExecution(s.pool.QueryRow(ctx, q, id, status, currentStep, taskIDsJSON))
	if err != nil {
		return models.WorkflowExecution{}, mapErr(err, "workflow_execution")
	}
	return we, nil
}

const workflowColumns = `
	id, tenant_id, name, enabled, steps, trigger_on_upload, stop_on_failure, filters, created_at`

func scanWorkflow(row rowScanner) (models.Workflow, error) {
	var wf models.Workflow
	var steps, filters []byte
	if err := row.Scan(&wf.ID, &wf.TenantID, &wf.Name, &wf.Enabled, &steps, &wf.TriggerOnUpload, &wf.StopOnFailure, &filters, &wf.CreatedAt); err != nil {
		return models.Workflow{}, err
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &wf.Steps); err != nil {
			return models.Workflow{}, apperror.Internal(err)
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &wf.Filters); err != nil {
			return models.Workflow{}, apperror.Internal(err)
		}
	}
	return wf, nil
}

const workflowExecutionColumns = `
	id, workflow_id, media_id, status, task_ids, current_step, created_at, updated_at`

func scanWorkflowExecution(row rowScanner) (models.WorkflowExecution, error) {
	var we models.WorkflowExecution
	var taskIDs []byte
	if err := row.Scan(&we.ID, &we.WorkflowID, &we.MediaID, &we.Status, &taskIDs, &we.CurrentStep, &we.CreatedAt, &we.UpdatedAt); err != nil {
		return models.WorkflowExecution{}, err
	}
	if len(taskIDs) > 0 {
		if err := json.Unmarshal(taskIDs, &we.TaskIDs); err != nil {
			return models.WorkflowExecution{}, apperror.Internal(err)
		}
	}
	return we, nil
}
