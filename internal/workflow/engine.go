// Package workflow is the linear plugin-pipeline orchestrator of spec §4.L:
// a Workflow is a JSON-declared ordered list of plugin steps, triggered
// either on upload (when its filters match the new media) or explicitly,
// and driven one step at a time through the task queue. Grounded on
// original_source's handlers/workflows.rs for the trigger/advance/
// stop-on-failure state machine, and on internal/plugin's registry and
// config-decrypt plumbing for running each step (there is no separate
// "workflow step executor" in the pack to ground on, so this package reuses
// internal/plugin's Execute path directly rather than round-tripping
// through a second PluginExecution task per step).
package workflow

import (
	"context"
	"encoding/json"
	"log/slog"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/crypto"
	"mindia/internal/models"
	"mindia/internal/objectstore"
	"mindia/internal/observability/metrics"
	"mindia/internal/plugin"
	"mindia/internal/taskqueue"
)

// Store is the narrow catalog surface the workflow Engine needs.
type Store interface {
	GetWorkflow(ctx context.Context, tenantID, id string) (models.Workflow, error)
	ListUploadTriggeredWorkflows(ctx context.Context, tenantID string) ([]models.Workflow, error)
	CreateWorkflowExecution(ctx context.Context, we models.WorkflowExecution) (models.WorkflowExecution, error)
	GetWorkflowExecution(ctx context.Context, id string) (models.WorkflowExecution, error)
	AdvanceWorkflowExecution(ctx context.Context, id string, status models.WorkflowExecutionStatus, currentStep int, taskIDs []string) (models.WorkflowExecution, error)
	GetPluginConfig(ctx context.Context, tenantID, pluginName string) (models.PluginConfig, error)
	CreatePluginExecution(ctx context.Context, e models.PluginExecution) (models.PluginExecution, error)
	UpdatePluginExecution(ctx context.Context, id string, status models.PluginExecutionStatus, result map[string]any, execErr string, usage models.Usage) (models.PluginExecution, error)
	GetMedia(ctx context.Context, tenantID, id string) (models.Media, error)
}

var _ Store = (*catalog.Store)(nil)

type mediaRepoAdapter struct{ store Store }

func (m mediaRepoAdapter) GetMedia(ctx context.Context, tenantID, id string) (models.Media, error) {
	return m.store.GetMedia(ctx, tenantID, id)
}

// TaskSubmitter submits the next step's task.
type TaskSubmitter interface {
	Submit(ctx context.Context, p taskqueue.SubmitParams) (models.Task, error)
}

var _ TaskSubmitter = (*taskqueue.Queue)(nil)

// WebhookEmitter fires the terminal WorkflowCompleted/WorkflowFailed event.
type WebhookEmitter interface {
	Emit(ctx context.Context, tenantID, eventType string, data map[string]any) error
}

// Engine drives Workflow triggering and step-by-step execution.
type Engine struct {
	registry *plugin.Registry
	store    Store
	tasks    TaskSubmitter
	storage  objectstore.Store
	crypto   *crypto.Service
	webhooks WebhookEmitter
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// NewEngine builds an Engine. logger defaults to slog.Default when nil.
func NewEngine(registry *plugin.Registry, store Store, tasks TaskSubmitter, storage objectstore.Store, cryptoSvc *crypto.Service, webhooks WebhookEmitter, rec *metrics.Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, store: store, tasks: tasks, storage: storage, crypto: cryptoSvc, webhooks: webhooks, metrics: rec, logger: logger}
}

type stepPayload struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	TenantID    string `json:"tenant_id"`
	MediaID     string `json:"media_id"`
	StepIndex   int    `json:"step_index"`
}

// TriggerOnUpload evaluates each of the tenant's upload-triggered workflows
// against newly ingested media, starting an execution for each whose filters
// match.
func (e *Engine) TriggerOnUpload(ctx context.Context, tenantID string, media models.Media) error {
	workflows, err := e.store.ListUploadTriggeredWorkflows(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, wf := range workflows {
		if !Matches(wf.Filters, media) {
			continue
		}
		if _, err := e.startExecution(ctx, wf, media.ID); err != nil {
			e.logger.Error("starting workflow execution on upload trigger", "workflow_id", wf.ID, "media_id", media.ID, "error", err)
		}
	}
	return nil
}

// Trigger starts an explicit execution of one workflow against one media
// item, the POST /workflows/{id}/trigger/{media_id} path.
func (e *Engine) Trigger(ctx context.Context, tenantID, workflowID, mediaID string) (models.WorkflowExecution, error) {
	wf, err := e.store.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	if !wf.Enabled {
		return models.WorkflowExecution{}, apperror.InvalidInput("workflow is disabled")
	}
	return e.startExecution(ctx, wf, mediaID)
}

func (e *Engine) startExecution(ctx context.Context, wf models.Workflow, mediaID string) (models.WorkflowExecution, error) {
	if len(wf.Steps) == 0 {
		return models.WorkflowExecution{}, apperror.InvalidInput("workflow has no steps")
	}
	execution, err := e.store.CreateWorkflowExecution(ctx, models.WorkflowExecution{
		WorkflowID:  wf.ID,
		MediaID:     mediaID,
		Status:      models.WorkflowExecRunning,
		CurrentStep: 0,
	})
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	if _, err := e.tasks.Submit(ctx, taskqueue.SubmitParams{
		TenantID: wf.TenantID,
		Type:     models.TaskWorkflowStep,
		Payload: stepPayload{
			ExecutionID: execution.ID,
			WorkflowID:  wf.ID,
			TenantID:    wf.TenantID,
			MediaID:     mediaID,
			StepIndex:   0,
		},
	}); err != nil {
		return models.WorkflowExecution{}, err
	}
	return execution, nil
}

// Handle is the worker.Handler entrypoint for models.TaskWorkflowStep: it
// runs one step's plugin synchronously, then advances the execution.
func (e *Engine) Handle(ctx context.Context, task models.Task) (any, error) {
	var payload stepPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperror.InvalidInput("malformed workflow step payload").WithDetail(err.Error())
	}

	wf, err := e.store.GetWorkflow(ctx, payload.TenantID, payload.WorkflowID)
	if err != nil {
		return nil, err
	}
	if payload.StepIndex < 0 || payload.StepIndex >= len(wf.Steps) {
		return nil, apperror.Internal(nil).WithDetail("workflow step index out of range")
	}
	step := wf.Steps[payload.StepIndex]

	stepErr := e.runStep(ctx, payload.TenantID, payload.MediaID, step, task.ID)

	nextStep := payload.StepIndex + 1
	isLast := nextStep >= len(wf.Steps)

	if stepErr != nil && wf.StopOnFailure {
		if _, err := e.store.AdvanceWorkflowExecution(ctx, payload.ExecutionID, models.WorkflowExecFailed, payload.StepIndex, []string{task.ID}); err != nil {
			e.logger.Error("recording failed workflow execution", "execution_id", payload.ExecutionID, "error", err)
		}
		e.emitTerminal(ctx, payload.TenantID, "workflow.failed", payload.ExecutionID, wf, payload.MediaID)
		return nil, stepErr
	}

	if isLast {
		if _, err := e.store.AdvanceWorkflowExecution(ctx, payload.ExecutionID, models.WorkflowExecCompleted, payload.StepIndex, []string{task.ID}); err != nil {
			e.logger.Error("recording completed workflow execution", "execution_id", payload.ExecutionID, "error", err)
		}
		e.emitTerminal(ctx, payload.TenantID, "workflow.completed", payload.ExecutionID, wf, payload.MediaID)
		return nil, nil
	}

	if _, err := e.store.AdvanceWorkflowExecution(ctx, payload.ExecutionID, models.WorkflowExecRunning, nextStep, []string{task.ID}); err != nil {
		e.logger.Error("advancing workflow execution", "execution_id", payload.ExecutionID, "error", err)
	}
	if _, err := e.tasks.Submit(ctx, taskqueue.SubmitParams{
		TenantID: payload.TenantID,
		Type:     models.TaskWorkflowStep,
		Payload: stepPayload{
			ExecutionID: payload.ExecutionID,
			WorkflowID:  payload.WorkflowID,
			TenantID:    payload.TenantID,
			MediaID:     payload.MediaID,
			StepIndex:   nextStep,
		},
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (e *Engine) emitTerminal(ctx context.Context, tenantID, eventType, executionID string, wf models.Workflow, mediaID string) {
	if e.webhooks == nil {
		return
	}
	if err := e.webhooks.Emit(ctx, tenantID, eventType, map[string]any{
		"workflow_id":           wf.ID,
		"workflow_execution_id": executionID,
		"media_id":              mediaID,
	}); err != nil {
		e.logger.Warn("emitting terminal workflow webhook", "event", eventType, "error", err)
	}
}

// runStep executes one workflow step's plugin synchronously: it creates a
// PluginExecution row for accounting parity with a directly-requested
// execution, decrypts the tenant's plugin config merged with the step's
// config_overrides, and records the outcome.
func (e *Engine) runStep(ctx context.Context, tenantID, mediaID string, step models.WorkflowStep, taskID string) error {
	p, ok := e.registry.Get(step.PluginName)
	if !ok {
		return apperror.NotFound("plugin not found: " + step.PluginName)
	}

	execution, err := e.store.CreatePluginExecution(ctx, models.PluginExecution{
		TenantID:   tenantID,
		PluginName: step.PluginName,
		MediaID:    mediaID,
		TaskID:     &taskID,
		Status:     models.PluginExecProcessing,
	})
	if err != nil {
		return err
	}

	cfg, err := e.store.GetPluginConfig(ctx, tenantID, step.PluginName)
	if err != nil {
		_, _ = e.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecFailed, nil, err.Error(), models.Usage{})
		return err
	}
	config, err := e.crypto.DecryptAndMergeJSON(cfg.PublicConfig, cfg.EncryptedConfig)
	if err != nil {
		_, _ = e.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecFailed, nil, err.Error(), models.Usage{})
		return err
	}
	for k, v := range step.ConfigOverrides {
		config[k] = v
	}

	if err := p.ValidateConfig(config); err != nil {
		wrapped := apperror.InvalidInput("invalid plugin configuration").WithDetail(err.Error())
		_, _ = e.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecFailed, nil, wrapped.Error(), models.Usage{})
		return wrapped
	}

	pc := plugin.Context{
		TenantID:  tenantID,
		MediaID:   mediaID,
		Storage:   e.storage,
		MediaRepo: mediaRepoAdapter{store: e.store},
		Config:    config,
	}
	result, err := p.Execute(ctx, pc)
	if err != nil {
		_, _ = e.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecFailed, nil, err.Error(), models.Usage{})
		if e.metrics != nil {
			e.metrics.PluginExecuted(step.PluginName, "failed")
		}
		return err
	}
	if result.Status != plugin.ResultSuccess {
		msg := result.Error
		if msg == "" {
			msg = "plugin did not complete synchronously within a workflow step"
		}
		_, _ = e.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecFailed, result.Data, msg, result.Usage)
		if e.metrics != nil {
			e.metrics.PluginExecuted(step.PluginName, "failed")
		}
		return apperror.Internal(nil).WithDetail(msg)
	}

	if _, err := e.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecCompleted, result.Data, "", result.Usage); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.PluginExecuted(step.PluginName, "completed")
	}
	return nil
}
