package plugin

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/crypto"
	"mindia/internal/models"
	"mindia/internal/objectstore"
	"mindia/internal/observability/metrics"
	"mindia/internal/taskqueue"
)

// Store is the narrow catalog surface the plugin Service needs, keeping it
// testable without a live database.
type Store interface {
	GetPluginConfig(ctx context.Context, tenantID, pluginName string) (models.PluginConfig, error)
	CreatePluginExecution(ctx context.Context, e models.PluginExecution) (models.PluginExecution, error)
	GetPluginExecution(ctx context.Context, id string) (models.PluginExecution, error)
	UpdatePluginExecution(ctx context.Context, id string, status models.PluginExecutionStatus, result map[string]any, execErr string, usage models.Usage) (models.PluginExecution, error)
	GetMedia(ctx context.Context, tenantID, id string) (models.Media, error)
	UpdateMedia(ctx context.Context, tenantID, id string, update catalog.MediaUpdate) (models.Media, error)
}

var _ Store = (*catalog.Store)(nil)

// TaskSubmitter is the narrow task-queue surface used to submit the
// PluginExecution task and, for a long-running plugin, the follow-up check.
type TaskSubmitter interface {
	Submit(ctx context.Context, p taskqueue.SubmitParams) (models.Task, error)
}

var _ TaskSubmitter = (*taskqueue.Queue)(nil)

// followUpDelay is how long the engine waits before re-checking a plugin
// execution that reported ResultProcessing.
const followUpDelay = 30 * time.Second

// Service implements spec's execute_plugin flow and the PluginExecution
// task handler, over a compile-time Registry.
type Service struct {
	registry *Registry
	store    Store
	tasks    TaskSubmitter
	storage  objectstore.Store
	crypto   *crypto.Service
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// NewService builds a Service. logger defaults to slog.Default when nil.
func NewService(registry *Registry, store Store, tasks TaskSubmitter, storage objectstore.Store, cryptoSvc *crypto.Service, rec *metrics.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: registry, store: store, tasks: tasks, storage: storage, crypto: cryptoSvc, metrics: rec, logger: logger}
}

type executionPayload struct {
	ExecutionID string `json:"execution_id"`
	PluginName  string `json:"plugin_name"`
	MediaID     string `json:"media_id"`
}

// ExecutePlugin implements spec step 1-3 of §4.K's Service.execute_plugin:
// verify the plugin is registered and enabled for the tenant, create a
// Pending execution row, submit the PluginExecution task, and return the
// task's id.
func (s *Service) ExecutePlugin(ctx context.Context, tenantID, pluginName, mediaID string) (string, error) {
	if !s.registry.Contains(pluginName) {
		return "", apperror.NotFound("plugin not found")
	}
	cfg, err := s.store.GetPluginConfig(ctx, tenantID, pluginName)
	if err != nil {
		if apperror.CodeOf(err) == apperror.CodeNotFound {
			return "", apperror.InvalidInput("plugin is not configured for this tenant")
		}
		return "", err
	}
	if !cfg.Enabled {
		return "", apperror.InvalidInput("plugin is disabled for this tenant")
	}

	execution, err := s.store.CreatePluginExecution(ctx, models.PluginExecution{
		TenantID:   tenantID,
		PluginName: pluginName,
		MediaID:    mediaID,
		Status:     models.PluginExecPending,
	})
	if err != nil {
		return "", err
	}

	task, err := s.tasks.Submit(ctx, taskqueue.SubmitParams{
		TenantID: tenantID,
		Type:     models.TaskPluginExecution,
		Payload: executionPayload{
			ExecutionID: execution.ID,
			PluginName:  pluginName,
			MediaID:     mediaID,
		},
	})
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

// mediaRepoAdapter narrows *catalog.Store (or any Store) to plugin.MediaRepo
// for the PluginContext handed to a running plugin.
type mediaRepoAdapter struct{ store Store }

func (m mediaRepoAdapter) GetMedia(ctx context.Context, tenantID, id string) (models.Media, error) {
	return m.store.GetMedia(ctx, tenantID, id)
}

// Handle is the worker.Handler entrypoint for models.TaskPluginExecution: it
// transitions the execution row named in the payload to Processing, loads
// the tenant's plugin config, calls the plugin, and records the outcome.
func (s *Service) Handle(ctx context.Context, task models.Task) (any, error) {
	var payload executionPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperror.InvalidInput("malformed plugin execution payload").WithDetail(err.Error())
	}

	p, ok := s.registry.Get(payload.PluginName)
	if !ok {
		_, _ = s.store.UpdatePluginExecution(ctx, payload.ExecutionID, models.PluginExecFailed, nil, "plugin no longer registered", models.Usage{})
		return nil, apperror.NotFound("plugin not found")
	}

	if _, err := s.store.UpdatePluginExecution(ctx, payload.ExecutionID, models.PluginExecProcessing, nil, "", models.Usage{}); err != nil {
		s.logger.Warn("transitioning plugin execution to running", "execution_id", payload.ExecutionID, "error", err)
	}

	cfg, err := s.store.GetPluginConfig(ctx, task.TenantID, payload.PluginName)
	if err != nil {
		return s.fail(ctx, payload, err)
	}
	config, err := s.crypto.DecryptAndMergeJSON(cfg.PublicConfig, cfg.EncryptedConfig)
	if err != nil {
		return s.fail(ctx, payload, err)
	}
	if err := p.ValidateConfig(config); err != nil {
		return s.fail(ctx, payload, apperror.InvalidInput("invalid plugin configuration").WithDetail(err.Error()))
	}

	if media, err := s.store.GetMedia(ctx, task.TenantID, payload.MediaID); err == nil {
		if job, ok := media.Metadata["plugin_job:"+payload.PluginName]; ok {
			if jobMap, ok := job.(map[string]any); ok {
				if jobID, ok := jobMap["job_id"]; ok {
					config["_job_id"] = jobID
				}
			}
		}
	}

	pc := Context{
		TenantID:      task.TenantID,
		MediaID:       payload.MediaID,
		Storage:       s.storage,
		MediaRepo:     mediaRepoAdapter{store: s.store},
		FileGroupRepo: nil,
		Config:        config,
	}

	result, err := p.Execute(ctx, pc)
	if err != nil {
		return s.fail(ctx, payload, err)
	}

	switch result.Status {
	case ResultSuccess:
		exec, err := s.store.UpdatePluginExecution(ctx, payload.ExecutionID, models.PluginExecCompleted, result.Data, "", result.Usage)
		if s.metrics != nil {
			s.metrics.PluginExecuted(payload.PluginName, "completed")
		}
		return exec, err
	case ResultProcessing:
		if err := s.recordExternalJob(ctx, task.TenantID, payload, result.Data); err != nil {
			return s.fail(ctx, payload, err)
		}
		if _, err := s.tasks.Submit(ctx, taskqueue.SubmitParams{
			TenantID:    task.TenantID,
			Type:        models.TaskPluginExecution,
			Payload:     payload,
			ScheduledAt: time.Now().Add(followUpDelay),
		}); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.PluginExecuted(payload.PluginName, "processing")
		}
		return nil, nil
	default:
		return s.fail(ctx, payload, apperror.Internal(nil).WithDetail("plugin reported status "+string(result.Status)))
	}
}

func (s *Service) fail(ctx context.Context, payload executionPayload, cause error) (any, error) {
	_, _ = s.store.UpdatePluginExecution(ctx, payload.ExecutionID, models.PluginExecFailed, nil, cause.Error(), models.Usage{})
	if s.metrics != nil {
		s.metrics.PluginExecuted(payload.PluginName, "failed")
	}
	return nil, cause
}

// recordExternalJob stashes a processing plugin's external job id in the
// media's metadata, merged with whatever metadata is already there.
func (s *Service) recordExternalJob(ctx context.Context, tenantID string, payload executionPayload, data map[string]any) error {
	media, err := s.store.GetMedia(ctx, tenantID, payload.MediaID)
	if err != nil {
		return err
	}
	metadata := make(map[string]any, len(media.Metadata)+1)
	for k, v := range media.Metadata {
		metadata[k] = v
	}
	metadata["plugin_job:"+payload.PluginName] = data
	_, err = s.store.UpdateMedia(ctx, tenantID, payload.MediaID, catalog.MediaUpdate{Metadata: metadata})
	return err
}
