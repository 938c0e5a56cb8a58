package plugin

import (
	"context"
	"encoding/json"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
)

// DefaultModerationPlugin is the plugin invoked by the TaskContentModeration
// handler when a tenant has not overridden it; it matches spec's worked
// config-redaction example (§8.5, PUT /plugins/aws_rekognition_moderation/config).
const DefaultModerationPlugin = "aws_rekognition_moderation"

type moderationPayload struct {
	MediaID string `json:"media_id"`
}

// HandleContentModeration is the worker.Handler entrypoint for
// models.TaskContentModeration: every ingested item gets this task
// regardless of tenant configuration (§4.N step 10), so unlike
// TaskPluginExecution it runs its plugin directly rather than through
// ExecutePlugin's submit-and-wait flow — there is no caller waiting on a
// task id, just a fire-and-forget classification. A tenant with moderation
// disabled or unconfigured is a no-op, not a failure.
func (s *Service) HandleContentModeration(ctx context.Context, task models.Task) (any, error) {
	var payload moderationPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperror.InvalidInput("malformed content moderation payload").WithDetail(err.Error())
	}

	cfg, err := s.store.GetPluginConfig(ctx, task.TenantID, DefaultModerationPlugin)
	if err != nil {
		if apperror.CodeOf(err) == apperror.CodeNotFound {
			return map[string]any{"skipped": "moderation not configured for tenant"}, nil
		}
		return nil, err
	}
	if !cfg.Enabled {
		return map[string]any{"skipped": "moderation disabled for tenant"}, nil
	}

	p, ok := s.registry.Get(DefaultModerationPlugin)
	if !ok {
		return nil, apperror.NotFound("moderation plugin not registered")
	}

	execution, err := s.store.CreatePluginExecution(ctx, models.PluginExecution{
		TenantID:   task.TenantID,
		PluginName: DefaultModerationPlugin,
		MediaID:    payload.MediaID,
		TaskID:     &task.ID,
		Status:     models.PluginExecProcessing,
	})
	if err != nil {
		return nil, err
	}

	config, err := s.crypto.DecryptAndMergeJSON(cfg.PublicConfig, cfg.EncryptedConfig)
	if err != nil {
		_, _ = s.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecFailed, nil, err.Error(), models.Usage{})
		return nil, err
	}
	if err := p.ValidateConfig(config); err != nil {
		wrapped := apperror.InvalidInput("invalid moderation plugin configuration").WithDetail(err.Error())
		_, _ = s.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecFailed, nil, wrapped.Error(), models.Usage{})
		return nil, wrapped
	}

	pc := Context{
		TenantID:  task.TenantID,
		MediaID:   payload.MediaID,
		Storage:   s.storage,
		MediaRepo: mediaRepoAdapter{store: s.store},
		Config:    config,
	}
	result, err := p.Execute(ctx, pc)
	if err != nil {
		_, _ = s.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecFailed, nil, err.Error(), models.Usage{})
		if s.metrics != nil {
			s.metrics.PluginExecuted(DefaultModerationPlugin, "failed")
		}
		return nil, err
	}
	if result.Status != ResultSuccess {
		msg := result.Error
		if msg == "" {
			msg = "moderation plugin did not complete synchronously"
		}
		_, _ = s.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecFailed, result.Data, msg, result.Usage)
		if s.metrics != nil {
			s.metrics.PluginExecuted(DefaultModerationPlugin, "failed")
		}
		return nil, apperror.Internal(nil).WithDetail(msg)
	}

	if _, err := s.store.UpdatePluginExecution(ctx, execution.ID, models.PluginExecCompleted, result.Data, "", result.Usage); err != nil {
		return nil, err
	}
	if err := s.recordModerationResult(ctx, task.TenantID, payload.MediaID, result.Data); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PluginExecuted(DefaultModerationPlugin, "completed")
	}
	return result.Data, nil
}

// recordModerationResult writes the classification under its own metadata
// key, merged with whatever metadata is already there, so this handler only
// ever touches moderation fields per spec's concurrent-handler-write note.
func (s *Service) recordModerationResult(ctx context.Context, tenantID, mediaID string, data map[string]any) error {
	media, err := s.store.GetMedia(ctx, tenantID, mediaID)
	if err != nil {
		return err
	}
	metadata := make(map[string]any, len(media.Metadata)+1)
	for k, v := range media.Metadata {
		metadata[k] = v
	}
	metadata["moderation"] = data
	_, err = s.store.UpdateMedia(ctx, tenantID, mediaID, catalog.MediaUpdate{Metadata: metadata})
	return err
}
