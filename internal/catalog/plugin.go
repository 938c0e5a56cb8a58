package catalog

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"mindia/internal/apperror"
	"mindia/internal/models"
)

// UpsertPluginConfig creates or replaces a tenant's configuration for a
// named plugin.
func (s *Store) UpsertPluginConfig(ctx context.Context, cfg models.PluginConfig) (models.PluginConfig, error) {
	public, err := json.Marshal(cfg.PublicConfig)
	if err != nil {
		return models.PluginConfig{}, apperror.Internal(err)
	}
	const q = `
		INSERT INTO plugin_configs (tenant_id, plugin_name, enabled, public_config, encrypted_config, uses_encryption)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, plugin_name) DO UPDATE SET
			enabled = excluded.enabled, public_config = excluded.public_config,
			encrypted_config = excluded.encrypted_config, uses_encryption = excluded.uses_encryption
		RETURNING ` + pluginConfigColumns
	return scanPluginConfig(s.pool.QueryRow(ctx, q, cfg.TenantID, cfg.PluginName, cfg.Enabled, public, cfg.EncryptedConfig, cfg.UsesEncryption))
}

// GetPluginConfig fetches one tenant's plugin configuration.
func (s *Store) GetPluginConfig(ctx context.Context, tenantID, pluginName string) (models.PluginConfig, error) {
	const q = `SELECT ` + pluginConfigColumns + ` FROM plugin_configs WHERE tenant_id = $1 AND plugin_name = $2`
	cfg, err := scanPluginConfig(s.pool.QueryRow(ctx, q, tenantID, pluginName))
	if err != nil {
		return models.PluginConfig{}, mapErr(err, "plugin_config")
	}
	return cfg, nil
}

// ListPluginConfigs returns every plugin a tenant has configured.
func (s *Store) ListPluginConfigs(ctx context.Context, tenantID string) ([]models.PluginConfig, error) {
	const q = `SELECT ` + pluginConfigColumns + ` FROM plugin_configs WHERE tenant_id = $1 ORDER BY plugin_name`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, mapErr(err, "plugin_config")
	}
	defer rows.Close()

	var out []models.PluginConfig
	for rows.Next() {
		cfg, err := scanPluginConfig(rows)
		if err != nil {
			return nil, mapErr(err, "plugin_config")
		}
		out = append(out, cfg)
	}
	return out, mapErr(rows.Err(), "plugin_config")
}

// CreatePluginExecution records a new Pending plugin run.
func (s *Store) CreatePluginExecution(ctx context.Context, e models.PluginExecution) (models.PluginExecution, error) {
	e.ID = uuid.NewString()
	result, err := json.Marshal(e.Result)
	if err != nil {
		return models.PluginExecution{}, apperror.Internal(err)
	}
	usage, err := json.Marshal(e.Usage)
	if err != nil {
		return models.PluginExecution{}, apperror.Internal(err)
	}
	const q = `
		INSERT INTO plugin_executions (id, tenant_id, plugin_name, media_id, task_id, status, result, error, usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + pluginExecutionColumns
	return scanPluginExecution(s.pool.QueryRow(ctx, q, e.ID, e.TenantID, e.PluginName, e.MediaID, e.TaskID, e.Status, result, nullString(e.Error), usage))
}

// GetPluginExecution fetches one execution row by ID.
func (s *Store) GetPluginExecution(ctx context.Context, id string) (models.PluginExecution, error) {
	const q = `SELECT ` + pluginExecutionColumns + ` FROM plugin_executions WHERE id = $1`
	e, err := scanPluginExecution(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return models.PluginExecution{}, mapErr(err, "plugin_execution")
	}
	return e, nil
}

// UpdatePluginExecution records the transition to Running, Completed, or
// Failed along with the plugin's result, error, and usage accounting.
func (s *Store) UpdatePluginExecution(ctx context.Context, id string, status models.PluginExecutionStatus, result map[string]any, execErr string, usage models.Usage) (models.PluginExecution, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return models.PluginExecution{}, apperror.Internal(err)
	}
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return models.PluginExecution{}, apperror.Internal(err)
	}
	const q = `
		UPDATE plugin_executions SET status = $2, result = $3, error = $4, usage = $5, updated_at = now()
		WHERE id = $1
		RETURNING ` + pluginExecutionColumns
	e, err := scanPluginExecution(s.pool.QueryRow(ctx, q, id, status, resultJSON, nullString(execErr), usageJSON))
	if err != nil {
		return models.PluginExecution{}, mapErr(err, "plugin_execution")
	}
	return e, nil
}

// ListPluginExecutionsForMedia returns every plugin run against one media
// item, most recent first.
func (s *Store) ListPluginExecutionsForMedia(ctx context.Context, tenantID, mediaID string) ([]models.PluginExecution, error) {
	const q = `
		SELECT ` + pluginExecutionColumns + `
		FROM plugin_executions WHERE tenant_id = $1 AND media_id = $2 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, tenantID, mediaID)
	if err != nil {
		return nil, mapErr(err, "plugin_execution")
	}
	defer rows.Close()

	var out []models.PluginExecution
	for rows.Next() {
		e, err := scanPluginExecution(rows)
		if err != nil {
			return nil, mapErr(err, "plugin_execution")
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err(), "plugin_execution")
}

const pluginConfigColumns = `
	tenant_id, plugin_name, enabled, public_config, coalesce(encrypted_config, ''::bytea), uses_encryption`

func scanPluginConfig(row rowScanner) (models.PluginConfig, error) {
	var cfg models.PluginConfig
	var public []byte
	if err := row.Scan(&cfg.TenantID, &cfg.PluginName, &cfg.Enabled, &public, &cfg.EncryptedConfig, &cfg.UsesEncryption); err != nil {
		return models.PluginConfig{}, err
	}
	if len(public) > 0 {
		if err := json.Unmarshal(public, &cfg.PublicConfig); err != nil {
			return models.PluginConfig{}, apperror.Internal(err)
		}
	}
	if len(cfg.EncryptedConfig) == 0 {
		cfg.EncryptedConfig = nil
	}
	return cfg, nil
}

const pluginExecutionColumns = `
	id, tenant_id, plugin_name, media_id, task_id, status, result,
	coalesce(error, ''), usage, created_at, updated_at`

func scanPluginExecution(row rowScanner) (models.PluginExecution, error) {
	var e models.PluginExecution
	var result, usage []byte
	var taskID *string
	if err := row.Scan(&e.ID, &e.TenantID, &e.PluginName, &e.MediaID, &taskID, &e.Status, &result, &e.Error, &usage, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return models.PluginExecution{}, err
	}
	e.TaskID = taskID
	if len(result) > 0 {
		if err := json.Unmarshal(result, &e.Result); err != nil {
			return models.PluginExecution{}, apperror.Internal(err)
		}
	}
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &e.Usage); err != nil {
			return models.PluginExecution{}, apperror.Internal(err)
		}
	}
	return e, nil
}
