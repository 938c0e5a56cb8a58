package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/crypto"
	"mindia/internal/models"
	"mindia/internal/plugin"
)

type pluginHandler struct {
	store   *catalog.Store
	service *plugin.Service
	crypto  *crypto.Service
	logger  *slog.Logger
}

// MountPlugins registers plugin configuration and execution routes.
func MountPlugins(r chi.Router, store *catalog.Store, service *plugin.Service, cryptoSvc *crypto.Service, logger *slog.Logger) {
	h := &pluginHandler{store: store, service: service, crypto: cryptoSvc, logger: logger}
	r.Get("/plugins", h.handleList)
	r.Put("/plugins/{name}/config", h.handleSetConfig)
	r.Get("/plugins/{name}/config", h.handleGetConfig)
	r.Post("/plugins/{name}/execute", h.handleExecute)
}

func (h *pluginHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	configs, err := h.store.ListPluginConfigs(r.Context(), tenantID)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, configs)
}

type setPluginConfigRequest struct {
	Enabled         bool           `json:"enabled"`
	PublicConfig    map[string]any `json:"public_config,omitempty"`
	SensitiveConfig map[string]any `json:"sensitive_config,omitempty"`
}

func (h *pluginHandler) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	name := chi.URLParam(r, "name")
	var req setPluginConfigRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}

	cfg := models.PluginConfig{
		TenantID:     tenantID,
		PluginName:   name,
		Enabled:      req.Enabled,
		PublicConfig: req.PublicConfig,
	}
	if len(req.SensitiveConfig) > 0 {
		if h.crypto == nil {
			RespondError(w, apperror.Internal(nil).WithDetail("encryption is not configured"), false)
			return
		}
		public, encrypted, err := h.crypto.EncryptSensitiveJSON(req.SensitiveConfig)
		if err != nil {
			RespondError(w, apperror.Internal(err), false)
			return
		}
		for k, v := range public {
			if cfg.PublicConfig == nil {
				cfg.PublicConfig = map[string]any{}
			}
			cfg.PublicConfig[k] = v
		}
		cfg.EncryptedConfig = encrypted
		cfg.UsesEncryption = true

		if h.logger != nil {
			h.logger.Warn("audit: sensitive plugin config write",
				"event", "plugin_config.sensitive_write",
				"tenant_id", tenantID,
				"plugin_name", name,
				"request_id", RequestIDFromContext(r.Context()),
			)
		}
	}

	saved, err := h.store.UpsertPluginConfig(r.Context(), cfg)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, saved)
}

func (h *pluginHandler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	name := chi.URLParam(r, "name")
	cfg, err := h.store.GetPluginConfig(r.Context(), tenantID, name)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, cfg)
}

type executePluginRequest struct {
	MediaID string `json:"media_id"`
}

func (h *pluginHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	name := chi.URLParam(r, "name")
	var req executePluginRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	if req.MediaID == "" {
		RespondError(w, apperror.InvalidInput("media_id is required"), false)
		return
	}
	taskID, err := h.service.ExecutePlugin(r.Context(), tenantID, name, req.MediaID)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}
