package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
)

type webhookHandler struct {
	store *catalog.Store
}

// MountWebhooks registers webhook CRUD routes.
func MountWebhooks(r chi.Router, store *catalog.Store) {
	h := &webhookHandler{store: store}
	r.Post("/webhooks", h.handleCreate)
	r.Get("/webhooks", h.handleList)
	r.Get("/webhooks/{id}", h.handleGet)
	r.Delete("/webhooks/{id}", h.handleDelete)
}

type createWebhookRequest struct {
	URL       string `json:"url"`
	EventType string `json:"event_type"`
}

func (h *webhookHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	var req createWebhookRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	if req.URL == "" || req.EventType == "" {
		RespondError(w, apperror.InvalidInput("url and event_type are required"), false)
		return
	}
	webhook, err := h.store.CreateWebhook(r.Context(), models.Webhook{
		TenantID:  tenantID,
		URL:       req.URL,
		EventType: req.EventType,
		IsActive:  true,
	})
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusCreated, webhook)
}

func (h *webhookHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	webhooks, err := h.store.ListWebhooks(r.Context(), tenantID)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, webhooks)
}

func (h *webhookHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	webhook, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	if webhook.TenantID != TenantFromContext(r.Context()) {
		RespondError(w, apperror.NotFound("webhook not found"), false)
		return
	}
	Respond(w, http.StatusOK, webhook)
}

func (h *webhookHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteWebhook(r.Context(), tenantID, id); err != nil {
		RespondError(w, err, false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
