package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
	"mindia/internal/transform"
)

type presetHandler struct {
	store *catalog.Store
}

// MountPresets registers CRUD routes over named transformation presets,
// mirroring the original system's preset_routes domain alongside the other
// per-resource Mount* groups.
func MountPresets(r chi.Router, store *catalog.Store) {
	h := &presetHandler{store: store}
	r.Post("/presets", h.handleCreate)
	r.Get("/presets", h.handleList)
	r.Get("/presets/{name}", h.handleGet)
	r.Put("/presets/{name}", h.handleUpdate)
	r.Delete("/presets/{name}", h.handleDelete)
}

type presetRequest struct {
	Name       string `json:"name"`
	Operations string `json:"operations"`
}

func (h *presetHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	var req presetRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	if req.Name == "" {
		RespondError(w, apperror.InvalidInput("name is required"), false)
		return
	}
	if err := transform.Validate(req.Operations); err != nil {
		RespondError(w, err, false)
		return
	}
	nt, err := h.store.CreateNamedTransformation(r.Context(), models.NamedTransformation{
		TenantID:   tenantID,
		Name:       req.Name,
		Operations: req.Operations,
	})
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusCreated, nt)
}

func (h *presetHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	presets, err := h.store.ListNamedTransformations(r.Context(), tenantID)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, presets)
}

func (h *presetHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	name := chi.URLParam(r, "name")
	nt, err := h.store.GetNamedTransformation(r.Context(), tenantID, name)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, nt)
}

func (h *presetHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	name := chi.URLParam(r, "name")
	var req presetRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	if err := transform.Validate(req.Operations); err != nil {
		RespondError(w, err, false)
		return
	}
	if err := h.store.UpdateNamedTransformation(r.Context(), tenantID, name, req.Operations); err != nil {
		RespondError(w, err, false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *presetHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	name := chi.URLParam(r, "name")
	if err := h.store.DeleteNamedTransformation(r.Context(), tenantID, name); err != nil {
		RespondError(w, err, false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
