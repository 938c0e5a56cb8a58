package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
	"mindia/internal/workflow"
)

type workflowHandler struct {
	store  *catalog.Store
	engine *workflow.Engine
}

// MountWorkflows registers workflow CRUD and manual-trigger routes.
func MountWorkflows(r chi.Router, store *catalog.Store, engine *workflow.Engine) {
	h := &workflowHandler{store: store, engine: engine}
	r.Post("/workflows", h.handleCreate)
	r.Get("/workflows", h.handleList)
	r.Get("/workflows/{id}", h.handleGet)
	r.Post("/workflows/{id}/trigger/{media_id}", h.handleTrigger)
}

type createWorkflowRequest struct {
	Name            string                 `json:"name"`
	Enabled         bool                   `json:"enabled"`
	Steps           []models.WorkflowStep  `json:"steps"`
	TriggerOnUpload bool                   `json:"trigger_on_upload"`
	StopOnFailure   bool                   `json:"stop_on_failure"`
	Filters         models.WorkflowFilters `json:"filters"`
}

func (h *workflowHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	var req createWorkflowRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	if req.Name == "" || len(req.Steps) == 0 {
		RespondError(w, apperror.InvalidInput("name and at least one step are required"), false)
		return
	}
	wf, err := h.store.CreateWorkflow(r.Context(), models.Workflow{
		TenantID:        tenantID,
		Name:            req.Name,
		Enabled:         req.Enabled,
		Steps:           req.Steps,
		TriggerOnUpload: req.TriggerOnUpload,
		StopOnFailure:   req.StopOnFailure,
		Filters:         req.Filters,
	})
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusCreated, wf)
}

func (h *workflowHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	workflows, err := h.store.ListWorkflows(r.Context(), tenantID)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, workflows)
}

func (h *workflowHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	id := chi.URLParam(r, "id")
	wf, err := h.store.GetWorkflow(r.Context(), tenantID, id)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, wf)
}

func (h *workflowHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	id := chi.URLParam(r, "id")
	mediaID := chi.URLParam(r, "media_id")
	execution, err := h.engine.Trigger(r.Context(), tenantID, id, mediaID)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusAccepted, execution)
}
