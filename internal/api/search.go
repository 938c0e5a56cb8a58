package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mindia/internal/apperror"
	"mindia/internal/embedding"
)

type searchHandler struct {
	service *embedding.Service
}

// MountSearch registers the semantic search route.
func MountSearch(r chi.Router, service *embedding.Service) {
	h := &searchHandler{service: service}
	r.Get("/search", h.handleSearch)
}

func (h *searchHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	query := r.URL.Query().Get("q")
	if query == "" {
		RespondError(w, apperror.InvalidInput("q is required"), false)
		return
	}
	topK := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			topK = n
		}
	}

	results, err := h.service.Search(r.Context(), tenantID, query, topK)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, results)
}
