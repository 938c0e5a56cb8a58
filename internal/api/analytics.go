package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mindia/internal/catalog"
)

type analyticsHandler struct {
	store *catalog.Store
}

// MountAnalytics registers the storage analytics route.
func MountAnalytics(r chi.Router, store *catalog.Store) {
	h := &analyticsHandler{store: store}
	r.Get("/analytics/storage", h.handleStorage)
}

func (h *analyticsHandler) handleStorage(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	stats, err := h.store.StorageAnalytics(r.Context(), tenantID)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, stats)
}
