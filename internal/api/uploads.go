package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mindia/internal/apperror"
	"mindia/internal/ingest"
	"mindia/internal/models"
)

type uploadsHandler struct {
	ingest   *ingest.Coordinator
	sessions ingest.SessionStore
}

// MountUploads registers the presigned/chunked upload routes.
func MountUploads(r chi.Router, coordinator *ingest.Coordinator, sessions ingest.SessionStore) {
	h := &uploadsHandler{ingest: coordinator, sessions: sessions}
	r.Post("/uploads/presigned", h.handleStart)
	r.Post("/uploads/presigned/{id}/chunks/{index}", h.handleRecordChunk)
	r.Post("/uploads/presigned/{id}/complete", h.handleComplete)
}

type startPresignedRequest struct {
	MediaType   models.MediaType `json:"media_type"`
	Filename    string           `json:"filename"`
	ContentType string           `json:"content_type"`
	FileSize    int64            `json:"file_size"`
	ChunkSize   int64            `json:"chunk_size,omitempty"`
	FolderID    *string          `json:"folder_id,omitempty"`
	Store       string           `json:"store,omitempty"`
}

func (h *uploadsHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	var req startPresignedRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	result, err := h.ingest.StartPresignedUpload(r.Context(), h.sessions, ingest.StartPresignedUploadRequest{
		TenantID:    tenantID,
		MediaType:   req.MediaType,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		FileSize:    req.FileSize,
		ChunkSize:   req.ChunkSize,
		FolderID:    req.FolderID,
		StoreParam:  req.Store,
	})
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusCreated, result)
}

type recordChunkRequest struct {
	Size int64  `json:"size"`
	ETag string `json:"etag"`
}

func (h *uploadsHandler) handleRecordChunk(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	index, err := parseChunkIndex(chi.URLParam(r, "index"))
	if err != nil {
		RespondError(w, err, false)
		return
	}
	var req recordChunkRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	session, err := h.ingest.RecordChunkUploaded(r.Context(), h.sessions, sessionID, index, req.Size, req.ETag)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, session)
}

type completeUploadRequest struct {
	FolderID *string `json:"folder_id,omitempty"`
	Store    string  `json:"store,omitempty"`
}

func (h *uploadsHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	var req completeUploadRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			RespondError(w, err, false)
			return
		}
	}
	media, err := h.ingest.CompleteUpload(r.Context(), h.sessions, ingest.CompleteUploadRequest{
		TenantID:   tenantID,
		SessionID:  sessionID,
		FolderID:   req.FolderID,
		StoreParam: req.Store,
	})
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusCreated, media)
}

func parseChunkIndex(raw string) (int, error) {
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, apperror.InvalidInput("chunk index must be a non-negative integer")
		}
		n = n*10 + int(c-'0')
	}
	if raw == "" {
		return 0, apperror.InvalidInput("chunk index is required")
	}
	return n, nil
}
