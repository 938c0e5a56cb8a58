package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mindia/internal/apperror"
	"mindia/internal/auth"
	"mindia/internal/catalog"
	"mindia/internal/ingest"
	"mindia/internal/models"
)

// mediaHandler wires the ingest coordinator and catalog store into the
// upload/list/get/delete HTTP surface of spec §6.
type mediaHandler struct {
	ingest *ingest.Coordinator
	store  *catalog.Store
	ssrf   *auth.SSRFValidator
}

const maxUploadMemory = 32 << 20

// MountMedia registers the media upload, lookup, listing, and delete routes.
func MountMedia(r chi.Router, coordinator *ingest.Coordinator, store *catalog.Store, ssrf *auth.SSRFValidator) {
	h := &mediaHandler{ingest: coordinator, store: store, ssrf: ssrf}

	for _, mt := range []models.MediaType{models.MediaImage, models.MediaVideo, models.MediaAudio, models.MediaDocument} {
		path := mediaTypePath(mt)
		r.Post(path, h.handleUpload(mt))
		r.Get(path, h.handleList(mt))
	}
	r.Post("/images/from-url", h.handleUploadFromURL)
	r.Get("/media/{id}", h.handleGet)
	r.Delete("/media/{id}", h.handleDelete)
}

func mediaTypePath(mt models.MediaType) string {
	switch mt {
	case models.MediaImage:
		return "/images"
	case models.MediaVideo:
		return "/videos"
	case models.MediaAudio:
		return "/audios"
	default:
		return "/documents"
	}
}

func (h *mediaHandler) handleUpload(mt models.MediaType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := TenantFromContext(r.Context())
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			RespondError(w, apperror.InvalidInput("expected a multipart/form-data upload").WithDetail(err.Error()), false)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			RespondError(w, apperror.InvalidInput("missing form field \"file\""), false)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			RespondError(w, apperror.InvalidInput("reading uploaded file").WithDetail(err.Error()), false)
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = r.FormValue("content_type")
		}

		media, err := h.ingest.IngestBytes(r.Context(), ingest.UploadRequest{
			TenantID:         tenantID,
			MediaType:        mt,
			OriginalFilename: header.Filename,
			ContentType:      contentType,
			Data:             data,
			FolderID:         optionalString(r.FormValue("folder_id")),
			StoreParam:       r.FormValue("store"),
		})
		if err != nil {
			RespondError(w, err, false)
			return
		}
		Respond(w, http.StatusCreated, media)
	}
}

type uploadFromURLRequest struct {
	SourceURL string  `json:"source_url"`
	FolderID  *string `json:"folder_id,omitempty"`
	Store     string  `json:"store,omitempty"`
}

func (h *mediaHandler) handleUploadFromURL(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	var req uploadFromURLRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	if req.SourceURL == "" {
		RespondError(w, apperror.InvalidInput("source_url is required"), false)
		return
	}
	media, err := h.ingest.IngestFromURL(r.Context(), h.ssrf, ingest.URLUploadRequest{
		TenantID:   tenantID,
		MediaType:  models.MediaImage,
		SourceURL:  req.SourceURL,
		FolderID:   req.FolderID,
		StoreParam: req.Store,
	})
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusCreated, media)
}

func (h *mediaHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	id := chi.URLParam(r, "id")
	media, err := h.store.GetMedia(r.Context(), tenantID, id)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, media)
}

func (h *mediaHandler) handleList(mt models.MediaType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := TenantFromContext(r.Context())
		opts := catalog.ListMediaOptions{
			Type:     mt,
			FolderID: optionalString(r.URL.Query().Get("folder_id")),
			Cursor:   r.URL.Query().Get("cursor"),
		}
		if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
			opts.Limit = limit
		}
		items, err := h.store.ListMedia(r.Context(), tenantID, opts)
		if err != nil {
			RespondError(w, err, false)
			return
		}
		Respond(w, http.StatusOK, items)
	}
}

func (h *mediaHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.store.SoftDeleteMedia(r.Context(), tenantID, id); err != nil {
		RespondError(w, err, false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
