package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
)

type folderHandler struct {
	store *catalog.Store
}

// MountFolders registers folder CRUD and tree listing routes.
func MountFolders(r chi.Router, store *catalog.Store) {
	h := &folderHandler{store: store}
	r.Post("/folders", h.handleCreate)
	r.Get("/folders", h.handleList)
	r.Get("/folders/tree", h.handleTree)
	r.Patch("/folders/{id}", h.handleRename)
	r.Delete("/folders/{id}", h.handleDelete)
}

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

func (h *folderHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	var req createFolderRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	if req.Name == "" {
		RespondError(w, apperror.InvalidInput("name is required"), false)
		return
	}
	folder, err := h.store.CreateFolder(r.Context(), models.Folder{
		TenantID: tenantID,
		Name:     req.Name,
		ParentID: req.ParentID,
	})
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusCreated, folder)
}

func (h *folderHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	folders, err := h.store.ListFolders(r.Context(), tenantID)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, folders)
}

// handleTree builds a parent/children tree from the flat folder listing,
// since the catalog store only exposes ListFolders.
func (h *folderHandler) handleTree(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	folders, err := h.store.ListFolders(r.Context(), tenantID)
	if err != nil {
		RespondError(w, err, false)
		return
	}
	Respond(w, http.StatusOK, buildFolderTree(folders))
}

type folderNode struct {
	models.Folder
	Children []*folderNode `json:"children,omitempty"`
}

func buildFolderTree(folders []models.Folder) []*folderNode {
	nodes := make(map[string]*folderNode, len(folders))
	for _, f := range folders {
		nodes[f.ID] = &folderNode{Folder: f}
	}
	var roots []*folderNode
	for _, f := range folders {
		node := nodes[f.ID]
		if f.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		if parent, ok := nodes[*f.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	return roots
}

type renameFolderRequest struct {
	Name string `json:"name"`
}

func (h *folderHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	id := chi.URLParam(r, "id")
	var req renameFolderRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err, false)
		return
	}
	if req.Name == "" {
		RespondError(w, apperror.InvalidInput("name is required"), false)
		return
	}
	if err := h.store.RenameFolder(r.Context(), tenantID, id, req.Name); err != nil {
		RespondError(w, err, false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *folderHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteFolder(r.Context(), tenantID, id); err != nil {
		RespondError(w, err, false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
