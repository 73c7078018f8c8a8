package handler

import (
	"log/slog"
	"net/http"

	"inkwell/internal/httputil"
	"inkwell/internal/session"
)

// FolderHandler handles folder HTTP requests. Every mutation applies to the
// local store synchronously and is queued for sync; responses never wait on
// the network.
type FolderHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewFolderHandler creates a new folder handler.
func NewFolderHandler(sessions *session.Manager, logger *slog.Logger) *FolderHandler {
	return &FolderHandler{sessions: sessions, logger: logger}
}

// CreateFolder creates a new folder, placed last among its siblings.
// POST /api/folders
func (h *FolderHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	var req CreateFolderRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	folder, err := s.Hierarchy.CreateFolder(req.ParentID, req.Name)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, folder)
}

// GetFolder retrieves a folder by ID.
// GET /api/folders/{id}
func (h *FolderHandler) GetFolder(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	folder, err := s.Hierarchy.GetFolder(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, folder)
}

// UpdateFolder renames, moves, and/or reorders a folder. When both a move
// and an index are present the folder is reparented first, then placed at
// the index within its new sibling list. Each part is atomic on its own,
// not the patch as a whole: if the move fails (a cycle, say), an earlier
// rename stays applied and the error response reports the failing part.
// PATCH /api/folders/{id}
func (h *FolderHandler) UpdateFolder(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}
	id := r.PathValue("id")

	var req UpdateFolderRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.empty() {
		httputil.RespondError(w, http.StatusBadRequest, "at least one field must be provided")
		return
	}

	if req.Name != nil {
		if err := s.Hierarchy.RenameFolder(id, *req.Name); err != nil {
			handleError(w, err)
			return
		}
	}
	if req.ParentID.Present {
		if err := s.Hierarchy.MoveFolderTo(id, req.ParentID.Value); err != nil {
			handleError(w, err)
			return
		}
	}
	if req.Index != nil {
		if err := s.Hierarchy.ReorderFolder(id, *req.Index); err != nil {
			handleError(w, err)
			return
		}
	}

	folder, err := s.Hierarchy.GetFolder(id)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, folder)
}

// DeleteFolder deletes a folder. Without ?cascade=true the folder must be
// empty.
// DELETE /api/folders/{id}
func (h *FolderHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	cascade := r.URL.Query().Get("cascade") == "true"
	if err := s.Hierarchy.DeleteFolder(r.PathValue("id"), cascade); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListChildren lists a folder's immediate children in display order. An
// empty {id} of "root" lists the root level.
// GET /api/folders/{id}/children
func (h *FolderHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	var parentID *string
	if id := r.PathValue("id"); id != "root" {
		parentID = &id
		if _, err := s.Hierarchy.GetFolder(id); err != nil {
			handleError(w, err)
			return
		}
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"folders":   s.Hierarchy.ChildFolders(parentID),
		"documents": s.Hierarchy.DocumentsIn(parentID),
	})
}
