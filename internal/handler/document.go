package handler

import (
	"log/slog"
	"net/http"

	"inkwell/internal/httputil"
	"inkwell/internal/session"
)

// DocumentHandler handles document HTTP requests.
type DocumentHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(sessions *session.Manager, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{sessions: sessions, logger: logger}
}

// HealthCheck reports liveness.
// GET /health
func (h *DocumentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateDocument creates a new document, placed last in its folder.
// POST /api/documents
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	var req CreateDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := s.Hierarchy.CreateDocument(req.FolderID, req.Title)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, doc)
}

// GetDocument retrieves a document by ID, content included.
// GET /api/documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	doc, err := s.Hierarchy.GetDocument(r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc)
}

// UpdateDocument retitles, moves, and/or reorders a document. Parts apply
// in that order and each is atomic on its own; a failure partway leaves the
// earlier parts applied.
// PATCH /api/documents/{id}
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}
	id := r.PathValue("id")

	var req UpdateDocumentRequest
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

	if req.Title != nil {
		if err := s.Hierarchy.UpdateTitle(id, *req.Title); err != nil {
			handleError(w, err)
			return
		}
	}
	if req.FolderID.Present {
		if err := s.Hierarchy.MoveDocumentToFolder(id, req.FolderID.Value); err != nil {
			handleError(w, err)
			return
		}
	}
	if req.Index != nil {
		if err := s.Hierarchy.ReorderDocument(id, *req.Index); err != nil {
			handleError(w, err)
			return
		}
	}

	doc, err := s.Hierarchy.GetDocument(id)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc)
}

// UpdateContent records a content change. The write is debounced: rapid
// successive updates coalesce into one persisted write after the quiet
// period. The response acknowledges receipt, not persistence.
// PUT /api/documents/{id}/content
func (h *DocumentHandler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}
	id := r.PathValue("id")

	// Reject changes to unknown documents up front; the debounced commit
	// path has no response to fail on.
	if _, err := s.Hierarchy.GetDocument(id); err != nil {
		handleError(w, err)
		return
	}

	var req ContentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.Coalescer.OnChange(id, req.Content)
	w.WriteHeader(http.StatusAccepted)
}

// FlushContent commits any pending debounced write immediately. Called when
// the editor stops observing the document: switches away, closes, or saves
// explicitly.
// POST /api/documents/{id}/content/flush
func (h *DocumentHandler) FlushContent(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	s.Coalescer.Flush(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// DeleteDocument deletes a document. A pending debounced write for it is
// discarded, not committed.
// DELETE /api/documents/{id}
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}
	id := r.PathValue("id")

	s.Coalescer.Cancel(id)
	if err := s.Hierarchy.DeleteDocument(id); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
