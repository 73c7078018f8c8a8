package handler

import (
	"log/slog"
	"net/http"

	"inkwell/internal/httputil"
	"inkwell/internal/session"
)

// TreeHandler serves the full hierarchy in display order, the shape the
// sidebar renders directly.
type TreeHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewTreeHandler creates a new tree handler.
func NewTreeHandler(sessions *session.Manager, logger *slog.Logger) *TreeHandler {
	return &TreeHandler{sessions: sessions, logger: logger}
}

// GetTree returns the complete folder/document tree.
// GET /api/tree
func (h *TreeHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}
	httputil.RespondJSON(w, http.StatusOK, s.Hierarchy.Tree())
}
