package handler

import (
	"log/slog"
	"net/http"

	"inkwell/internal/hierarchy"
	"inkwell/internal/httputil"
	"inkwell/internal/session"
)

// DropHandler resolves drag-and-drop intents against the hierarchy.
type DropHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewDropHandler creates a new drop handler.
func NewDropHandler(sessions *session.Manager, logger *slog.Logger) *DropHandler {
	return &DropHandler{sessions: sessions, logger: logger}
}

// Drop applies a drag-and-drop: source lands above/below the target in its
// sibling list, or inside a target folder as its last child. The updated
// tree comes back so the UI can re-render without a second round trip.
// POST /api/drop
func (h *DropHandler) Drop(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	var req DropRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.Hierarchy.Drop(hierarchy.DropRequest{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		Position: hierarchy.DropPosition(req.Position),
	})
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, s.Hierarchy.Tree())
}
