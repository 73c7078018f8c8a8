package handler

import (
	"log/slog"
	"net/http"

	"inkwell/internal/handler/sse"
	"inkwell/internal/httputil"
	"inkwell/internal/session"
)

// SyncHandler exposes the sync state machine: the status surface, the
// live status stream, the error-clearing escape hatch, and the manual
// connectivity override.
type SyncHandler struct {
	sessions *session.Manager
	sseCfg   *sse.Config
	logger   *slog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(sessions *session.Manager, sseCfg *sse.Config, logger *slog.Logger) *SyncHandler {
	if sseCfg == nil {
		sseCfg = sse.DefaultConfig()
	}
	return &SyncHandler{sessions: sessions, sseCfg: sseCfg, logger: logger}
}

// GetStatus returns the current sync snapshot.
// GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}
	httputil.RespondJSON(w, http.StatusOK, s.Engine.Status())
}

// StreamStatus streams status snapshots over SSE. The current snapshot is
// sent immediately, then every transition until the client disconnects.
// GET /api/sync/events
func (h *SyncHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	writer, err := sse.NewEventWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, unsubscribe := s.Engine.Subscribe()
	defer unsubscribe()

	if err := writer.WriteEvent("status", s.Engine.Status()); err != nil {
		return
	}

	keepAlive := sse.NewTickerKeepAlive(h.sseCfg.KeepAliveInterval)
	keepAliveDone := keepAlive.Start(writer, h.logger)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAliveDone:
			// Keep-alive failed: the connection is gone.
			return
		case snap := <-updates:
			if err := writer.WriteEvent("status", snap); err != nil {
				h.logger.Debug("status stream write failed", "error", err)
				return
			}
		}
	}
}

// ClearError discards the queue entry blocking an error state and resumes
// draining. This is the explicit user acknowledgment; nothing else ever
// skips a rejected mutation.
// POST /api/sync/clear-error
func (h *SyncHandler) ClearError(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}
	s.Engine.ClearError()
	httputil.RespondJSON(w, http.StatusOK, s.Engine.Status())
}

// SetConnectivity forces online or offline, e.g. a "work offline" toggle.
// PUT /api/sync/connectivity
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}

	var req ConnectivityRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.SetOnline(*req.Online)
	httputil.RespondJSON(w, http.StatusOK, s.Engine.Status())
}

// ListPending returns the queue contents, head first. Debug surface for
// inspecting what is waiting to sync.
// GET /api/sync/pending
func (h *SyncHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	s, ok := accountSession(w, r, h.sessions)
	if !ok {
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"pending": s.Engine.Pending(),
	})
}
