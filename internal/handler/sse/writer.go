package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// EventWriter writes named SSE events and keep-alive comments for one
// client connection. Not safe for concurrent use; the status stream handler
// serializes all writes on a single goroutine.
type EventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEventWriter prepares the response for event streaming and returns the
// writer, or an error when the ResponseWriter cannot flush.
func NewEventWriter(w http.ResponseWriter) (*EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &EventWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends one named event with a JSON payload and flushes.
func (e *EventWriter) WriteEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write event failed: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// WriteKeepAlive writes an SSE comment (": keepalive") and flushes.
// Lines starting with ':' are ignored by clients per the SSE spec.
// Returns an error when the connection is closed.
func (e *EventWriter) WriteKeepAlive() error {
	if _, err := fmt.Fprintf(e.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive failed: %w", err)
	}
	e.flusher.Flush()

	// Zero-byte write probes for a closed connection.
	if _, err := e.w.Write([]byte{}); err != nil {
		return fmt.Errorf("connection closed: %w", err)
	}
	return nil
}
