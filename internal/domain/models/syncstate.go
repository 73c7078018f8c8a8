package models

import (
	"time"
)

// SyncStatus is the single coherent sync health signal exposed to the UI.
type SyncStatus string

const (
	// StatusSynced - queue empty, last drain succeeded.
	StatusSynced SyncStatus = "synced"
	// StatusSyncing - queue non-empty, a drain is in flight.
	StatusSyncing SyncStatus = "syncing"
	// StatusOffline - connectivity has failed; the queue may be non-empty.
	StatusOffline SyncStatus = "offline"
	// StatusError - the most recent drain failed for a non-connectivity
	// reason and the queue is blocked at that entry.
	StatusError SyncStatus = "error"
)

// StatusSnapshot is the read-only view served to the status indicator.
// It updates synchronously with every state transition.
type StatusSnapshot struct {
	Status       SyncStatus `json:"status"`
	PendingCount int        `json:"pending_count"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}
