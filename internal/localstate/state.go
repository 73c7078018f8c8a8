// Package localstate persists a session's local-first state: the document
// and folder entities, the pending mutation queue, and the drain cursor.
// On load the queue resumes exactly as left off; a restart never discards
// a mutation.
package localstate

import (
	"context"
	"time"

	"inkwell/internal/domain/models"
)

// State is the persisted layout, keyed by account.
type State struct {
	Documents    []models.Document        `json:"documents"`
	Folders      []models.Folder          `json:"folders"`
	PendingQueue []models.PendingMutation `json:"pendingQueue"`
	NextSeq      int64                    `json:"nextSeq"`
	LastSyncedAt *time.Time               `json:"lastSyncedAt,omitempty"`
}

// Empty returns a fresh state for a new account.
func Empty() *State {
	return &State{NextSeq: 1}
}

// Store persists State for one account.
type Store interface {
	// Load returns the persisted state, or Empty() when none exists yet.
	Load(ctx context.Context) (*State, error)
	// Save atomically replaces the persisted state.
	Save(ctx context.Context, state *State) error
	Close() error
}
