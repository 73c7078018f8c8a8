// Package remote defines the boundary the sync drainer talks through. The
// remote side must be idempotent-safe for at-least-once delivery: the queue
// may resend a mutation whose earlier attempt succeeded but whose
// acknowledgment was lost, so implementations de-duplicate by mutation ID.
package remote

import (
	"context"

	"inkwell/internal/domain/models"
)

// Store applies mutations for one account against the remote system.
//
// Apply returns nil on success, a *domain.TransientSyncError when the
// remote is unreachable (the drainer retries with backoff), or a
// *domain.RejectedSyncError on definitive refusal (the drainer blocks the
// queue at that entry).
type Store interface {
	Apply(ctx context.Context, m *models.PendingMutation) error
	// Ping is the connectivity probe used by the online/offline monitor.
	Ping(ctx context.Context) error
}
