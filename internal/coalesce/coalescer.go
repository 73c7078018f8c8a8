// Package coalesce turns a stream of rapid content-change events into at
// most one persisted write per quiet interval, without ever losing the
// final state. Each pending write is a tiny state machine: idle until the
// first change, pending while the debounce window runs, then committed
// (window elapsed or flushed) or cancelled.
package coalesce

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// DefaultQuietPeriod is the debounce window applied between the last
// change event and the persisted write.
const DefaultQuietPeriod = 500 * time.Millisecond

// CommitFunc receives the final coalesced content for a document. The
// coalescer calls it synchronously from Flush and from the timer goroutine
// when a quiet period elapses.
type CommitFunc func(documentID string, content json.RawMessage)

type pendingWrite struct {
	content json.RawMessage
	timer   Timer
}

// Coalescer debounces per-document content writes. Coalescing is keyed per
// document: a pending timer for one document is unaffected by changes to
// another.
type Coalescer struct {
	mu      sync.Mutex
	quiet   time.Duration
	clock   Clock
	commit  CommitFunc
	pending map[string]*pendingWrite
	logger  *slog.Logger
}

// New creates a coalescer committing through commit after quiet elapses
// with no further changes. A zero quiet falls back to DefaultQuietPeriod.
func New(quiet time.Duration, clock Clock, commit CommitFunc, logger *slog.Logger) *Coalescer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Coalescer{
		quiet:   quiet,
		clock:   clock,
		commit:  commit,
		pending: make(map[string]*pendingWrite),
		logger:  logger,
	}
}

// OnChange records content as the pending write for documentID and
// (re)starts its quiet-period timer.
func (c *Coalescer) OnChange(documentID string, content json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pw, ok := c.pending[documentID]; ok {
		pw.timer.Stop()
		pw.content = append(json.RawMessage(nil), content...)
		pw.timer = c.clock.AfterFunc(c.quiet, func() { c.commitElapsed(documentID) })
		return
	}
	pw := &pendingWrite{content: append(json.RawMessage(nil), content...)}
	pw.timer = c.clock.AfterFunc(c.quiet, func() { c.commitElapsed(documentID) })
	c.pending[documentID] = pw
}

// commitElapsed runs when a quiet period elapses.
func (c *Coalescer) commitElapsed(documentID string) {
	c.mu.Lock()
	pw, ok := c.pending[documentID]
	if !ok {
		// Flushed or cancelled between timer fire and lock acquisition.
		c.mu.Unlock()
		return
	}
	delete(c.pending, documentID)
	content := pw.content
	c.mu.Unlock()

	c.commit(documentID, content)
}

// Flush commits a pending write for documentID synchronously, if one
// exists. It must be called on every path that stops observing the
// document: switching documents, tearing down the editing surface,
// explicit saves. Calling it with nothing pending is a no-op.
func (c *Coalescer) Flush(documentID string) {
	c.mu.Lock()
	pw, ok := c.pending[documentID]
	if !ok {
		c.mu.Unlock()
		return
	}
	pw.timer.Stop()
	delete(c.pending, documentID)
	content := pw.content
	c.mu.Unlock()

	c.commit(documentID, content)
}

// FlushAll commits every pending write. Used at session teardown.
func (c *Coalescer) FlushAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Flush(id)
	}
}

// Cancel discards a pending write without committing. Used only when the
// document itself is being discarded before its debounce window elapsed.
func (c *Coalescer) Cancel(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pw, ok := c.pending[documentID]; ok {
		pw.timer.Stop()
		delete(c.pending, documentID)
		if c.logger != nil {
			c.logger.Debug("pending write cancelled", "document_id", documentID)
		}
	}
}

// PendingCount reports how many documents currently hold a pending write.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
