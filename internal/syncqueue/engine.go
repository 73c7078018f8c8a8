// Package syncqueue owns the offline mutation queue and the sync state
// machine. Every local mutation is appended here the instant it is applied
// locally, and a single drainer goroutine replays the queue head-first
// against the remote store. Status transitions (synced, syncing, offline,
// error) happen synchronously with the events that cause them and are
// published to subscribers.
package syncqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"inkwell/internal/domain"
	"inkwell/internal/domain/models"
	"inkwell/internal/localstate"
	"inkwell/internal/remote"
)

// SnapshotFunc returns the current local entity state for persistence.
// Wired to the hierarchy store after both sides are constructed.
type SnapshotFunc func() ([]models.Folder, []models.Document)

// Options tunes the drainer. Zero values select defaults.
type Options struct {
	// SendTimeout bounds each remote apply; an in-flight send never wedges
	// the drainer indefinitely. Default 10s.
	SendTimeout time.Duration
	// BaseRetryDelay and MaxRetryDelay bound the exponential backoff after
	// transient failures. Defaults 1s and 60s.
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	// PersistTimeout bounds each local-state save. Default 5s.
	PersistTimeout time.Duration
}

func (o *Options) defaults() {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 60 * time.Second
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
}

// Engine is the FIFO mutation queue plus its serialized drainer.
// It implements hierarchy.MutationSink.
type Engine struct {
	mu           sync.Mutex
	queue        []models.PendingMutation
	nextSeq      int64
	lastSyncedAt *time.Time
	status       models.SyncStatus
	lastErr      string
	online       bool
	failures     int
	dirty        bool

	snapshot SnapshotFunc

	store  localstate.Store
	remote remote.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	subMu   sync.Mutex
	subs    map[int]chan models.StatusSnapshot
	nextSub int

	kick chan struct{} // work arrived
	wake chan struct{} // connectivity/error state changed; bypass backoff
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds an engine resuming from persisted state. Call SetSnapshot and
// Start before recording mutations.
func New(state *localstate.State, store localstate.Store, rem remote.Store, opts Options, logger *slog.Logger) *Engine {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if state == nil {
		state = localstate.Empty()
	}
	e := &Engine{
		queue:        append([]models.PendingMutation(nil), state.PendingQueue...),
		nextSeq:      state.NextSeq,
		lastSyncedAt: state.LastSyncedAt,
		status:       models.StatusSynced,
		online:       true,
		store:        store,
		remote:       rem,
		opts:         opts,
		logger:       logger.With("component", "syncqueue"),
		now:          time.Now,
		subs:         make(map[int]chan models.StatusSnapshot),
		kick:         make(chan struct{}, 1),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	if e.nextSeq < 1 {
		e.nextSeq = 1
	}
	if len(e.queue) > 0 {
		e.status = models.StatusSyncing
	}
	return e
}

// SetSnapshot wires the entity snapshot source. Must be called before Start.
func (e *Engine) SetSnapshot(fn SnapshotFunc) {
	e.mu.Lock()
	e.snapshot = fn
	e.mu.Unlock()
}

// Start launches the drainer goroutine. A queue restored from disk begins
// draining immediately.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		go e.run()
		if e.pendingCount() > 0 {
			e.kickDrain()
		}
	})
}

// Close stops the drainer, waits for it to finish, and persists final state.
// An in-flight send completes (bounded by SendTimeout) before return.
func (e *Engine) Close(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stop) })
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.persist(ctx)
}

// RecordMutation appends a mutation to the queue. Called synchronously by
// the hierarchy store while holding its own lock, so this must not block on
// network I/O or call back into the store; persistence is deferred to the
// drainer goroutine, which snapshots the store with no locks held.
func (e *Engine) RecordMutation(target models.TargetType, targetID string, op models.Operation, payload json.RawMessage) {
	e.mu.Lock()
	m := models.PendingMutation{
		ID:         e.nextSeq,
		TargetType: target,
		TargetID:   targetID,
		Operation:  op,
		Payload:    payload,
		CreatedAt:  e.now().UTC(),
	}
	e.nextSeq++
	e.queue = append(e.queue, m)

	// Offline and error states hold their status; the queue just grows.
	if e.status == models.StatusSynced {
		e.status = models.StatusSyncing
	}
	e.dirty = true
	snap := e.snapshotStatusLocked()
	e.mu.Unlock()

	e.publish(snap)
	// Always kick: even a parked drainer (offline, error) must persist the
	// grown queue.
	e.kickDrain()
}

// SetOnline reports a connectivity change. Going online wakes the drainer
// immediately, bypassing any backoff in progress. Going offline flips the
// status but never discards queued work. An error state is not cleared by
// connectivity: the blocked entry still needs ClearError.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	if e.online == online {
		e.mu.Unlock()
		return
	}
	e.online = online
	if online {
		e.failures = 0
		if e.status == models.StatusOffline {
			e.status = e.idleStatusLocked()
		}
	} else if e.status == models.StatusSynced || e.status == models.StatusSyncing {
		e.status = models.StatusOffline
	}
	snap := e.snapshotStatusLocked()
	e.mu.Unlock()

	e.publish(snap)
	if online {
		e.wakeDrain()
		e.kickDrain()
	}
}

// ClearError drops the queue head that caused a rejected failure and
// resumes draining. A no-op outside the error state. The discarded mutation
// is logged in full; this is the only path that ever removes an
// unacknowledged mutation.
func (e *Engine) ClearError() {
	e.mu.Lock()
	if e.status != models.StatusError {
		e.mu.Unlock()
		return
	}
	if len(e.queue) > 0 {
		dropped := e.queue[0]
		e.queue = append([]models.PendingMutation(nil), e.queue[1:]...)
		e.logger.Warn("discarding rejected mutation",
			"mutation_id", dropped.ID,
			"target_type", dropped.TargetType,
			"target_id", dropped.TargetID,
			"operation", dropped.Operation,
			"attempts", dropped.Attempts,
			"last_error", dropped.LastError)
	}
	e.lastErr = ""
	e.failures = 0
	e.status = e.idleStatusLocked()
	e.dirty = true
	snap := e.snapshotStatusLocked()
	e.mu.Unlock()

	e.persistBestEffort()
	e.publish(snap)
	e.wakeDrain()
	e.kickDrain()
}

// Status returns the current snapshot, coherent with the queue.
func (e *Engine) Status() models.StatusSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotStatusLocked()
}

// Subscribe registers a status listener. The returned channel receives every
// transition (slow consumers may miss intermediate snapshots but always see
// the latest). Call cancel to unregister.
func (e *Engine) Subscribe() (<-chan models.StatusSnapshot, func()) {
	ch := make(chan models.StatusSnapshot, 8)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
	return ch, cancel
}

// Pending returns a copy of the queue, head first.
func (e *Engine) Pending() []models.PendingMutation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.PendingMutation(nil), e.queue...)
}

func (e *Engine) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// run is the single drainer goroutine. All sends to the remote store happen
// here, strictly head-first, so mutations apply in the order the user made
// them.
func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case <-e.kick:
		case <-e.wake:
		}
		e.persistIfDirty()
		if !e.drain() {
			return
		}
	}
}

// drain sends queued mutations until the queue empties, a failure pauses
// it, or the engine stops. Returns false when stopping.
func (e *Engine) drain() bool {
	for {
		select {
		case <-e.stop:
			return false
		default:
		}

		e.mu.Lock()
		if e.status == models.StatusError {
			e.mu.Unlock()
			return true // blocked until ClearError
		}
		if !e.online {
			e.mu.Unlock()
			return true // blocked until SetOnline(true)
		}
		if len(e.queue) == 0 {
			if e.status != models.StatusSynced {
				e.status = models.StatusSynced
				snap := e.snapshotStatusLocked()
				e.mu.Unlock()
				e.publish(snap)
				continue
			}
			e.mu.Unlock()
			return true
		}
		// After a transient failure the status stays offline through the
		// retries; it only comes back once a send actually succeeds.
		if e.status != models.StatusSyncing && e.failures == 0 {
			e.status = models.StatusSyncing
			snap := e.snapshotStatusLocked()
			e.mu.Unlock()
			e.publish(snap)
			e.mu.Lock()
		}
		head := e.queue[0]
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), e.opts.SendTimeout)
		err := e.remote.Apply(ctx, &head)
		cancel()

		switch {
		case err == nil:
			e.acknowledge(head.ID)
		case domain.IsRejectedSync(err):
			e.reject(head.ID, err)
			return true
		default:
			// Transient, or unclassified which we treat the same: blocking
			// the queue on an error that might clear itself is worse than an
			// extra retry.
			if !e.backoff(head.ID, err) {
				return false
			}
		}
	}
}

// acknowledge pops the confirmed head and advances the sync cursor.
func (e *Engine) acknowledge(id int64) {
	e.mu.Lock()
	if len(e.queue) > 0 && e.queue[0].ID == id {
		e.queue = append([]models.PendingMutation(nil), e.queue[1:]...)
	}
	now := e.now().UTC()
	e.lastSyncedAt = &now
	e.failures = 0
	e.lastErr = ""
	if e.online && e.status == models.StatusOffline {
		e.status = e.idleStatusLocked()
	}
	e.dirty = true
	snap := e.snapshotStatusLocked()
	e.mu.Unlock()

	e.logger.Debug("mutation acknowledged", "mutation_id", id)
	e.publish(snap)
	e.persistBestEffort()
}

// reject blocks the queue at the failing head until ClearError.
func (e *Engine) reject(id int64, err error) {
	e.mu.Lock()
	if len(e.queue) > 0 && e.queue[0].ID == id {
		e.queue[0].Attempts++
		msg := err.Error()
		e.queue[0].LastError = &msg
	}
	e.status = models.StatusError
	e.lastErr = err.Error()
	e.dirty = true
	snap := e.snapshotStatusLocked()
	e.mu.Unlock()

	e.logger.Error("mutation rejected by remote; queue blocked", "mutation_id", id, "error", err)
	e.publish(snap)
	e.persistBestEffort()
}

// backoff records a transient failure, flips to offline, and sleeps an
// exponentially growing jittered delay before the next attempt. SetOnline,
// ClearError, and shutdown all cut the sleep short. Returns false when
// stopping.
func (e *Engine) backoff(id int64, err error) bool {
	e.mu.Lock()
	if len(e.queue) > 0 && e.queue[0].ID == id {
		e.queue[0].Attempts++
		msg := err.Error()
		e.queue[0].LastError = &msg
	}
	e.failures++
	delay := e.retryDelayLocked()
	if e.status == models.StatusSyncing || e.status == models.StatusSynced {
		e.status = models.StatusOffline
	}
	e.dirty = true
	snap := e.snapshotStatusLocked()
	e.mu.Unlock()

	e.logger.Warn("transient sync failure; backing off",
		"mutation_id", id, "delay", delay, "error", err)
	e.publish(snap)
	e.persistBestEffort()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-e.stop:
		return false
	case <-e.wake:
		return true
	case <-timer.C:
		return true
	}
}

// retryDelayLocked doubles per consecutive failure up to the cap, with up
// to 25% jitter so parallel sessions do not thunder in lockstep.
func (e *Engine) retryDelayLocked() time.Duration {
	delay := e.opts.BaseRetryDelay
	for i := 1; i < e.failures && delay < e.opts.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > e.opts.MaxRetryDelay {
		delay = e.opts.MaxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func (e *Engine) idleStatusLocked() models.SyncStatus {
	if len(e.queue) > 0 {
		return models.StatusSyncing
	}
	return models.StatusSynced
}

func (e *Engine) snapshotStatusLocked() models.StatusSnapshot {
	return models.StatusSnapshot{
		Status:       e.status,
		PendingCount: len(e.queue),
		LastSyncedAt: e.lastSyncedAt,
		Error:        e.lastErr,
	}
}

// persist writes the full local state: entity snapshot, queue, and cursor.
// The snapshot function locks the hierarchy store, whose mutation path calls
// RecordMutation, so it must run with e.mu released. A mutation recorded
// mid-persist re-sets dirty and the next kick writes again.
func (e *Engine) persist(ctx context.Context) error {
	e.mu.Lock()
	e.dirty = false
	fn := e.snapshot
	e.mu.Unlock()

	var folders []models.Folder
	var documents []models.Document
	if fn != nil {
		folders, documents = fn()
	}

	e.mu.Lock()
	state := &localstate.State{
		Documents:    documents,
		Folders:      folders,
		PendingQueue: append([]models.PendingMutation(nil), e.queue...),
		NextSeq:      e.nextSeq,
		LastSyncedAt: e.lastSyncedAt,
	}
	e.mu.Unlock()
	return e.store.Save(ctx, state)
}

// persistBestEffort saves and logs failures instead of propagating them: a
// failed save must not lose the in-memory queue, and the next state change
// retries the write anyway.
func (e *Engine) persistBestEffort() {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.PersistTimeout)
	defer cancel()
	if err := e.persist(ctx); err != nil {
		e.logger.Error("persisting local state failed", "error", err)
	}
}

func (e *Engine) persistIfDirty() {
	e.mu.Lock()
	dirty := e.dirty
	e.mu.Unlock()
	if dirty {
		e.persistBestEffort()
	}
}

func (e *Engine) publish(snap models.StatusSnapshot) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			// Drop the oldest buffered snapshot so the latest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (e *Engine) kickDrain() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) wakeDrain() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
