// Package session wires the per-account engine: local state storage, the
// hierarchy store, write coalescing, the sync queue, and the connectivity
// monitor, opened lazily per account and torn down in dependency order.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"inkwell/internal/coalesce"
	"inkwell/internal/connectivity"
	"inkwell/internal/hierarchy"
	"inkwell/internal/localstate"
	"inkwell/internal/remote"
	"inkwell/internal/syncqueue"
)

// Session is one account's fully wired engine.
type Session struct {
	AccountID string
	Hierarchy *hierarchy.Store
	Coalescer *coalesce.Coalescer
	Engine    *syncqueue.Engine

	monitor *connectivity.Monitor
	state   localstate.Store
	logger  *slog.Logger
}

// Config holds everything a session needs beyond its account ID.
type Config struct {
	// StateBackend selects the localstate backend: "file", "sqlite", or
	// "memory".
	StateBackend string
	// StateDir is the directory holding local state.
	StateDir string
	// QuietPeriod is the write-coalescing debounce window.
	QuietPeriod time.Duration
	// ProbeInterval is the connectivity probe cadence.
	ProbeInterval time.Duration
	Queue         syncqueue.Options
	// Remote builds the per-account remote store.
	Remote func(accountID string) remote.Store
	Logger *slog.Logger
}

// Open loads persisted state and wires a session. The restored queue begins
// draining immediately.
func Open(ctx context.Context, accountID string, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("account_id", accountID)

	state, err := localstate.Open(cfg.StateBackend, cfg.StateDir, accountID)
	if err != nil {
		return nil, fmt.Errorf("open local state: %w", err)
	}
	persisted, err := state.Load(ctx)
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("load local state: %w", err)
	}

	rem := cfg.Remote(accountID)
	engine := syncqueue.New(persisted, state, rem, cfg.Queue, logger)

	hier := hierarchy.NewStore(engine, logger)
	hier.Hydrate(persisted.Folders, persisted.Documents)
	engine.SetSnapshot(hier.Snapshot)

	coalescer := coalesce.New(cfg.QuietPeriod, nil, func(documentID string, content json.RawMessage) {
		if err := hier.UpsertContent(documentID, content); err != nil {
			logger.Error("coalesced write failed", "document_id", documentID, "error", err)
		}
	}, logger)

	monitor := connectivity.NewMonitor(rem, engine, cfg.ProbeInterval, logger)

	s := &Session{
		AccountID: accountID,
		Hierarchy: hier,
		Coalescer: coalescer,
		Engine:    engine,
		monitor:   monitor,
		state:     state,
		logger:    logger,
	}
	engine.Start()
	monitor.Start()
	logger.Info("session opened",
		"pending_mutations", len(persisted.PendingQueue),
		"documents", len(persisted.Documents),
		"folders", len(persisted.Folders))
	return s, nil
}

// SetOnline forces a connectivity state, bypassing the probe.
func (s *Session) SetOnline(online bool) {
	s.monitor.Set(online)
}

// Close tears the session down: pending writes are flushed through the
// coalescer (so nothing typed is lost), the drainer stops and persists, and
// the state store closes.
func (s *Session) Close(ctx context.Context) error {
	s.Coalescer.FlushAll()
	s.monitor.Stop()
	if err := s.Engine.Close(ctx); err != nil {
		s.state.Close()
		return fmt.Errorf("close sync engine: %w", err)
	}
	if err := s.state.Close(); err != nil {
		return fmt.Errorf("close local state: %w", err)
	}
	s.logger.Info("session closed")
	return nil
}
