package session

import (
	"context"
	"log/slog"
	"sync"
)

// Manager is the per-account session registry. Sessions open lazily on
// first use and stay open until CloseAll.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
	logger   *slog.Logger
}

// NewManager creates an empty registry.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
	}
}

// Get returns the account's session, opening it on first use. Opening is
// serialized; sessions for different accounts never block each other once
// open.
func (m *Manager) Get(ctx context.Context, accountID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[accountID]; ok {
		return s, nil
	}
	s, err := Open(ctx, accountID, m.cfg)
	if err != nil {
		return nil, err
	}
	m.sessions[accountID] = s
	return s, nil
}

// CloseAll tears down every open session. Used at server shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			m.logger.Error("closing session failed", "account_id", s.AccountID, "error", err)
		}
	}
}
