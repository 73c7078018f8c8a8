package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileStore keeps the whole state as one JSON document per account,
// written atomically via a temp file and rename so a crash mid-save never
// leaves a torn file.
type fileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens the JSON-file backend rooted at dir for accountID.
func NewFileStore(dir, accountID string) (Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("localstate: data directory is required")
	}
	if accountID == "" {
		return nil, errors.New("localstate: account id is required")
	}
	return &fileStore{path: filepath.Join(dir, sanitizeAccountID(accountID)+".json")}, nil
}

func (s *fileStore) Load(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("localstate: read %s: %w", s.path, err)
	}
	state := Empty()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("localstate: decode %s: %w", s.path, err)
	}
	if state.NextSeq < 1 {
		state.NextSeq = 1
	}
	return state, nil
}

func (s *fileStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("localstate: encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("localstate: create data directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("localstate: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error { return nil }

// sanitizeAccountID keeps account-derived filenames flat and portable.
func sanitizeAccountID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
