package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"inkwell/internal/domain/models"
	"inkwell/internal/remote"
	"inkwell/internal/syncqueue"
)

// fakeRemote accepts everything and records the operations it saw.
type fakeRemote struct {
	mu      sync.Mutex
	applied []models.PendingMutation
}

func (f *fakeRemote) Apply(ctx context.Context, m *models.PendingMutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, *m)
	return nil
}

func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

func (f *fakeRemote) ops() []models.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Operation, len(f.applied))
	for i, m := range f.applied {
		out[i] = m.Operation
	}
	return out
}

func testConfig(rem remote.Store, dir string) Config {
	return Config{
		StateBackend:  "file",
		StateDir:      dir,
		QuietPeriod:   20 * time.Millisecond,
		ProbeInterval: time.Hour, // keep the probe out of the way
		Queue: syncqueue.Options{
			SendTimeout:    time.Second,
			BaseRetryDelay: 5 * time.Millisecond,
			MaxRetryDelay:  20 * time.Millisecond,
		},
		Remote: func(accountID string) remote.Store { return rem },
		Logger: slog.New(slog.DiscardHandler),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{}
	dir := t.TempDir()

	s, err := Open(ctx, "acct", testConfig(rem, dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	folder, err := s.Hierarchy.CreateFolder(nil, "Inbox")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	doc, err := s.Hierarchy.CreateDocument(&folder.ID, "Draft")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	// Debounced content edits coalesce into one upsert.
	s.Coalescer.OnChange(doc.ID, json.RawMessage(`{"rev":1}`))
	s.Coalescer.OnChange(doc.ID, json.RawMessage(`{"rev":2}`))
	s.Coalescer.Flush(doc.ID)

	waitFor(t, "drain", func() bool {
		st := s.Engine.Status()
		return st.Status == models.StatusSynced && st.PendingCount == 0
	})

	got := rem.ops()
	if len(got) != 3 || got[0] != models.OpCreate || got[1] != models.OpCreate || got[2] != models.OpUpsertContent {
		t.Fatalf("remote saw %v, want [create create upsertContent]", got)
	}

	stored, err := s.Hierarchy.GetDocument(doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if string(stored.Content) != `{"rev":2}` {
		t.Errorf("content = %s, want final coalesced value", stored.Content)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// Closing a session flushes pending debounced writes, and reopening the
// same account restores the tree and keeps draining whatever was queued.
func TestSessionCloseFlushesAndReopens(t *testing.T) {
	ctx := context.Background()
	rem := &fakeRemote{}
	dir := t.TempDir()

	s, err := Open(ctx, "acct", testConfig(rem, dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	doc, err := s.Hierarchy.CreateDocument(nil, "Note")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	// Pending write at teardown must be committed, not dropped.
	s.Coalescer.OnChange(doc.ID, json.RawMessage(`{"final":true}`))
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(ctx, "acct", testConfig(rem, dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close(ctx)

	restored, err := s2.Hierarchy.GetDocument(doc.ID)
	if err != nil {
		t.Fatalf("document lost across restart: %v", err)
	}
	if string(restored.Content) != `{"final":true}` {
		t.Errorf("restored content = %s, want flushed value", restored.Content)
	}
}
