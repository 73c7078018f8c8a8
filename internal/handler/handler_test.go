package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"inkwell/internal/domain"
	"inkwell/internal/domain/models"
	"inkwell/internal/handler/sse"
	"inkwell/internal/httputil"
	"inkwell/internal/remote"
	"inkwell/internal/session"
	"inkwell/internal/syncqueue"
)

// scriptedRemote lets a test reject specific operations.
type scriptedRemote struct {
	mu      sync.Mutex
	reject  map[models.Operation]bool
	applied []models.PendingMutation
}

func (f *scriptedRemote) Apply(ctx context.Context, m *models.PendingMutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[m.Operation] {
		return &domain.RejectedSyncError{Reason: "rejected by test"}
	}
	f.applied = append(f.applied, *m)
	return nil
}

func (f *scriptedRemote) Ping(ctx context.Context) error { return nil }

type testServer struct {
	mux      *http.ServeMux
	sessions *session.Manager
	remote   *scriptedRemote
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	rem := &scriptedRemote{reject: map[models.Operation]bool{}}
	logger := slog.New(slog.DiscardHandler)

	sessions := session.NewManager(session.Config{
		StateBackend:  "memory",
		StateDir:      t.TempDir(),
		QuietPeriod:   10 * time.Millisecond,
		ProbeInterval: time.Hour,
		Queue: syncqueue.Options{
			SendTimeout:    time.Second,
			BaseRetryDelay: 5 * time.Millisecond,
		},
		Remote: func(accountID string) remote.Store { return rem },
		Logger: logger,
	}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sessions.CloseAll(ctx)
	})

	docs := NewDocumentHandler(sessions, logger)
	folders := NewFolderHandler(sessions, logger)
	trees := NewTreeHandler(sessions, logger)
	drops := NewDropHandler(sessions, logger)
	syncs := NewSyncHandler(sessions, sse.DefaultConfig(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/folders", folders.CreateFolder)
	mux.HandleFunc("GET /api/folders/{id}", folders.GetFolder)
	mux.HandleFunc("PATCH /api/folders/{id}", folders.UpdateFolder)
	mux.HandleFunc("DELETE /api/folders/{id}", folders.DeleteFolder)
	mux.HandleFunc("POST /api/documents", docs.CreateDocument)
	mux.HandleFunc("GET /api/documents/{id}", docs.GetDocument)
	mux.HandleFunc("PUT /api/documents/{id}/content", docs.UpdateContent)
	mux.HandleFunc("POST /api/documents/{id}/content/flush", docs.FlushContent)
	mux.HandleFunc("GET /api/tree", trees.GetTree)
	mux.HandleFunc("POST /api/drop", drops.Drop)
	mux.HandleFunc("GET /api/sync/status", syncs.GetStatus)
	mux.HandleFunc("POST /api/sync/clear-error", syncs.ClearError)

	return &testServer{mux: mux, sessions: sessions, remote: rem}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req = httputil.WithAccountID(req, "acct")
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestFolderDocumentLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/folders", map[string]any{"name": "Inbox"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create folder: %d %s", rec.Code, rec.Body)
	}
	folder := decode[models.Folder](t, rec)

	rec = ts.do(t, "POST", "/api/documents", map[string]any{"title": "Draft", "folder_id": folder.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create document: %d %s", rec.Code, rec.Body)
	}
	doc := decode[models.Document](t, rec)

	// Duplicate folder name at the same level conflicts.
	rec = ts.do(t, "POST", "/api/folders", map[string]any{"name": "Inbox"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate folder: %d, want 409", rec.Code)
	}

	// Content write debounces, then flush persists it.
	rec = ts.do(t, "PUT", "/api/documents/"+doc.ID+"/content", map[string]any{"content": map[string]any{"rev": 1}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("content: %d %s", rec.Code, rec.Body)
	}
	rec = ts.do(t, "POST", "/api/documents/"+doc.ID+"/content/flush", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("flush: %d", rec.Code)
	}
	rec = ts.do(t, "GET", "/api/documents/"+doc.ID, nil)
	got := decode[models.Document](t, rec)
	if string(got.Content) != `{"rev":1}` {
		t.Errorf("content after flush = %s", got.Content)
	}

	// Tree view nests the document under its folder.
	rec = ts.do(t, "GET", "/api/tree", nil)
	tree := decode[models.TreeNode](t, rec)
	if len(tree.Folders) != 1 || len(tree.Folders[0].Documents) != 1 {
		t.Fatalf("tree = %s", rec.Body)
	}

	// Non-empty folder refuses a plain delete, cascade succeeds.
	rec = ts.do(t, "DELETE", "/api/folders/"+folder.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete non-empty: %d, want 409", rec.Code)
	}
	rec = ts.do(t, "DELETE", "/api/folders/"+folder.ID+"?cascade=true", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("cascade delete: %d", rec.Code)
	}
}

func TestValidationAndErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "folder without name", method: "POST", path: "/api/folders", body: map[string]any{}, want: http.StatusBadRequest},
		{name: "document without title", method: "POST", path: "/api/documents", body: map[string]any{}, want: http.StatusBadRequest},
		{name: "missing document", method: "GET", path: "/api/documents/ghost", body: nil, want: http.StatusNotFound},
		{name: "empty patch", method: "PATCH", path: "/api/folders/ghost", body: map[string]any{}, want: http.StatusBadRequest},
		{name: "drop bad position", method: "POST", path: "/api/drop", body: map[string]any{"source_id": "a", "target_id": "b", "position": "sideways"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestDropCycleMapsToConflict(t *testing.T) {
	ts := newTestServer(t)

	parent := decode[models.Folder](t, ts.do(t, "POST", "/api/folders", map[string]any{"name": "P"}))
	child := decode[models.Folder](t, ts.do(t, "POST", "/api/folders", map[string]any{"name": "C"}))
	rec := ts.do(t, "PATCH", "/api/folders/"+child.ID, map[string]any{"parent_id": parent.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("move child: %d %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, "POST", "/api/drop", map[string]any{
		"source_id": parent.ID, "target_id": child.ID, "position": "inside",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("cycle drop = %d, want 409", rec.Code)
	}
}

// A combined patch applies its parts in order; when a later part fails the
// earlier parts stay applied and the response carries the failing part's
// error.
func TestPatchPartsApplyInOrderUntilFailure(t *testing.T) {
	ts := newTestServer(t)

	parent := decode[models.Folder](t, ts.do(t, "POST", "/api/folders", map[string]any{"name": "P"}))
	child := decode[models.Folder](t, ts.do(t, "POST", "/api/folders", map[string]any{"name": "C"}))
	rec := ts.do(t, "PATCH", "/api/folders/"+child.ID, map[string]any{"parent_id": parent.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("move child: %d %s", rec.Code, rec.Body)
	}

	// Rename plus a cycle-making move: rename lands, move is refused.
	rec = ts.do(t, "PATCH", "/api/folders/"+parent.ID, map[string]any{
		"name": "Renamed", "parent_id": child.ID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("cycle patch = %d, want 409 (%s)", rec.Code, rec.Body)
	}

	got := decode[models.Folder](t, ts.do(t, "GET", "/api/folders/"+parent.ID, nil))
	if got.Name != "Renamed" {
		t.Errorf("rename rolled back, name = %q", got.Name)
	}
	if got.ParentID != nil {
		t.Errorf("refused move still applied, parent = %v", *got.ParentID)
	}
}

func TestSyncErrorSurfaceAndClear(t *testing.T) {
	ts := newTestServer(t)
	ts.remote.mu.Lock()
	ts.remote.reject[models.OpCreate] = true
	ts.remote.mu.Unlock()

	ts.do(t, "POST", "/api/folders", map[string]any{"name": "Blocked"})

	deadline := time.Now().Add(2 * time.Second)
	var status models.StatusSnapshot
	for time.Now().Before(deadline) {
		status = decode[models.StatusSnapshot](t, ts.do(t, "GET", "/api/sync/status", nil))
		if status.Status == models.StatusError {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status.Status != models.StatusError {
		t.Fatalf("status = %+v, want error", status)
	}

	ts.remote.mu.Lock()
	ts.remote.reject[models.OpCreate] = false
	ts.remote.mu.Unlock()

	rec := ts.do(t, "POST", "/api/sync/clear-error", nil)
	cleared := decode[models.StatusSnapshot](t, rec)
	if cleared.Status == models.StatusError {
		t.Errorf("clear-error left status = %+v", cleared)
	}
}
