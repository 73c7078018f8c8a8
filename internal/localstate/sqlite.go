package localstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"inkwell/internal/domain/models"
)

// sqliteStore persists state in a per-user SQLite database. One row per
// entity keeps saves incremental-friendly for tooling, but Save still
// replaces the whole account snapshot in a single transaction so the
// on-disk state is always one consistent cut.
type sqliteStore struct {
	db        *sql.DB
	accountID string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	account_id TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (account_id, id)
);
CREATE TABLE IF NOT EXISTS folders (
	account_id TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (account_id, id)
);
CREATE TABLE IF NOT EXISTS pending_mutations (
	account_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (account_id, seq)
);
CREATE TABLE IF NOT EXISTS sync_meta (
	account_id     TEXT PRIMARY KEY,
	next_seq       INTEGER NOT NULL,
	last_synced_at TEXT
);
`

// NewSQLiteStore opens (creating if needed) the SQLite backend at path for
// accountID.
func NewSQLiteStore(path, accountID string) (Store, error) {
	if path == "" {
		return nil, errors.New("localstate: sqlite path is required")
	}
	if accountID == "" {
		return nil, errors.New("localstate: account id is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("localstate: create data directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("localstate: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstate: apply schema: %w", err)
	}
	return &sqliteStore{db: db, accountID: accountID}, nil
}

func (s *sqliteStore) Load(ctx context.Context) (*State, error) {
	state := Empty()

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM documents WHERE account_id = ? ORDER BY id`, s.accountID)
	if err != nil {
		return nil, fmt.Errorf("localstate: load documents: %w", err)
	}
	if err := scanJSONRows(rows, func(data []byte) error {
		var doc models.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		state.Documents = append(state.Documents, doc)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT data FROM folders WHERE account_id = ? ORDER BY id`, s.accountID)
	if err != nil {
		return nil, fmt.Errorf("localstate: load folders: %w", err)
	}
	if err := scanJSONRows(rows, func(data []byte) error {
		var folder models.Folder
		if err := json.Unmarshal(data, &folder); err != nil {
			return err
		}
		state.Folders = append(state.Folders, folder)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT data FROM pending_mutations WHERE account_id = ? ORDER BY seq`, s.accountID)
	if err != nil {
		return nil, fmt.Errorf("localstate: load pending queue: %w", err)
	}
	if err := scanJSONRows(rows, func(data []byte) error {
		var m models.PendingMutation
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		state.PendingQueue = append(state.PendingQueue, m)
		return nil
	}); err != nil {
		return nil, err
	}

	var lastSynced sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT next_seq, last_synced_at FROM sync_meta WHERE account_id = ?`, s.accountID).
		Scan(&state.NextSeq, &lastSynced)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("localstate: load sync meta: %w", err)
	}
	if lastSynced.Valid {
		if ts, perr := time.Parse(time.RFC3339Nano, lastSynced.String); perr == nil {
			state.LastSyncedAt = &ts
		}
	}
	if state.NextSeq < 1 {
		state.NextSeq = 1
	}
	return state, nil
}

func (s *sqliteStore) Save(ctx context.Context, state *State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstate: begin save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"documents", "folders", "pending_mutations"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE account_id = ?`, table), s.accountID); err != nil {
			return fmt.Errorf("localstate: clear %s: %w", table, err)
		}
	}
	for i := range state.Documents {
		data, err := json.Marshal(&state.Documents[i])
		if err != nil {
			return fmt.Errorf("localstate: encode document: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (account_id, id, data) VALUES (?, ?, ?)`,
			s.accountID, state.Documents[i].ID, string(data)); err != nil {
			return fmt.Errorf("localstate: save document: %w", err)
		}
	}
	for i := range state.Folders {
		data, err := json.Marshal(&state.Folders[i])
		if err != nil {
			return fmt.Errorf("localstate: encode folder: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO folders (account_id, id, data) VALUES (?, ?, ?)`,
			s.accountID, state.Folders[i].ID, string(data)); err != nil {
			return fmt.Errorf("localstate: save folder: %w", err)
		}
	}
	for i := range state.PendingQueue {
		data, err := json.Marshal(&state.PendingQueue[i])
		if err != nil {
			return fmt.Errorf("localstate: encode mutation: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_mutations (account_id, seq, data) VALUES (?, ?, ?)`,
			s.accountID, state.PendingQueue[i].ID, string(data)); err != nil {
			return fmt.Errorf("localstate: save mutation: %w", err)
		}
	}

	var lastSynced any
	if state.LastSyncedAt != nil {
		lastSynced = state.LastSyncedAt.Format(time.RFC3339Nano)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_meta (account_id, next_seq, last_synced_at) VALUES (?, ?, ?)
		 ON CONFLICT (account_id) DO UPDATE SET next_seq = excluded.next_seq, last_synced_at = excluded.last_synced_at`,
		s.accountID, state.NextSeq, lastSynced); err != nil {
		return fmt.Errorf("localstate: save sync meta: %w", err)
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func scanJSONRows(rows *sql.Rows, fn func(data []byte) error) error {
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("localstate: scan row: %w", err)
		}
		if err := fn([]byte(data)); err != nil {
			return fmt.Errorf("localstate: decode row: %w", err)
		}
	}
	return rows.Err()
}
