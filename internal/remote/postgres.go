package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"inkwell/internal/domain"
	"inkwell/internal/domain/models"
)

// TableNames configures the prefix applied to every table the remote store
// touches, so multiple deployments can share a database.
type TableNames struct {
	Folders          string
	Documents        string
	AppliedMutations string
}

// DefaultTableNames returns table names with the given prefix.
func DefaultTableNames(prefix string) TableNames {
	return TableNames{
		Folders:          prefix + "folders",
		Documents:        prefix + "documents",
		AppliedMutations: prefix + "applied_mutations",
	}
}

// PostgresStore applies mutations for one account against Postgres.
// Every Apply runs in a transaction that first claims the mutation ID in
// the applied-mutations table; a replayed mutation commits as a no-op.
type PostgresStore struct {
	pool      *pgxpool.Pool
	tables    TableNames
	accountID string
	logger    *slog.Logger
}

// NewPostgresStore wraps an existing pool for a single account.
func NewPostgresStore(pool *pgxpool.Pool, tables TableNames, accountID string, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		pool:      pool,
		tables:    tables,
		accountID: accountID,
		logger:    logger.With("component", "remote.postgres", "account_id", accountID),
	}
}

// EnsureSchema creates the remote tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, tables TableNames) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			account_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			parent_id TEXT,
			order_key TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (account_id, id)
		)`, tables.Folders),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			account_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			content JSONB,
			folder_id TEXT,
			order_key TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (account_id, id)
		)`, tables.Documents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			account_id TEXT NOT NULL,
			mutation_id BIGINT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (account_id, mutation_id)
		)`, tables.AppliedMutations),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Apply runs the mutation in a transaction, claiming its ID first so a
// redelivered mutation is acknowledged without re-applying.
func (s *PostgresStore) Apply(ctx context.Context, m *models.PendingMutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.classify("begin", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (account_id, mutation_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, s.tables.AppliedMutations),
		s.accountID, m.ID)
	if err != nil {
		return s.classify("claim mutation", err)
	}
	if tag.RowsAffected() == 0 {
		// Already applied by a previous attempt; acknowledge silently.
		s.logger.Debug("skipping already-applied mutation", "mutation_id", m.ID)
		return s.classifyCommit(tx.Commit(ctx))
	}

	if err := s.applyInTx(ctx, tx, m); err != nil {
		return err
	}
	return s.classifyCommit(tx.Commit(ctx))
}

func (s *PostgresStore) applyInTx(ctx context.Context, tx pgx.Tx, m *models.PendingMutation) error {
	switch m.TargetType {
	case models.TargetDocument:
		return s.applyDocument(ctx, tx, m)
	case models.TargetFolder:
		return s.applyFolder(ctx, tx, m)
	default:
		return &domain.RejectedSyncError{Reason: fmt.Sprintf("unknown target type %q", m.TargetType)}
	}
}

func (s *PostgresStore) applyDocument(ctx context.Context, tx pgx.Tx, m *models.PendingMutation) error {
	switch m.Operation {
	case models.OpCreate:
		var p models.CreateDocumentPayload
		if err := unmarshalPayload(m.Payload, &p); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (account_id, id, title, folder_id, order_key, updated_at)
				VALUES ($1, $2, $3, $4, $5, now())
				ON CONFLICT (account_id, id) DO UPDATE SET title = $3, folder_id = $4, order_key = $5, updated_at = now()`,
				s.tables.Documents),
			s.accountID, m.TargetID, p.Title, p.FolderID, p.OrderKey)
		return s.classify("create document", err)
	case models.OpUpsertContent:
		var p models.UpsertContentPayload
		if err := unmarshalPayload(m.Payload, &p); err != nil {
			return err
		}
		return s.updateDocument(ctx, tx, m.TargetID, "content = $3, updated_at = now()", p.Content)
	case models.OpRename:
		var p models.RenamePayload
		if err := unmarshalPayload(m.Payload, &p); err != nil {
			return err
		}
		return s.updateDocument(ctx, tx, m.TargetID, "title = $3, updated_at = now()", p.Name)
	case models.OpMove:
		var p models.MovePayload
		if err := unmarshalPayload(m.Payload, &p); err != nil {
			return err
		}
		return s.updateDocument(ctx, tx, m.TargetID, "folder_id = $3, order_key = $4, updated_at = now()", p.ParentID, p.OrderKey)
	case models.OpReorder:
		var p models.ReorderPayload
		if err := unmarshalPayload(m.Payload, &p); err != nil {
			return err
		}
		return s.updateDocument(ctx, tx, m.TargetID, "order_key = $3, updated_at = now()", p.OrderKey)
	case models.OpDelete:
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE account_id = $1 AND id = $2`, s.tables.Documents),
			s.accountID, m.TargetID)
		if err != nil {
			return s.classify("delete document", err)
		}
		if tag.RowsAffected() == 0 {
			// Deleting what is already gone is success, not a conflict.
			s.logger.Debug("delete matched no document", "document_id", m.TargetID)
		}
		return nil
	default:
		return &domain.RejectedSyncError{Reason: fmt.Sprintf("unsupported document operation %q", m.Operation)}
	}
}

func (s *PostgresStore) applyFolder(ctx context.Context, tx pgx.Tx, m *models.PendingMutation) error {
	switch m.Operation {
	case models.OpCreate:
		var p models.CreateFolderPayload
		if err := unmarshalPayload(m.Payload, &p); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (account_id, id, name, parent_id, order_key, updated_at)
				VALUES ($1, $2, $3, $4, $5, now())
				ON CONFLICT (account_id, id) DO UPDATE SET name = $3, parent_id = $4, order_key = $5, updated_at = now()`,
				s.tables.Folders),
			s.accountID, m.TargetID, p.Name, p.ParentID, p.OrderKey)
		return s.classify("create folder", err)
	case models.OpRename:
		var p models.RenamePayload
		if err := unmarshalPayload(m.Payload, &p); err != nil {
			return err
		}
		return s.updateFolder(ctx, tx, m.TargetID, "name = $3, updated_at = now()", p.Name)
	case models.OpMove:
		var p models.MovePayload
		if err := unmarshalPayload(m.Payload, &p); err != nil {
			return err
		}
		return s.updateFolder(ctx, tx, m.TargetID, "parent_id = $3, order_key = $4, updated_at = now()", p.ParentID, p.OrderKey)
	case models.OpReorder:
		var p models.ReorderPayload
		if err := unmarshalPayload(m.Payload, &p); err != nil {
			return err
		}
		return s.updateFolder(ctx, tx, m.TargetID, "order_key = $3, updated_at = now()", p.OrderKey)
	case models.OpDelete:
		var p models.DeletePayload
		if len(m.Payload) > 0 {
			if err := unmarshalPayload(m.Payload, &p); err != nil {
				return err
			}
		}
		return s.deleteFolder(ctx, tx, m.TargetID, p.Cascade)
	default:
		return &domain.RejectedSyncError{Reason: fmt.Sprintf("unsupported folder operation %q", m.Operation)}
	}
}

func (s *PostgresStore) updateDocument(ctx context.Context, tx pgx.Tx, id, set string, args ...any) error {
	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE account_id = $1 AND id = $2`, s.tables.Documents, set),
		append([]any{s.accountID, id}, args...)...)
	if err != nil {
		return s.classify("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.RejectedSyncError{Reason: fmt.Sprintf("document %s not found on remote", id)}
	}
	return nil
}

func (s *PostgresStore) updateFolder(ctx context.Context, tx pgx.Tx, id, set string, args ...any) error {
	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE account_id = $1 AND id = $2`, s.tables.Folders, set),
		append([]any{s.accountID, id}, args...)...)
	if err != nil {
		return s.classify("update folder", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.RejectedSyncError{Reason: fmt.Sprintf("folder %s not found on remote", id)}
	}
	return nil
}

// deleteFolder removes a folder subtree. The local store already enforced
// the cascade/empty rule; here a non-cascade delete of a non-empty folder
// is rejected so the queues never diverge silently.
func (s *PostgresStore) deleteFolder(ctx context.Context, tx pgx.Tx, id string, cascade bool) error {
	if !cascade {
		var children int
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT (SELECT count(*) FROM %s WHERE account_id = $1 AND parent_id = $2)
				+ (SELECT count(*) FROM %s WHERE account_id = $1 AND folder_id = $2)`,
				s.tables.Folders, s.tables.Documents),
			s.accountID, id).Scan(&children)
		if err != nil {
			return s.classify("count folder children", err)
		}
		if children > 0 {
			return &domain.RejectedSyncError{Reason: fmt.Sprintf("folder %s is not empty on remote", id)}
		}
		_, err = tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE account_id = $1 AND id = $2`, s.tables.Folders),
			s.accountID, id)
		return s.classify("delete folder", err)
	}

	// Cascade: walk the subtree breadth-first and delete documents then
	// folders. Folder trees are shallow in practice so the recursive CTE
	// stays cheap.
	rows, err := tx.Query(ctx,
		fmt.Sprintf(`WITH RECURSIVE subtree AS (
			SELECT id FROM %[1]s WHERE account_id = $1 AND id = $2
			UNION ALL
			SELECT f.id FROM %[1]s f JOIN subtree s ON f.parent_id = s.id WHERE f.account_id = $1
		) SELECT id FROM subtree`, s.tables.Folders),
		s.accountID, id)
	if err != nil {
		return s.classify("collect folder subtree", err)
	}
	var ids []string
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			rows.Close()
			return s.classify("scan folder subtree", err)
		}
		ids = append(ids, fid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s.classify("read folder subtree", err)
	}
	if len(ids) == 0 {
		s.logger.Debug("cascade delete matched no folder", "folder_id", id)
		return nil
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE account_id = $1 AND folder_id = ANY($2)`, s.tables.Documents),
		s.accountID, ids); err != nil {
		return s.classify("cascade delete documents", err)
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE account_id = $1 AND id = ANY($2)`, s.tables.Folders),
		s.accountID, ids); err != nil {
		return s.classify("cascade delete folders", err)
	}
	return nil
}

// Ping reports whether the remote is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) classifyCommit(err error) error {
	return s.classify("commit", err)
}

// classify wraps a pgx error as transient (retry with backoff) or rejected
// (block the queue). Unknown errors default to transient: a false "rejected"
// stalls the queue behind a mutation that might have succeeded on retry.
func (s *PostgresStore) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransientPg(err) {
		return &domain.TransientSyncError{Reason: op, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &domain.RejectedSyncError{
			Reason: fmt.Sprintf("%s: %s (%s)", op, pgErr.Message, pgErr.Code),
			Err:    err,
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.RejectedSyncError{Reason: op, Err: err}
	}
	return &domain.TransientSyncError{Reason: op, Err: err}
}

func isTransientPg(err error) bool {
	if pgconn.Timeout(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception, class 57 = operator intervention
		// (server shutdown). Both resolve themselves without local action.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57")
	}
	return false
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &domain.RejectedSyncError{Reason: "malformed mutation payload", Err: err}
	}
	return nil
}
