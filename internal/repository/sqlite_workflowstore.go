package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"nexus/backend/pkg/models"
)

// SQLite has no row-level security; the triggers and CHECK constraints below
// keep ownership and creation data immutable and the deletion pair in lockstep.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nexus_workflows (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL CHECK (trim(user_id) <> ''),
	topic       TEXT NOT NULL,
	result      TEXT NOT NULL DEFAULT '[]',
	total_time  REAL NOT NULL DEFAULT 0 CHECK (total_time >= 0),
	is_deleted  INTEGER NOT NULL DEFAULT 0 CHECK (is_deleted IN (0, 1)),
	deleted_at  INTEGER,
	created_at  INTEGER NOT NULL,
	CHECK ((is_deleted = 1 AND deleted_at IS NOT NULL) OR (is_deleted = 0 AND deleted_at IS NULL))
);

CREATE INDEX IF NOT EXISTS nexus_workflows_owner_created_idx
	ON nexus_workflows (user_id, is_deleted, created_at DESC);

CREATE TRIGGER IF NOT EXISTS nexus_workflows_immutable
BEFORE UPDATE OF id, user_id, topic, created_at ON nexus_workflows
BEGIN
	SELECT RAISE(ABORT, 'workflow identity columns are immutable');
END;
`

// SQLiteWorkflowStore is an embedded implementation of WorkflowStore for
// single-node deployments and tests.
type SQLiteWorkflowStore struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time
}

// OpenSQLiteWorkflowStore opens the database at path and applies the schema.
func OpenSQLiteWorkflowStore(path string, logger Logger) (*SQLiteWorkflowStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = nopLogger{}
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; concurrent requests queue on the pool
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteWorkflowStore{db: db, logger: logger, now: time.Now}, nil
}

// Create saves a workflow record for owner.
func (s *SQLiteWorkflowStore) Create(ctx context.Context, owner models.Identity, rec *models.WorkflowRecord) (*models.WorkflowRecord, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("record is required")
	}
	payload, err := encodeResults(rec.Results)
	if err != nil {
		return nil, err
	}

	created := &models.WorkflowRecord{
		ID:        uuid.New().String(),
		Owner:     owner,
		Topic:     rec.Topic,
		Results:   append([]models.AgentResult{}, rec.Results...),
		TotalTime: rec.TotalTime,
		CreatedAt: s.now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO nexus_workflows (id, user_id, topic, result, total_time, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		created.ID, owner.String(), created.Topic, string(payload), created.TotalTime, created.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, unavailable("insert workflow", err)
	}
	return created, nil
}

// Get retrieves a workflow by its ID.
func (s *SQLiteWorkflowStore) Get(ctx context.Context, owner models.Identity, id string) (*models.WorkflowRecord, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	canonical, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+workflowColumns+" FROM nexus_workflows WHERE id = ? AND user_id = ?",
		canonical, owner.String(),
	)
	rec, err := scanSQLiteWorkflow(row)
	if errors.Is(err, ErrNotFound) {
		s.logNotVisible(ctx, canonical, owner)
	}
	return rec, err
}

// ListActive returns the owner's non-deleted workflows, newest first.
func (s *SQLiteWorkflowStore) ListActive(ctx context.Context, owner models.Identity, page models.Page) ([]*models.WorkflowRecord, error) {
	return s.list(ctx, owner, page,
		"SELECT "+workflowColumns+" FROM nexus_workflows WHERE user_id = ? AND is_deleted = 0 ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?")
}

// ListDeleted returns the owner's soft-deleted workflows, most recently
// deleted first.
func (s *SQLiteWorkflowStore) ListDeleted(ctx context.Context, owner models.Identity, page models.Page) ([]*models.WorkflowRecord, error) {
	return s.list(ctx, owner, page,
		"SELECT "+workflowColumns+" FROM nexus_workflows WHERE user_id = ? AND is_deleted = 1 ORDER BY deleted_at DESC, rowid DESC LIMIT ? OFFSET ?")
}

func (s *SQLiteWorkflowStore) list(ctx context.Context, owner models.Identity, page models.Page, query string) ([]*models.WorkflowRecord, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	page = normalizePage(page)

	rows, err := s.db.QueryContext(ctx, query, owner.String(), page.Limit, page.Offset)
	if err != nil {
		return nil, unavailable("list workflows", err)
	}
	defer rows.Close()

	records := []*models.WorkflowRecord{}
	for rows.Next() {
		rec, err := scanSQLiteWorkflow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list workflows", err)
	}
	return records, nil
}

// SoftDelete marks the owner's workflow deleted. The first deletion time is
// preserved across repeated calls.
func (s *SQLiteWorkflowStore) SoftDelete(ctx context.Context, owner models.Identity, id string) error {
	return s.setDeleted(ctx, owner, id, true)
}

// Restore clears the deleted flag on the owner's workflow.
func (s *SQLiteWorkflowStore) Restore(ctx context.Context, owner models.Identity, id string) error {
	return s.setDeleted(ctx, owner, id, false)
}

func (s *SQLiteWorkflowStore) setDeleted(ctx context.Context, owner models.Identity, id string, deleted bool) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	canonical, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM nexus_workflows WHERE id = ? AND user_id = ?)",
		canonical, owner.String(),
	).Scan(&exists)
	if err != nil {
		return unavailable("check workflow", err)
	}
	if !exists {
		_ = tx.Rollback()
		s.logNotVisible(ctx, canonical, owner)
		return ErrNotFound
	}

	var res sql.Result
	if deleted {
		res, err = tx.ExecContext(ctx,
			"UPDATE nexus_workflows SET is_deleted = 1, deleted_at = COALESCE(deleted_at, ?) WHERE id = ? AND user_id = ?",
			s.now().UTC().UnixNano(), canonical, owner.String(),
		)
	} else {
		res, err = tx.ExecContext(ctx,
			"UPDATE nexus_workflows SET is_deleted = 0, deleted_at = NULL WHERE id = ? AND user_id = ?",
			canonical, owner.String(),
		)
	}
	if err != nil {
		return unavailable("update workflow", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// logNotVisible records, for operators only, whether a miss was a foreign
// record or a true absence. Callers always see ErrNotFound.
func (s *SQLiteWorkflowStore) logNotVisible(ctx context.Context, id string, owner models.Identity) {
	var foreign bool
	_ = s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM nexus_workflows WHERE id = ?)", id).Scan(&foreign)
	s.logger.Debug("workflow not visible to owner", "workflow_id", id, "owner", owner, "held_by_other_owner", foreign)
}

// Ping checks connectivity.
func (s *SQLiteWorkflowStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteWorkflowStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NormalizeLegacyResults rewrites every row whose result payload is not in
// the canonical shape.
func (s *SQLiteWorkflowStore) NormalizeLegacyResults(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT id, result, total_time FROM nexus_workflows")
	if err != nil {
		return 0, unavailable("scan legacy results", err)
	}

	type rewrite struct {
		id        string
		payload   []byte
		totalTime float64
	}
	var pending []rewrite
	for rows.Next() {
		var (
			id        string
			raw       string
			totalTime float64
		)
		if err := rows.Scan(&id, &raw, &totalTime); err != nil {
			_ = rows.Close()
			return 0, unavailable("scan legacy results", err)
		}
		norm, err := NormalizeResults([]byte(raw))
		if err != nil {
			s.logger.Warn("skipping unreadable result payload", "workflow_id", id, "error", err)
			continue
		}
		if !norm.Changed {
			continue
		}
		payload, err := encodeResults(norm.Results)
		if err != nil {
			_ = rows.Close()
			return 0, err
		}
		if norm.TotalTime != nil && totalTime == 0 {
			totalTime = *norm.TotalTime
		}
		pending = append(pending, rewrite{id: id, payload: payload, totalTime: totalTime})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, unavailable("scan legacy results", err)
	}
	_ = rows.Close()

	for _, p := range pending {
		if _, err := tx.ExecContext(ctx,
			"UPDATE nexus_workflows SET result = ?, total_time = ? WHERE id = ?",
			string(p.payload), p.totalTime, p.id,
		); err != nil {
			return 0, unavailable("rewrite result", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit", err)
	}
	return len(pending), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteWorkflow(row rowScanner) (*models.WorkflowRecord, error) {
	var (
		rec       models.WorkflowRecord
		owner     string
		raw       string
		deleted   int
		deletedAt sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&rec.ID, &owner, &rec.Topic, &raw, &rec.TotalTime, &deleted, &deletedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan workflow", err)
	}

	results, err := decodeResults([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", rec.ID, err)
	}
	rec.Owner = models.Identity(owner)
	rec.Results = results
	rec.Deleted = deleted == 1
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	if deletedAt.Valid {
		t := time.Unix(0, deletedAt.Int64).UTC()
		rec.DeletedAt = &t
	}
	return &rec, nil
}
