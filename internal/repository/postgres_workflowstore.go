package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexus/backend/pkg/models"
)

// ownerSetting is the session variable the row-level security policy reads.
const ownerSetting = "nexus.user_id"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS nexus_workflows (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL CHECK (btrim(user_id) <> ''),
	topic       TEXT NOT NULL,
	result      JSONB NOT NULL DEFAULT '[]'::jsonb,
	total_time  DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (total_time >= 0),
	is_deleted  BOOLEAN NOT NULL DEFAULT false,
	deleted_at  TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT nexus_workflows_deleted_lockstep
		CHECK ((is_deleted AND deleted_at IS NOT NULL) OR (NOT is_deleted AND deleted_at IS NULL))
);

CREATE INDEX IF NOT EXISTS nexus_workflows_owner_created_idx
	ON nexus_workflows (user_id, is_deleted, created_at DESC);

CREATE OR REPLACE FUNCTION nexus_workflows_immutable() RETURNS trigger AS $$
BEGIN
	IF NEW.id <> OLD.id OR NEW.user_id <> OLD.user_id
		OR NEW.topic <> OLD.topic OR NEW.created_at <> OLD.created_at THEN
		RAISE EXCEPTION 'workflow identity columns are immutable';
	END IF;
	RETURN NEW;
END
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS nexus_workflows_immutable ON nexus_workflows;
CREATE TRIGGER nexus_workflows_immutable
	BEFORE UPDATE ON nexus_workflows
	FOR EACH ROW EXECUTE FUNCTION nexus_workflows_immutable();

ALTER TABLE nexus_workflows ENABLE ROW LEVEL SECURITY;
ALTER TABLE nexus_workflows FORCE ROW LEVEL SECURITY;

DROP POLICY IF EXISTS nexus_workflows_owner ON nexus_workflows;
CREATE POLICY nexus_workflows_owner ON nexus_workflows
	USING (user_id = current_setting('nexus.user_id', true))
	WITH CHECK (user_id = current_setting('nexus.user_id', true));
`

const workflowColumns = `id, user_id, topic, result, total_time, is_deleted, deleted_at, created_at`

// PostgresOptions configures a PostgresWorkflowStore.
type PostgresOptions struct {
	// AppRole, when set, is assumed with SET LOCAL ROLE for every operation.
	// The role must not have BYPASSRLS so the owner policy applies to it.
	AppRole string
	Logger  Logger
}

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore
// interface. Ownership is enforced twice: every statement filters on user_id,
// and the table carries a row-level security policy keyed on the owner
// session setting each transaction installs.
type PostgresWorkflowStore struct {
	db      *pgxpool.Pool
	appRole string
	logger  Logger
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool, opts PostgresOptions) *PostgresWorkflowStore {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &PostgresWorkflowStore{db: db, appRole: opts.AppRole, logger: logger}
}

// Migrate creates the table, its triggers and the owner policy. It is safe
// to run repeatedly.
func (s *PostgresWorkflowStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if s.appRole != "" {
		grant := "GRANT SELECT, INSERT, UPDATE ON nexus_workflows TO " + pgx.Identifier{s.appRole}.Sanitize()
		if _, err := s.db.Exec(ctx, grant); err != nil {
			return fmt.Errorf("failed to grant app role: %w", err)
		}
	}
	return nil
}

// withOwner runs fn in a transaction whose row-level security context is
// bound to owner.
func (s *PostgresWorkflowStore) withOwner(ctx context.Context, owner models.Identity, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.appRole != "" {
		if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+pgx.Identifier{s.appRole}.Sanitize()); err != nil {
			return unavailable("set role", err)
		}
	}
	if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", ownerSetting, owner.String()); err != nil {
		return unavailable("set owner", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Create saves a workflow record for owner.
func (s *PostgresWorkflowStore) Create(ctx context.Context, owner models.Identity, rec *models.WorkflowRecord) (*models.WorkflowRecord, error) {
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
	}

	err = s.withOwner(ctx, owner, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			"INSERT INTO nexus_workflows (id, user_id, topic, result, total_time) VALUES ($1, $2, $3, $4, $5) RETURNING created_at",
			created.ID, owner.String(), created.Topic, string(payload), created.TotalTime,
		).Scan(&created.CreatedAt)
		if err != nil {
			return unavailable("insert workflow", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get retrieves a workflow by its ID.
func (s *PostgresWorkflowStore) Get(ctx context.Context, owner models.Identity, id string) (*models.WorkflowRecord, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	canonical, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}

	var rec *models.WorkflowRecord
	err := s.withOwner(ctx, owner, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			"SELECT "+workflowColumns+" FROM nexus_workflows WHERE id = $1 AND user_id = $2",
			canonical, owner.String(),
		)
		var err error
		rec, err = scanWorkflow(row)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		s.logNotVisible(ctx, canonical, owner)
	}
	return rec, err
}

// ListActive returns the owner's non-deleted workflows, newest first.
func (s *PostgresWorkflowStore) ListActive(ctx context.Context, owner models.Identity, page models.Page) ([]*models.WorkflowRecord, error) {
	return s.list(ctx, owner, page,
		"SELECT "+workflowColumns+" FROM nexus_workflows WHERE user_id = $1 AND is_deleted = false ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3")
}

// ListDeleted returns the owner's soft-deleted workflows, most recently
// deleted first.
func (s *PostgresWorkflowStore) ListDeleted(ctx context.Context, owner models.Identity, page models.Page) ([]*models.WorkflowRecord, error) {
	return s.list(ctx, owner, page,
		"SELECT "+workflowColumns+" FROM nexus_workflows WHERE user_id = $1 AND is_deleted = true ORDER BY deleted_at DESC, id DESC LIMIT $2 OFFSET $3")
}

func (s *PostgresWorkflowStore) list(ctx context.Context, owner models.Identity, page models.Page, query string) ([]*models.WorkflowRecord, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	page = normalizePage(page)

	records := []*models.WorkflowRecord{}
	err := s.withOwner(ctx, owner, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, owner.String(), page.Limit, page.Offset)
		if err != nil {
			return unavailable("list workflows", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanWorkflow(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			return unavailable("list workflows", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SoftDelete marks the owner's workflow deleted. The first deletion time is
// preserved across repeated calls.
func (s *PostgresWorkflowStore) SoftDelete(ctx context.Context, owner models.Identity, id string) error {
	return s.setDeleted(ctx, owner, id, true)
}

// Restore clears the deleted flag on the owner's workflow.
func (s *PostgresWorkflowStore) Restore(ctx context.Context, owner models.Identity, id string) error {
	return s.setDeleted(ctx, owner, id, false)
}

func (s *PostgresWorkflowStore) setDeleted(ctx context.Context, owner models.Identity, id string, deleted bool) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	canonical, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}

	update := "UPDATE nexus_workflows SET is_deleted = true, deleted_at = COALESCE(deleted_at, now()) WHERE id = $1 AND user_id = $2"
	if !deleted {
		update = "UPDATE nexus_workflows SET is_deleted = false, deleted_at = NULL WHERE id = $1 AND user_id = $2"
	}

	err := s.withOwner(ctx, owner, func(tx pgx.Tx) error {
		// existence and ownership are checked together; a record held by
		// someone else looks exactly like a missing one
		var exists bool
		err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM nexus_workflows WHERE id = $1 AND user_id = $2)",
			canonical, owner.String(),
		).Scan(&exists)
		if err != nil {
			return unavailable("check workflow", err)
		}
		if !exists {
			return ErrNotFound
		}

		tag, err := tx.Exec(ctx, update, canonical, owner.String())
		if err != nil {
			return unavailable("update workflow", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		s.logNotVisible(ctx, canonical, owner, "deleted", deleted)
	}
	return err
}

// logNotVisible records, for operators only, whether a miss was a foreign
// record or a true absence. The lookup runs on the pool connection outside
// the owner transaction, so it can only see other owners' rows when the
// connecting user is a superuser or has BYPASSRLS; otherwise the miss is
// logged without a verdict. Callers always see ErrNotFound.
func (s *PostgresWorkflowStore) logNotVisible(ctx context.Context, id string, owner models.Identity, args ...any) {
	var privileged, exists bool
	err := s.db.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT rolsuper OR rolbypassrls FROM pg_roles WHERE rolname = current_user), false),
			EXISTS (SELECT 1 FROM nexus_workflows WHERE id = $1)`,
		id,
	).Scan(&privileged, &exists)

	args = append([]any{"workflow_id", id, "owner", owner}, args...)
	if err != nil || !privileged {
		s.logger.Debug("workflow not visible to owner", args...)
		return
	}
	s.logger.Debug("workflow not visible to owner", append(args, "held_by_other_owner", exists)...)
}

// Ping checks connectivity.
func (s *PostgresWorkflowStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresWorkflowStore) Close() error {
	s.db.Close()
	return nil
}

// NormalizeLegacyResults rewrites every row whose result payload is not in
// the canonical shape. It must run as a role that bypasses row-level
// security, since it spans all owners.
func (s *PostgresWorkflowStore) NormalizeLegacyResults(ctx context.Context) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, "SELECT id, result, total_time FROM nexus_workflows FOR UPDATE")
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
			raw       []byte
			totalTime float64
		)
		if err := rows.Scan(&id, &raw, &totalTime); err != nil {
			rows.Close()
			return 0, unavailable("scan legacy results", err)
		}
		norm, err := NormalizeResults(raw)
		if err != nil {
			s.logger.Warn("skipping unreadable result payload", "workflow_id", id, "error", err)
			continue
		}
		if !norm.Changed {
			continue
		}
		payload, err := encodeResults(norm.Results)
		if err != nil {
			rows.Close()
			return 0, err
		}
		if norm.TotalTime != nil && totalTime == 0 {
			totalTime = *norm.TotalTime
		}
		pending = append(pending, rewrite{id: id, payload: payload, totalTime: totalTime})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, unavailable("scan legacy results", err)
	}

	for _, p := range pending {
		if _, err := tx.Exec(ctx,
			"UPDATE nexus_workflows SET result = $1, total_time = $2 WHERE id = $3",
			string(p.payload), p.totalTime, p.id,
		); err != nil {
			return 0, unavailable("rewrite result", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, unavailable("commit", err)
	}
	return len(pending), nil
}

func scanWorkflow(row pgx.Row) (*models.WorkflowRecord, error) {
	var (
		rec       models.WorkflowRecord
		owner     string
		raw       []byte
		deletedAt *time.Time
	)
	err := row.Scan(&rec.ID, &owner, &rec.Topic, &raw, &rec.TotalTime, &rec.Deleted, &deletedAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan workflow", err)
	}

	results, err := decodeResults(raw)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", rec.ID, err)
	}
	rec.Owner = models.Identity(owner)
	rec.Results = results
	rec.DeletedAt = deletedAt
	return &rec, nil
}
