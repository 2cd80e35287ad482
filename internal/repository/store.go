package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"nexus/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a workflow does not exist or is owned by a
	// different identity. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("workflow not found")
	// ErrStoreUnavailable wraps transient persistence failures.
	ErrStoreUnavailable = errors.New("workflow store unavailable")
	// ErrMissingOwner is returned when an operation is called without an owner.
	ErrMissingOwner = errors.New("owner identity is required")
)

// DefaultPageLimit applies when a listing is requested without a limit.
const DefaultPageLimit = 10

// WorkflowStore persists workflow records. Every operation is scoped to the
// owner passed in; no method accepts an owner from the record payload.
type WorkflowStore interface {
	// Create stores a new record for owner. The record's ID, Owner, CreatedAt
	// and deletion fields are assigned by the store; values supplied by the
	// caller are ignored.
	Create(ctx context.Context, owner models.Identity, rec *models.WorkflowRecord) (*models.WorkflowRecord, error)
	// Get returns one record, active or deleted.
	Get(ctx context.Context, owner models.Identity, id string) (*models.WorkflowRecord, error)
	// ListActive returns non-deleted records, newest first.
	ListActive(ctx context.Context, owner models.Identity, page models.Page) ([]*models.WorkflowRecord, error)
	// ListDeleted returns soft-deleted records, most recently deleted first.
	ListDeleted(ctx context.Context, owner models.Identity, page models.Page) ([]*models.WorkflowRecord, error)
	// SoftDelete hides a record. Deleting an already deleted record succeeds
	// and keeps the original deletion time.
	SoftDelete(ctx context.Context, owner models.Identity, id string) error
	// Restore reverses SoftDelete. Restoring an active record is a no-op.
	Restore(ctx context.Context, owner models.Identity, id string) error
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Normalizer rewrites legacy result payloads into the canonical shape. It is
// an administrative pass over every owner's rows and is never reachable from
// a request.
type Normalizer interface {
	NormalizeLegacyResults(ctx context.Context) (int, error)
}

// Logger is the subset of the application logger used by the stores.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func checkOwner(owner models.Identity) error {
	if owner.IsZero() {
		return ErrMissingOwner
	}
	return nil
}

// parseID canonicalizes a workflow id. Anything that is not a UUID cannot
// name a stored record.
func parseID(id string) (string, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func normalizePage(p models.Page) models.Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
