package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/backend/pkg/models"
)

func newOwner(prefix string) models.Identity {
	return models.Identity(prefix + "-" + uuid.NewString()[:8])
}

func sampleRecord(topic string) *models.WorkflowRecord {
	return &models.WorkflowRecord{
		Topic: topic,
		Results: []models.AgentResult{
			{Role: models.RoleMarketResearcher, Task: "size the market", Status: models.AgentStatusCompleted, Content: "large", Duration: 1.5},
			{Role: models.RoleTechnicalAnalyst, Task: "find the moat", Status: models.AgentStatusFailed, Error: "generation timed out"},
			{Role: models.RoleCompetitorAnalyst, Task: "name rivals", Status: models.AgentStatusCompleted, Content: "several", Duration: 0.25},
		},
		TotalTime: 1.6,
	}
}

// runStoreContract exercises the ownership behavior every WorkflowStore must
// provide.
func runStoreContract(t *testing.T, store WorkflowStore) {
	ctx := context.Background()

	t.Run("create then list is owner scoped", func(t *testing.T) {
		alice, bob := newOwner("alice"), newOwner("bob")

		created, err := store.Create(ctx, alice, sampleRecord("market strategy"))
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, alice, created.Owner)
		assert.False(t, created.CreatedAt.IsZero())

		bobs, err := store.ListActive(ctx, bob, models.Page{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, bobs)

		alices, err := store.ListActive(ctx, alice, models.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, alices, 1)
		assert.Equal(t, created.ID, alices[0].ID)
		assert.Equal(t, "market strategy", alices[0].Topic)
		assert.Equal(t, created.Results, alices[0].Results)
		assert.InDelta(t, 1.6, alices[0].TotalTime, 1e-9)
	})

	t.Run("create ignores forged owner in payload", func(t *testing.T) {
		alice, mallory := newOwner("alice"), newOwner("mallory")

		forged := sampleRecord("forged")
		forged.Owner = alice
		forged.ID = uuid.NewString()
		forged.Deleted = true

		created, err := store.Create(ctx, mallory, forged)
		require.NoError(t, err)
		assert.Equal(t, mallory, created.Owner)
		assert.NotEqual(t, forged.ID, created.ID)
		assert.False(t, created.Deleted)

		alices, err := store.ListActive(ctx, alice, models.Page{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, alices)

		got, err := store.Get(ctx, mallory, created.ID)
		require.NoError(t, err)
		assert.Equal(t, mallory, got.Owner)
	})

	t.Run("foreign delete is not found and leaves record untouched", func(t *testing.T) {
		alice, bob := newOwner("alice"), newOwner("bob")
		created, err := store.Create(ctx, alice, sampleRecord("private"))
		require.NoError(t, err)

		err = store.SoftDelete(ctx, bob, created.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		err = store.Restore(ctx, bob, created.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.Get(ctx, bob, created.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		alices, err := store.ListActive(ctx, alice, models.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, alices, 1)
		assert.False(t, alices[0].Deleted)
		assert.Nil(t, alices[0].DeletedAt)
	})

	t.Run("absent and foreign records look the same", func(t *testing.T) {
		alice, bob := newOwner("alice"), newOwner("bob")
		created, err := store.Create(ctx, alice, sampleRecord("private"))
		require.NoError(t, err)

		foreignErr := store.SoftDelete(ctx, bob, created.ID)
		absentErr := store.SoftDelete(ctx, bob, uuid.NewString())
		malformedErr := store.SoftDelete(ctx, bob, "not-a-uuid")

		assert.ErrorIs(t, foreignErr, ErrNotFound)
		assert.ErrorIs(t, absentErr, ErrNotFound)
		assert.ErrorIs(t, malformedErr, ErrNotFound)
		assert.Equal(t, absentErr.Error(), foreignErr.Error())
	})

	t.Run("soft delete and restore round trip", func(t *testing.T) {
		alice := newOwner("alice")
		created, err := store.Create(ctx, alice, sampleRecord("round trip"))
		require.NoError(t, err)

		require.NoError(t, store.SoftDelete(ctx, alice, created.ID))

		active, err := store.ListActive(ctx, alice, models.Page{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, active)

		trash, err := store.ListDeleted(ctx, alice, models.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, trash, 1)
		assert.True(t, trash[0].Deleted)
		require.NotNil(t, trash[0].DeletedAt)

		require.NoError(t, store.Restore(ctx, alice, created.ID))

		active, err = store.ListActive(ctx, alice, models.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.False(t, active[0].Deleted)
		assert.Nil(t, active[0].DeletedAt)

		trash, err = store.ListDeleted(ctx, alice, models.Page{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, trash)
	})

	t.Run("soft delete is idempotent and keeps first deletion time", func(t *testing.T) {
		alice := newOwner("alice")
		created, err := store.Create(ctx, alice, sampleRecord("twice"))
		require.NoError(t, err)

		require.NoError(t, store.SoftDelete(ctx, alice, created.ID))
		first, err := store.Get(ctx, alice, created.ID)
		require.NoError(t, err)
		require.NotNil(t, first.DeletedAt)

		require.NoError(t, store.SoftDelete(ctx, alice, created.ID))
		second, err := store.Get(ctx, alice, created.ID)
		require.NoError(t, err)
		require.NotNil(t, second.DeletedAt)
		assert.True(t, first.DeletedAt.Equal(*second.DeletedAt))
	})

	t.Run("restore of active record is a no-op", func(t *testing.T) {
		alice := newOwner("alice")
		created, err := store.Create(ctx, alice, sampleRecord("active"))
		require.NoError(t, err)

		require.NoError(t, store.Restore(ctx, alice, created.ID))
		got, err := store.Get(ctx, alice, created.ID)
		require.NoError(t, err)
		assert.False(t, got.Deleted)
	})

	t.Run("list is newest first and paginates", func(t *testing.T) {
		alice := newOwner("alice")
		var ids []string
		for _, topic := range []string{"one", "two", "three"} {
			created, err := store.Create(ctx, alice, sampleRecord(topic))
			require.NoError(t, err)
			ids = append(ids, created.ID)
		}

		firstPage, err := store.ListActive(ctx, alice, models.Page{Limit: 2})
		require.NoError(t, err)
		require.Len(t, firstPage, 2)
		assert.Equal(t, ids[2], firstPage[0].ID)
		assert.Equal(t, ids[1], firstPage[1].ID)

		secondPage, err := store.ListActive(ctx, alice, models.Page{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, secondPage, 1)
		assert.Equal(t, ids[0], secondPage[0].ID)
	})

	t.Run("missing owner is rejected", func(t *testing.T) {
		_, err := store.Create(ctx, "", sampleRecord("x"))
		assert.ErrorIs(t, err, ErrMissingOwner)

		_, err = store.ListActive(ctx, "  ", models.Page{})
		assert.ErrorIs(t, err, ErrMissingOwner)

		err = store.SoftDelete(ctx, "", uuid.NewString())
		assert.ErrorIs(t, err, ErrMissingOwner)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

// debugRecorder keeps the key/value pairs of every debug record.
type debugRecorder struct {
	mu      sync.Mutex
	records []map[string]any
}

func (r *debugRecorder) Debug(msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := map[string]any{"msg": msg}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			rec[key] = args[i+1]
		}
	}
	r.records = append(r.records, rec)
}

func (r *debugRecorder) Info(string, ...any)  {}
func (r *debugRecorder) Warn(string, ...any)  {}
func (r *debugRecorder) Error(string, ...any) {}

func (r *debugRecorder) last(t *testing.T) map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.records)
	return r.records[len(r.records)-1]
}

// runMissAudit checks that a foreign record and a missing one both surface as
// ErrNotFound while the debug log tells them apart.
func runMissAudit(t *testing.T, store WorkflowStore, logs *debugRecorder) {
	ctx := context.Background()
	alice, bob := newOwner("alice"), newOwner("bob")

	created, err := store.Create(ctx, alice, sampleRecord("audited"))
	require.NoError(t, err)

	err = store.SoftDelete(ctx, bob, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, true, logs.last(t)["held_by_other_owner"])

	_, err = store.Get(ctx, bob, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, true, logs.last(t)["held_by_other_owner"])

	err = store.Restore(ctx, alice, uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, false, logs.last(t)["held_by_other_owner"])
}
