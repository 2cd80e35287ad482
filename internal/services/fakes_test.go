package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"nexus/backend/internal/generation"
	"nexus/backend/pkg/models"
)

// scriptedReply is what the fake generator does for one role.
type scriptedReply struct {
	text  string
	delay time.Duration
	err   error
	// hang ignores ctx and never returns until released
	hang bool
}

// fakeGenerator answers per role from a script.
type fakeGenerator struct {
	mu      sync.Mutex
	script  map[string]scriptedReply
	calls   []string
	release chan struct{}
}

func newFakeGenerator(script map[string]scriptedReply) *fakeGenerator {
	return &fakeGenerator{script: script, release: make(chan struct{})}
}

func (f *fakeGenerator) Generate(ctx context.Context, role, prompt string) (generation.Generation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, role)
	reply, ok := f.script[role]
	f.mu.Unlock()
	if !ok {
		return generation.Generation{}, errors.New("no script for role " + role)
	}

	start := time.Now()
	if reply.hang {
		<-f.release
	}
	if reply.delay > 0 {
		select {
		case <-ctx.Done():
			return generation.Generation{}, ctx.Err()
		case <-time.After(reply.delay):
		}
	}
	if reply.err != nil {
		return generation.Generation{Elapsed: time.Since(start)}, reply.err
	}
	return generation.Generation{Text: reply.text, Elapsed: time.Since(start)}, nil
}

func (f *fakeGenerator) callCount(role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == role {
			n++
		}
	}
	return n
}

// MockStore satisfies repository.WorkflowStore
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, owner models.Identity, rec *models.WorkflowRecord) (*models.WorkflowRecord, error) {
	args := m.Called(ctx, owner, rec)
	if fn, ok := args.Get(0).(func(context.Context, models.Identity, *models.WorkflowRecord) *models.WorkflowRecord); ok {
		return fn(ctx, owner, rec), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowRecord), args.Error(1)
}

func (m *MockStore) Get(ctx context.Context, owner models.Identity, id string) (*models.WorkflowRecord, error) {
	args := m.Called(ctx, owner, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowRecord), args.Error(1)
}

func (m *MockStore) ListActive(ctx context.Context, owner models.Identity, page models.Page) ([]*models.WorkflowRecord, error) {
	args := m.Called(ctx, owner, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WorkflowRecord), args.Error(1)
}

func (m *MockStore) ListDeleted(ctx context.Context, owner models.Identity, page models.Page) ([]*models.WorkflowRecord, error) {
	args := m.Called(ctx, owner, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WorkflowRecord), args.Error(1)
}

func (m *MockStore) SoftDelete(ctx context.Context, owner models.Identity, id string) error {
	return m.Called(ctx, owner, id).Error(0)
}

func (m *MockStore) Restore(ctx context.Context, owner models.Identity, id string) error {
	return m.Called(ctx, owner, id).Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStore) Close() error { return nil }

// storeCreatesAs makes Create echo the record back with ids stamped.
func storeCreatesAs(m *MockStore) {
	m.On("Create", mock.Anything, mock.Anything, mock.Anything).
		Return(func(_ context.Context, owner models.Identity, rec *models.WorkflowRecord) *models.WorkflowRecord {
			out := *rec
			out.ID = "stored-id"
			out.Owner = owner
			out.CreatedAt = time.Now()
			return &out
		}, nil)
}
