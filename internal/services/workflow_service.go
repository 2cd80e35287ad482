package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nexus/backend/internal/repository"
	"nexus/backend/pkg/models"
)

// WorkflowOptions tunes a WorkflowService.
type WorkflowOptions struct {
	// MaxConcurrency bounds the fan-out; zero runs every task at once.
	MaxConcurrency      int
	DefaultHistoryLimit int
	MaxHistoryLimit     int
	Logger              Logger
}

// RunResult is the outcome of a workflow run. PersistErr is set when the
// record was computed but could not be stored; the record is still returned
// to the caller but has no ID, since nothing can be looked up by it.
type RunResult struct {
	Record     *models.WorkflowRecord
	PersistErr error
}

// Persisted reports whether the record reached the store.
func (r *RunResult) Persisted() bool {
	return r.PersistErr == nil
}

// WorkflowService orchestrates workflow runs and serves the owner-scoped
// history.
type WorkflowService struct {
	planner  *Planner
	executor *Executor
	store    repository.WorkflowStore
	logger   Logger
	tel      *telemetry

	maxConcurrency int
	defaultLimit   int
	maxLimit       int
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(planner *Planner, executor *Executor, store repository.WorkflowStore, opts WorkflowOptions) *WorkflowService {
	logger := orNop(opts.Logger)
	s := &WorkflowService{
		planner:        planner,
		executor:       executor,
		store:          store,
		logger:         logger,
		tel:            newTelemetry(logger),
		maxConcurrency: opts.MaxConcurrency,
		defaultLimit:   opts.DefaultHistoryLimit,
		maxLimit:       opts.MaxHistoryLimit,
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = repository.DefaultPageLimit
	}
	if s.maxLimit < s.defaultLimit {
		s.maxLimit = s.defaultLimit
	}
	return s
}

// Run plans topic, executes every task concurrently, and stores the record
// under owner. Results keep plan order. A failed task is recorded in place and
// does not affect its siblings; only when every task fails does Run return
// ErrAllTasksFailed. If ctx ends before all tasks finish, outstanding tasks
// are abandoned and nothing is stored.
func (s *WorkflowService) Run(ctx context.Context, owner models.Identity, topic string) (*RunResult, error) {
	if owner.IsZero() {
		return nil, ErrMissingOwner
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	ctx, span := s.tel.tracer.Start(ctx, "workflow.run")
	defer span.End()

	planCtx, planSpan := s.tel.tracer.Start(ctx, "workflow.plan")
	tasks := s.planner.Plan(planCtx, topic)
	planSpan.SetAttributes(attribute.Int("workflow.tasks", len(tasks)))
	planSpan.End()

	s.logger.Info("workflow started", "owner", owner, "tasks", len(tasks))

	start := time.Now()
	results := make([]models.AgentResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}
	for i, task := range tasks {
		g.Go(func() error {
			taskCtx, taskSpan := s.tel.tracer.Start(gctx, "workflow.task",
				trace.WithAttributes(attribute.String("workflow.role", task.Role), attribute.Int("workflow.index", i)))
			defer taskSpan.End()

			res, err := s.executor.Execute(taskCtx, task)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				taskSpan.RecordError(err)
				taskSpan.SetStatus(codes.Error, "generation failed")
				s.tel.taskFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("role", task.Role)))
				s.logger.Warn("task failed", "role", task.Role, "error", err)
				results[i] = failedResult(task, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.abort(ctx, span, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.abort(ctx, span, err)
	}
	elapsed := time.Since(start)
	s.tel.duration.Record(ctx, elapsed.Seconds())

	rec := &models.WorkflowRecord{
		Topic:     topic,
		Results:   results,
		TotalTime: elapsed.Seconds(),
	}
	if failed := rec.FailedCount(); failed == len(results) {
		err := fmt.Errorf("%w: %d of %d", ErrAllTasksFailed, failed, len(results))
		span.RecordError(err)
		span.SetStatus(codes.Error, "all tasks failed")
		s.tel.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		return nil, err
	}

	stored, err := s.store.Create(ctx, owner, rec)
	if err != nil {
		// the computed report is still delivered; the caller learns it was
		// not stored through PersistErr
		s.logger.Error("failed to persist workflow", "owner", owner, "error", err)
		s.tel.persistFailures.Add(ctx, 1)
		s.tel.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "unpersisted")))
		span.RecordError(err)

		rec.Owner = owner
		rec.CreatedAt = time.Now().UTC()
		return &RunResult{Record: rec, PersistErr: err}, nil
	}

	s.tel.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
	s.logger.Info("workflow completed", "owner", owner, "workflow_id", stored.ID,
		"tasks", len(results), "failed", stored.FailedCount(), "total_time", stored.TotalTime)
	return &RunResult{Record: stored}, nil
}

func (s *WorkflowService) abort(ctx context.Context, span trace.Span, err error) error {
	s.logger.Info("workflow abandoned before completion", "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "cancelled")
	s.tel.runs.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", "cancelled")))
	return err
}

// Get returns one of owner's workflows.
func (s *WorkflowService) Get(ctx context.Context, owner models.Identity, id string) (*models.WorkflowRecord, error) {
	if owner.IsZero() {
		return nil, ErrMissingOwner
	}
	return s.store.Get(ctx, owner, id)
}

// List returns owner's active workflows, newest first.
func (s *WorkflowService) List(ctx context.Context, owner models.Identity, limit, offset int) ([]*models.WorkflowRecord, error) {
	if owner.IsZero() {
		return nil, ErrMissingOwner
	}
	return s.store.ListActive(ctx, owner, s.page(limit, offset))
}

// ListDeleted returns owner's soft-deleted workflows.
func (s *WorkflowService) ListDeleted(ctx context.Context, owner models.Identity, limit, offset int) ([]*models.WorkflowRecord, error) {
	if owner.IsZero() {
		return nil, ErrMissingOwner
	}
	return s.store.ListDeleted(ctx, owner, s.page(limit, offset))
}

// Delete soft-deletes one of owner's workflows.
func (s *WorkflowService) Delete(ctx context.Context, owner models.Identity, id string) error {
	if owner.IsZero() {
		return ErrMissingOwner
	}
	return s.store.SoftDelete(ctx, owner, id)
}

// Restore undoes Delete.
func (s *WorkflowService) Restore(ctx context.Context, owner models.Identity, id string) error {
	if owner.IsZero() {
		return ErrMissingOwner
	}
	return s.store.Restore(ctx, owner, id)
}

// Ping reports store reachability.
func (s *WorkflowService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *WorkflowService) page(limit, offset int) models.Page {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return models.Page{Limit: limit, Offset: offset}
}
