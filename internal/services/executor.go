package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nexus/backend/internal/generation"
	"nexus/backend/pkg/models"
)

// Executor runs a single planned task against the generation capability.
type Executor struct {
	gen     generation.Generator
	timeout time.Duration
}

// NewExecutor creates an Executor. A positive timeout bounds each call.
func NewExecutor(gen generation.Generator, timeout time.Duration) *Executor {
	return &Executor{gen: gen, timeout: timeout}
}

type generateOutcome struct {
	out generation.Generation
	err error
}

// Execute runs task and times it. Failures, including the per-task timeout,
// are returned as *GenerationError.
func (e *Executor) Execute(ctx context.Context, task models.Task) (models.AgentResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	// the call runs in its own goroutine so a provider that ignores ctx still
	// releases the task when the deadline passes
	done := make(chan generateOutcome, 1)
	go func() {
		out, err := e.gen.Generate(ctx, task.Role, task.Description)
		done <- generateOutcome{out: out, err: err}
	}()

	var res generateOutcome
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	elapsed := time.Since(start)

	if res.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && e.timeout > 0 {
			res.err = fmt.Errorf("timed out after %s: %w", e.timeout, res.err)
		}
		return models.AgentResult{}, &GenerationError{Role: task.Role, Elapsed: elapsed, Err: res.err}
	}

	return models.AgentResult{
		Role:     task.Role,
		Task:     task.Description,
		Status:   models.AgentStatusCompleted,
		Content:  res.out.Text,
		Duration: elapsed.Seconds(),
	}, nil
}

// failedResult is the placeholder recorded for a task whose generation failed.
func failedResult(task models.Task, err error) models.AgentResult {
	return models.AgentResult{
		Role:   task.Role,
		Task:   task.Description,
		Status: models.AgentStatusFailed,
		Error:  err.Error(),
	}
}
