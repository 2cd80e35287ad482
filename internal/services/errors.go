package services

import (
	"errors"
	"fmt"
	"time"

	"nexus/backend/internal/repository"
)

var (
	// ErrEmptyTopic is returned when a workflow is requested for a blank topic.
	ErrEmptyTopic = errors.New("topic must not be empty")
	// ErrMissingOwner is returned when an operation has no caller identity.
	ErrMissingOwner = repository.ErrMissingOwner
	// ErrAllTasksFailed is returned when no planned task produced output.
	// Nothing is persisted in that case.
	ErrAllTasksFailed = errors.New("all workflow tasks failed")
	// ErrGeneration matches every GenerationError.
	ErrGeneration = errors.New("generation failed")
)

// GenerationError reports a failed or timed out generation call for one task.
type GenerationError struct {
	Role    string
	Elapsed time.Duration
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation for %q failed after %s: %v", e.Role, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGeneration, e.Err}
}
