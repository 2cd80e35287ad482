package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/backend/pkg/models"
)

func TestExecutor_Success(t *testing.T) {
	gen := newFakeGenerator(map[string]scriptedReply{
		"analyst": {text: "insight", delay: 30 * time.Millisecond},
	})
	e := NewExecutor(gen, time.Second)

	res, err := e.Execute(context.Background(), models.Task{Role: "analyst", Description: "look"})
	require.NoError(t, err)
	assert.Equal(t, "analyst", res.Role)
	assert.Equal(t, "look", res.Task)
	assert.Equal(t, models.AgentStatusCompleted, res.Status)
	assert.Equal(t, "insight", res.Content)
	assert.GreaterOrEqual(t, res.Duration, 0.03)
}

func TestExecutor_GenerationError(t *testing.T) {
	cause := errors.New("rate limited")
	gen := newFakeGenerator(map[string]scriptedReply{"analyst": {err: cause}})
	e := NewExecutor(gen, time.Second)

	_, err := e.Execute(context.Background(), models.Task{Role: "analyst", Description: "look"})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "analyst", genErr.Role)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, cause)
}

func TestExecutor_TimeoutReleasesStuckProvider(t *testing.T) {
	gen := newFakeGenerator(map[string]scriptedReply{"analyst": {hang: true}})
	defer close(gen.release)
	e := NewExecutor(gen, 30*time.Millisecond)

	start := time.Now()
	_, err := e.Execute(context.Background(), models.Task{Role: "analyst", Description: "look"})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "timed out")
}

func TestFailedResult(t *testing.T) {
	res := failedResult(models.Task{Role: "a", Description: "b"}, errors.New("boom"))
	assert.True(t, res.Failed())
	assert.Zero(t, res.Duration)
	assert.Equal(t, "boom", res.Error)
	assert.Empty(t, res.Content)
}
