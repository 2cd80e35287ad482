package generation

import (
	"context"
	"fmt"
	"time"

	"nexus/backend/pkg/models"
)

// mockPlan is the planner reply of the mock provider: one task per analyst
// role, so local runs fan out.
const mockPlan = `["market researcher:size the market", "technical analyst:assess the core barriers", "competitor analyst:name the strongest rival"]`

// MockGenerator answers every call with canned text after a fixed delay. The
// planner role gets a fixed three-task plan. It needs no credentials and is
// the default provider for local runs.
type MockGenerator struct {
	delay time.Duration
}

// NewMockGenerator creates a MockGenerator.
func NewMockGenerator(delay time.Duration) *MockGenerator {
	return &MockGenerator{delay: delay}
}

// Generate waits for the configured delay, or until ctx ends.
func (m *MockGenerator) Generate(ctx context.Context, role, prompt string) (Generation, error) {
	start := time.Now()
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Generation{Elapsed: time.Since(start)}, ctx.Err()
		case <-timer.C:
		}
	}
	if role == models.RolePlanner {
		return finish(mockPlan, start)
	}
	return finish(fmt.Sprintf("[%s] report on: %s", role, prompt), start)
}
