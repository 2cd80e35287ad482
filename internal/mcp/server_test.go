package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nexus/backend/internal/auth"
	"nexus/backend/internal/repository"
	"nexus/backend/internal/services"
	"nexus/backend/pkg/models"
)

type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) Run(ctx context.Context, owner models.Identity, topic string) (*services.RunResult, error) {
	args := m.Called(ctx, owner, topic)
	res, _ := args.Get(0).(*services.RunResult)
	return res, args.Error(1)
}

func (m *MockWorkflowService) Get(ctx context.Context, owner models.Identity, id string) (*models.WorkflowRecord, error) {
	args := m.Called(ctx, owner, id)
	rec, _ := args.Get(0).(*models.WorkflowRecord)
	return rec, args.Error(1)
}

func (m *MockWorkflowService) List(ctx context.Context, owner models.Identity, limit, offset int) ([]*models.WorkflowRecord, error) {
	args := m.Called(ctx, owner, limit, offset)
	recs, _ := args.Get(0).([]*models.WorkflowRecord)
	return recs, args.Error(1)
}

func (m *MockWorkflowService) Delete(ctx context.Context, owner models.Identity, id string) error {
	return m.Called(ctx, owner, id).Error(0)
}

func (m *MockWorkflowService) Restore(ctx context.Context, owner models.Identity, id string) error {
	return m.Called(ctx, owner, id).Error(0)
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestRunWorkflowTool(t *testing.T) {
	svc := new(MockWorkflowService)
	s := NewServer(svc, "test")
	ctx := auth.WithIdentity(context.Background(), "alice")

	rec := &models.WorkflowRecord{
		ID:        "wf-1",
		Topic:     "market strategy",
		Results:   []models.AgentResult{{Role: "market researcher", Status: models.AgentStatusCompleted, Content: "ok"}},
		TotalTime: 1.5,
	}
	svc.On("Run", mock.Anything, models.Identity("alice"), "market strategy").
		Return(&services.RunResult{Record: rec}, nil)

	res, err := s.handleRunWorkflow(ctx, callRequest(map[string]any{"topic": "market strategy"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &payload))
	assert.Equal(t, "wf-1", payload["workflow_id"])
	assert.Equal(t, true, payload["persisted"])
	assert.Len(t, payload["results"], 1)
	svc.AssertExpectations(t)
}

func TestRunWorkflowTool_UnstoredReportHasNoID(t *testing.T) {
	svc := new(MockWorkflowService)
	s := NewServer(svc, "test")
	ctx := auth.WithIdentity(context.Background(), "alice")

	rec := &models.WorkflowRecord{
		Topic:   "market strategy",
		Results: []models.AgentResult{{Role: "market researcher", Status: models.AgentStatusCompleted, Content: "ok"}},
	}
	svc.On("Run", mock.Anything, models.Identity("alice"), "market strategy").
		Return(&services.RunResult{Record: rec, PersistErr: repository.ErrStoreUnavailable}, nil)

	res, err := s.handleRunWorkflow(ctx, callRequest(map[string]any{"topic": "market strategy"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &payload))
	assert.Equal(t, false, payload["persisted"])
	assert.NotContains(t, payload, "workflow_id")
	svc.AssertExpectations(t)
}

func TestTools_RequireIdentity(t *testing.T) {
	svc := new(MockWorkflowService)
	s := NewServer(svc, "test")

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"run_workflow":     s.handleRunWorkflow,
		"list_history":     s.handleListHistory,
		"get_workflow":     s.handleGetWorkflow,
		"delete_workflow":  s.handleDeleteWorkflow,
		"restore_workflow": s.handleRestoreWorkflow,
	}
	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			res, err := handler(context.Background(), callRequest(map[string]any{"topic": "x", "id": "y"}))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Equal(t, "Unauthenticated", resultText(t, res))
		})
	}
	svc.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestTools_MissingArguments(t *testing.T) {
	s := NewServer(new(MockWorkflowService), "test")
	ctx := auth.WithIdentity(context.Background(), "alice")

	res, err := s.handleRunWorkflow(ctx, callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleDeleteWorkflow(ctx, callRequest(map[string]any{"id": 42}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "id")
}

func TestListHistoryTool(t *testing.T) {
	svc := new(MockWorkflowService)
	s := NewServer(svc, "test")
	ctx := auth.WithIdentity(context.Background(), "alice")

	svc.On("List", mock.Anything, models.Identity("alice"), 5, 10).Return([]*models.WorkflowRecord(nil), nil)

	res, err := s.handleListHistory(ctx, callRequest(map[string]any{"limit": float64(5), "offset": float64(10)}))
	require.NoError(t, err)
	assert.Equal(t, "[]", resultText(t, res))
	svc.AssertExpectations(t)
}

func TestDeleteAndRestoreTools_HideForeignRecords(t *testing.T) {
	svc := new(MockWorkflowService)
	s := NewServer(svc, "test")
	ctx := auth.WithIdentity(context.Background(), "bob")

	svc.On("Delete", mock.Anything, models.Identity("bob"), "wf-1").
		Return(fmt.Errorf("soft delete: %w", repository.ErrNotFound))
	svc.On("Restore", mock.Anything, models.Identity("bob"), "wf-2").Return(nil)

	res, err := s.handleDeleteWorkflow(ctx, callRequest(map[string]any{"id": "wf-1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Failed to delete workflow: workflow not found", resultText(t, res))

	res, err = s.handleRestoreWorkflow(ctx, callRequest(map[string]any{"id": "wf-2"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Workflow wf-2 restored", resultText(t, res))
	svc.AssertExpectations(t)
}

func TestGetWorkflowTool_StoreErrorsAreOpaque(t *testing.T) {
	svc := new(MockWorkflowService)
	s := NewServer(svc, "test")
	ctx := auth.WithIdentity(context.Background(), "alice")

	svc.On("Get", mock.Anything, models.Identity("alice"), "wf-1").
		Return(nil, fmt.Errorf("get: %w: %w", repository.ErrStoreUnavailable, fmt.Errorf("dial tcp: refused")))

	res, err := s.handleGetWorkflow(ctx, callRequest(map[string]any{"id": "wf-1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.NotContains(t, resultText(t, res), "dial tcp")
}

func TestIdentityContext(t *testing.T) {
	req := httptest.NewRequest("POST", "/mcp/message", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "alice"))

	ctx := identityContext(context.Background(), req)
	identity, ok := auth.IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, models.Identity("alice"), identity)

	bare := httptest.NewRequest("POST", "/mcp/message", nil)
	_, ok = auth.IdentityFromContext(identityContext(context.Background(), bare))
	assert.False(t, ok)
}

func TestToolsAreRegistered(t *testing.T) {
	s := NewServer(new(MockWorkflowService), "test")

	tools := s.GetMCPServer().ListTools()
	for _, name := range []string{"run_workflow", "list_history", "get_workflow", "delete_workflow", "restore_workflow"} {
		assert.Contains(t, tools, name)
	}
}
