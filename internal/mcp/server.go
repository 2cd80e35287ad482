// Package mcp exposes the workflow service as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"nexus/backend/internal/auth"
	"nexus/backend/internal/repository"
	"nexus/backend/internal/services"
	"nexus/backend/pkg/models"
)

// WorkflowService is the subset of the workflow service the tools call.
type WorkflowService interface {
	Run(ctx context.Context, owner models.Identity, topic string) (*services.RunResult, error)
	Get(ctx context.Context, owner models.Identity, id string) (*models.WorkflowRecord, error)
	List(ctx context.Context, owner models.Identity, limit, offset int) ([]*models.WorkflowRecord, error)
	Delete(ctx context.Context, owner models.Identity, id string) error
	Restore(ctx context.Context, owner models.Identity, id string) error
}

type Server struct {
	mcpServer *server.MCPServer
	workflows WorkflowService
}

func NewServer(workflows WorkflowService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Nexus Workflows",
			version,
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Plan a topic into agent tasks, run them concurrently and store the report"),
			mcp.WithString("topic", mcp.Required(), mcp.Description("The topic to research")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_history",
			mcp.WithDescription("List your active workflows, newest first"),
			mcp.WithNumber("limit", mcp.Description("Maximum number of workflows"), mcp.Min(0)),
			mcp.WithNumber("offset", mcp.Description("Number of workflows to skip"), mcp.Min(0)),
		),
		s.handleListHistory,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow",
			mcp.WithDescription("View one of your workflows"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow ID")),
		),
		s.handleGetWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"delete_workflow",
			mcp.WithDescription("Soft-delete one of your workflows"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow ID")),
		),
		s.handleDeleteWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"restore_workflow",
			mcp.WithDescription("Restore a soft-deleted workflow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow ID")),
		),
		s.handleRestoreWorkflow,
	)
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Unauthenticated"), nil
	}

	topic, err := request.RequireString("topic")
	if err != nil || topic == "" {
		return mcp.NewToolResultError("Missing required parameter: topic"), nil
	}

	res, err := s.workflows.Run(ctx, owner, topic)
	if err != nil {
		return toolError("Failed to run workflow", err), nil
	}

	payload := map[string]any{
		"topic":      res.Record.Topic,
		"results":    res.Record.Results,
		"total_time": res.Record.TotalTime,
		"persisted":  res.Persisted(),
	}
	if res.Persisted() {
		payload["workflow_id"] = res.Record.ID
	}
	return jsonResult(payload)
}

func (s *Server) handleListHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Unauthenticated"), nil
	}

	limit := request.GetInt("limit", 0)
	offset := request.GetInt("offset", 0)
	if limit < 0 || offset < 0 {
		return mcp.NewToolResultError("limit and offset must not be negative"), nil
	}

	records, err := s.workflows.List(ctx, owner, limit, offset)
	if err != nil {
		return toolError("Failed to list history", err), nil
	}
	if records == nil {
		records = []*models.WorkflowRecord{}
	}
	return jsonResult(records)
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, id, errResult := ownerAndID(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	rec, err := s.workflows.Get(ctx, owner, id)
	if err != nil {
		return toolError("Failed to get workflow", err), nil
	}
	return jsonResult(rec)
}

func (s *Server) handleDeleteWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, id, errResult := ownerAndID(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.workflows.Delete(ctx, owner, id); err != nil {
		return toolError("Failed to delete workflow", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Workflow %s deleted", id)), nil
}

func (s *Server) handleRestoreWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, id, errResult := ownerAndID(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.workflows.Restore(ctx, owner, id); err != nil {
		return toolError("Failed to restore workflow", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Workflow %s restored", id)), nil
}

func ownerAndID(ctx context.Context, request mcp.CallToolRequest) (models.Identity, string, *mcp.CallToolResult) {
	owner, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return "", "", mcp.NewToolResultError("Unauthenticated")
	}
	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return "", "", mcp.NewToolResultError("Missing required parameter: id")
	}
	return owner, id, nil
}

// toolError reports err to the client without leaking store internals.
func toolError(prefix string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return mcp.NewToolResultError(prefix + ": workflow not found")
	case errors.Is(err, services.ErrEmptyTopic), errors.Is(err, services.ErrAllTasksFailed):
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
	case errors.Is(err, repository.ErrStoreUnavailable):
		return mcp.NewToolResultError(prefix + ": workflow store is unavailable")
	default:
		return mcp.NewToolResultError(prefix + ": internal error")
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// identityContext carries the identity bound by the HTTP auth middleware into
// the tool handler context.
func identityContext(ctx context.Context, r *http.Request) context.Context {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return auth.WithIdentity(ctx, identity)
	}
	return ctx
}

// MountHTTPHandlers registers the SSE transport under /mcp. The caller wraps
// mux in the bearer-auth middleware; tools read the identity it binds.
func MountHTTPHandlers(mux *http.ServeMux, s *Server) {
	sseServer := server.NewSSEServer(s.mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(identityContext),
	)

	mux.Handle("/mcp/sse", sseServer.SSEHandler())
	mux.Handle("/mcp/message", sseServer.MessageHandler())
}
