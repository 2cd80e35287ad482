// Package api contains the HTTP handlers for the workflow service.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"nexus/backend/internal/auth"
	"nexus/backend/internal/services"
	"nexus/backend/pkg/models"
)

// WorkflowService is the orchestration and history surface the handlers use.
type WorkflowService interface {
	Run(ctx context.Context, owner models.Identity, topic string) (*services.RunResult, error)
	Get(ctx context.Context, owner models.Identity, id string) (*models.WorkflowRecord, error)
	List(ctx context.Context, owner models.Identity, limit, offset int) ([]*models.WorkflowRecord, error)
	ListDeleted(ctx context.Context, owner models.Identity, limit, offset int) ([]*models.WorkflowRecord, error)
	Delete(ctx context.Context, owner models.Identity, id string) error
	Restore(ctx context.Context, owner models.Identity, id string) error
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the API server.
type Server struct {
	Workflows WorkflowService
	logger    Logger
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(workflows WorkflowService, logger Logger) *Server {
	return &Server{Workflows: workflows, logger: orNop(logger)}
}

// RunWorkflowResponse is the report returned by POST /api/workflow.
type RunWorkflowResponse struct {
	WorkflowID string               `json:"workflow_id,omitempty"`
	Topic      string               `json:"topic"`
	Results    []models.AgentResult `json:"results"`
	TotalTime  float64              `json:"total_time"`
	// Persisted is false when the report was computed but could not be
	// stored; the report itself is still complete and WorkflowID is empty.
	Persisted bool `json:"persisted"`
}

// StatusResponse acknowledges delete and restore.
type StatusResponse struct {
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id"`
	Message    string `json:"message"`
}

// RunWorkflow plans and runs a workflow for the caller
// (POST /api/workflow)
func (s *Server) RunWorkflow(c echo.Context) error {
	owner, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return unauthenticated(c, "missing caller identity")
	}

	var body RunWorkflowJSONRequestBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "validation_error", "invalid request body")
	}
	if err := c.Validate(&body); err != nil {
		return badRequest(c, "validation_error", validationDetail(err))
	}

	res, err := s.Workflows.Run(c.Request().Context(), owner, body.Topic)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// client went away; nothing was stored and nobody is listening
			return c.NoContent(499)
		}
		return s.handleServiceError(c, err)
	}
	if !res.Persisted() {
		s.logger.Warn("workflow report returned without persistence",
			"owner", owner, "topic", res.Record.Topic, "error", res.PersistErr)
	}

	rec := res.Record
	return c.JSON(http.StatusOK, RunWorkflowResponse{
		WorkflowID: rec.ID,
		Topic:      rec.Topic,
		Results:    rec.Results,
		TotalTime:  rec.TotalTime,
		Persisted:  res.Persisted(),
	})
}

// GetWorkflow returns one of the caller's workflows
// (GET /api/workflow/{id})
func (s *Server) GetWorkflow(c echo.Context, id string) error {
	owner, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return unauthenticated(c, "missing caller identity")
	}

	rec, err := s.Workflows.Get(c.Request().Context(), owner, id)
	if err != nil {
		return s.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// DeleteWorkflow soft-deletes one of the caller's workflows
// (DELETE /api/workflow/{id})
func (s *Server) DeleteWorkflow(c echo.Context, id string) error {
	owner, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return unauthenticated(c, "missing caller identity")
	}

	if err := s.Workflows.Delete(c.Request().Context(), owner, id); err != nil {
		return s.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:     "success",
		WorkflowID: id,
		Message:    "workflow deleted",
	})
}

// RestoreWorkflow brings back a soft-deleted workflow
// (POST /api/workflow/{id}/restore)
func (s *Server) RestoreWorkflow(c echo.Context, id string) error {
	owner, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return unauthenticated(c, "missing caller identity")
	}

	if err := s.Workflows.Restore(c.Request().Context(), owner, id); err != nil {
		return s.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:     "success",
		WorkflowID: id,
		Message:    "workflow restored",
	})
}

// ListHistory returns the caller's active workflows, newest first
// (GET /api/history)
func (s *Server) ListHistory(c echo.Context, params HistoryParams) error {
	return s.listHistory(c, params, s.Workflows.List)
}

// ListDeletedHistory returns the caller's soft-deleted workflows
// (GET /api/history/deleted)
func (s *Server) ListDeletedHistory(c echo.Context, params HistoryParams) error {
	return s.listHistory(c, params, s.Workflows.ListDeleted)
}

type listFunc func(ctx context.Context, owner models.Identity, limit, offset int) ([]*models.WorkflowRecord, error)

func (s *Server) listHistory(c echo.Context, params HistoryParams, list listFunc) error {
	owner, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return unauthenticated(c, "missing caller identity")
	}

	var limit, offset int
	if params.Limit != nil {
		limit = *params.Limit
	}
	if params.Offset != nil {
		offset = *params.Offset
	}
	if limit < 0 || offset < 0 {
		return badRequest(c, "validation_error", "limit and offset must not be negative")
	}

	records, err := list(c.Request().Context(), owner, limit, offset)
	if err != nil {
		return s.handleServiceError(c, err)
	}
	if records == nil {
		records = []*models.WorkflowRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Field() == "Topic" && fe.Tag() == "required" {
			return "topic is required"
		}
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
	return err.Error()
}
