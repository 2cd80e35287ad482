package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// RunWorkflowJSONRequestBody defines body for RunWorkflow.
type RunWorkflowJSONRequestBody struct {
	Topic string `json:"topic" validate:"required"`
}

// HistoryParams defines parameters for ListHistory and ListDeletedHistory.
type HistoryParams struct {
	Limit  *int `form:"limit,omitempty" json:"limit,omitempty"`
	Offset *int `form:"offset,omitempty" json:"offset,omitempty"`
}

// ServerInterface represents all server handlers mounted under /api.
type ServerInterface interface {
	// Run a workflow for a topic
	// (POST /workflow)
	RunWorkflow(ctx echo.Context) error
	// View one workflow
	// (GET /workflow/{id})
	GetWorkflow(ctx echo.Context, id string) error
	// Soft-delete a workflow
	// (DELETE /workflow/{id})
	DeleteWorkflow(ctx echo.Context, id string) error
	// Restore a soft-deleted workflow
	// (POST /workflow/{id}/restore)
	RestoreWorkflow(ctx echo.Context, id string) error
	// List active workflows
	// (GET /history)
	ListHistory(ctx echo.Context, params HistoryParams) error
	// List soft-deleted workflows
	// (GET /history/deleted)
	ListDeletedHistory(ctx echo.Context, params HistoryParams) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// RunWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) RunWorkflow(ctx echo.Context) error {
	return w.Handler.RunWorkflow(ctx)
}

// GetWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) GetWorkflow(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetWorkflow(ctx, id)
}

// DeleteWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) DeleteWorkflow(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.DeleteWorkflow(ctx, id)
}

// RestoreWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) RestoreWorkflow(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.RestoreWorkflow(ctx, id)
}

// ListHistory converts echo context to params.
func (w *ServerInterfaceWrapper) ListHistory(ctx echo.Context) error {
	params, err := bindHistoryParams(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ListHistory(ctx, params)
}

// ListDeletedHistory converts echo context to params.
func (w *ServerInterfaceWrapper) ListDeletedHistory(ctx echo.Context) error {
	params, err := bindHistoryParams(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ListDeletedHistory(ctx, params)
}

func bindID(ctx echo.Context) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", ctx.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}
	return id, nil
}

func bindHistoryParams(ctx echo.Context) (HistoryParams, error) {
	var params HistoryParams

	err := runtime.BindQueryParameter("form", true, false, "limit", ctx.QueryParams(), &params.Limit)
	if err != nil {
		return params, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter limit: %s", err))
	}

	err = runtime.BindQueryParameter("form", true, false, "offset", ctx.QueryParams(), &params.Offset)
	if err != nil {
		return params, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter offset: %s", err))
	}
	return params, nil
}

// EchoRouter is the subset of echo.Echo and echo.Group used for registration.
type EchoRouter interface {
	CONNECT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	HEAD(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	OPTIONS(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PATCH(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	TRACE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers handlers, prepending baseURL to the
// paths, so that the routes can be served under a prefix.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
	}

	router.GET(baseURL+"/history", wrapper.ListHistory)
	router.GET(baseURL+"/history/deleted", wrapper.ListDeletedHistory)
	router.POST(baseURL+"/workflow", wrapper.RunWorkflow)
	router.GET(baseURL+"/workflow/:id", wrapper.GetWorkflow)
	router.DELETE(baseURL+"/workflow/:id", wrapper.DeleteWorkflow)
	router.POST(baseURL+"/workflow/:id/restore", wrapper.RestoreWorkflow)
}
