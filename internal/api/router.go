package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RouterOptions collects what Mount wires onto an echo instance.
type RouterOptions struct {
	Server  *Server
	Handler *Handler
	// RequireAuth guards every /api route.
	RequireAuth func(http.Handler) http.Handler
	// Issuer is substituted into the published OpenAPI document.
	Issuer string
	Logger Logger
}

// Mount registers the health, documentation and /api routes. Only /api
// requires a bearer credential.
func Mount(e *echo.Echo, opts RouterOptions) *echo.Group {
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = ErrorHandler(opts.Logger)

	e.GET("/health", echo.WrapHandler(http.HandlerFunc(opts.Handler.HandleHealth)))
	e.GET("/openapi.yaml", echo.WrapHandler(SpecHandler(opts.Issuer)))
	e.GET("/docs", echo.WrapHandler(SwaggerHandler()))

	apiGroup := e.Group("/api")
	apiGroup.Use(echo.WrapMiddleware(opts.RequireAuth))
	RegisterHandlers(apiGroup, opts.Server)
	return apiGroup
}
