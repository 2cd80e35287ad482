package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/moogar0880/problems"

	"nexus/backend/internal/auth"
	"nexus/backend/internal/repository"
	"nexus/backend/internal/services"
)

const problemContentType = "application/problem+json"

func writeProblem(c echo.Context, status int, typ, detail string) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Request().URL.Path).
		WithType(typ).
		WithDetail(detail)

	body, err := json.Marshal(problem)
	if err != nil {
		return err
	}
	return c.Blob(status, problemContentType, body)
}

func badRequest(c echo.Context, typ, detail string) error {
	return writeProblem(c, http.StatusBadRequest, typ, detail)
}

func notFound(c echo.Context) error {
	return writeProblem(c, http.StatusNotFound, "not_found", "workflow not found")
}

func unauthenticated(c echo.Context, detail string) error {
	c.Response().Header().Set("WWW-Authenticate", `Bearer realm="nexus"`)
	return writeProblem(c, http.StatusUnauthorized, "unauthenticated", detail)
}

func internalError(c echo.Context) error {
	return writeProblem(c, http.StatusInternalServerError, "internal_error", "internal server error")
}

// handleServiceError maps service and store errors onto problem responses.
// Store internals never reach the client.
func (s *Server) handleServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrEmptyTopic):
		return badRequest(c, "empty_topic", err.Error())

	case errors.Is(err, services.ErrMissingOwner),
		errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrMalformedCredential):
		return unauthenticated(c, "missing caller identity")

	case errors.Is(err, repository.ErrNotFound):
		return notFound(c)

	case errors.Is(err, services.ErrAllTasksFailed):
		return writeProblem(c, http.StatusBadGateway, "generation_failed", err.Error())

	case errors.Is(err, repository.ErrStoreUnavailable):
		s.logger.Error("store unavailable", "path", c.Request().URL.Path, "error", err)
		return writeProblem(c, http.StatusServiceUnavailable, "store_unavailable", "workflow store is unavailable")

	default:
		s.logger.Error("request failed", "path", c.Request().URL.Path, "error", err)
		return internalError(c)
	}
}

// ErrorHandler renders errors that escape handlers, such as routing and
// parameter binding failures, as problem documents.
func ErrorHandler(logger Logger) echo.HTTPErrorHandler {
	logger = orNop(logger)
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		typ := "internal_error"
		detail := "internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			detail = http.StatusText(status)
			if msg, ok := he.Message.(string); ok && msg != "" {
				detail = msg
			}
			switch status {
			case http.StatusBadRequest:
				typ = "validation_error"
			case http.StatusNotFound:
				typ = "not_found"
			case http.StatusMethodNotAllowed:
				typ = "method_not_allowed"
			case http.StatusUnauthorized:
				typ = "unauthenticated"
			default:
				typ = "about:blank"
			}
		} else {
			logger.Error("unhandled error", "path", c.Request().URL.Path, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		if werr := writeProblem(c, status, typ, detail); werr != nil {
			logger.Error("failed to write error response", "error", werr)
		}
	}
}
