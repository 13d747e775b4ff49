package common

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/callback"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/ingress"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/labstack/echo/v4"
)

// Error codes returned in the "code" field of JSON error bodies.
const (
	CodeValidation   = "validation_failed"
	CodeForbidden    = "forbidden"
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeAmbiguous    = "ambiguous_result"
	CodeIncomplete   = "incomplete_result"
	CodeUndecodable  = "undecodable_payload"
	CodeMissingID    = "missing_video_id"
	CodeInternal     = "internal_error"
)

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrBadRequest returns a 400 Bad Request error.
func ErrBadRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Error: msg, Code: CodeValidation})
}

// ErrNotFound returns a 404 Not Found error.
func ErrNotFound(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusNotFound, ErrorBody{Error: msg, Code: CodeNotFound})
}

// ErrUnauthorized returns a 401 Unauthorized error.
func ErrUnauthorized() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, ErrorBody{Error: "unauthorized", Code: CodeUnauthorized})
}

// ErrForbidden returns a 403 Forbidden error.
func ErrForbidden() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusForbidden, ErrorBody{Error: "forbidden", Code: CodeForbidden})
}

// ErrInternal returns a 500 Internal Server Error.
func ErrInternal(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{Error: msg, Code: CodeInternal})
}

// MapError shapes a domain error into an HTTP error. Unknown errors are
// logged and hidden behind a generic 500.
func MapError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, ingress.ErrValidation):
		return ErrBadRequest(err.Error())
	case errors.Is(err, ingress.ErrForbidden):
		return ErrForbidden()
	case errors.Is(err, callback.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, ErrorBody{Error: err.Error(), Code: CodeUnauthorized})
	case errors.Is(err, callback.ErrMissingID):
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: CodeMissingID})
	case errors.Is(err, callback.ErrUndecodable):
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: CodeUndecodable})
	case errors.Is(err, videos.ErrAmbiguousResult):
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: CodeAmbiguous})
	case errors.Is(err, videos.ErrIncompleteResult):
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: CodeIncomplete})
	case errors.Is(err, videos.ErrNotFound):
		return ErrNotFound("video not found")
	case errors.Is(err, videos.ErrConflict), errors.Is(err, videos.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, ErrorBody{Error: err.Error(), Code: CodeConflict})
	}
	slog.Error("unhandled api error", "error", err)
	return ErrInternal("internal error")
}

// HTTPErrorHandler renders every error as an ErrorBody.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he := MapError(err)
	body, ok := he.Message.(ErrorBody)
	if !ok {
		// echo's own errors (404 route, 405, body limit) carry a plain message.
		body = ErrorBody{Error: http.StatusText(he.Code), Code: codeForStatus(he.Code)}
		if msg, isString := he.Message.(string); isString && msg != "" {
			body.Error = msg
		}
	}
	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(he.Code)
	} else {
		werr = c.JSON(he.Code, body)
	}
	if werr != nil {
		slog.Warn("failed to write error response", "error", werr)
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return CodeValidation
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	}
	return CodeInternal
}
