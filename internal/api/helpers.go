package api

import (
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/fusednorm/pkg/norm"
)

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeJSON(c *echo.Context, status int, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, echo.MIMEApplicationJSON, blob)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeErrorBody(c, http.StatusBadRequest, "invalid_request_error", msg)
}

// writeEngineError maps engine error kinds onto HTTP statuses: shape and
// precondition violations are the caller's fault, anything else is ours.
func writeEngineError(c *echo.Context, err error) error {
	var se *norm.ShapeError
	if errors.As(err, &se) {
		return writeErrorBody(c, http.StatusBadRequest, "shape_error", err.Error())
	}
	var pe *norm.PreconditionError
	if errors.As(err, &pe) {
		return writeErrorBody(c, http.StatusBadRequest, "precondition_error", err.Error())
	}
	return writeErrorBody(c, http.StatusInternalServerError, "internal_error", err.Error())
}

func writeErrorBody(c *echo.Context, status int, errType, msg string) error {
	return writeJSON(c, status, map[string]any{
		"error": ErrorBody{Type: errType, Message: msg},
	})
}
