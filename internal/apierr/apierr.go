// Package apierr defines the error kinds services return and how they map
// onto HTTP responses.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid request")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a user-facing error of a given kind. Msg is safe to return to
// clients; Code overrides the default code of the kind.
type Error struct {
	Kind error
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

// New creates an error of kind with a client-facing message
func New(kind error, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Invalidf is shorthand for a validation failure
func Invalidf(format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalid, Code: "VALIDATION_ERROR", Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing resource by name
func NotFound(what string) error {
	return &Error{Kind: ErrNotFound, Code: "NOT_FOUND", Msg: what + " not found"}
}

// Forbidden reports a permission failure
func Forbidden(msg string) error {
	return &Error{Kind: ErrForbidden, Code: "FORBIDDEN", Msg: msg}
}

// Status maps err to an HTTP status, error code and client-facing message.
// Unknown errors become a generic 500 so internals never leak.
func Status(err error) (int, string, string) {
	var apiErr *Error
	msg := ""
	code := ""
	if errors.As(err, &apiErr) {
		msg = apiErr.Msg
		code = apiErr.Code
	}

	var status int
	switch {
	case errors.Is(err, ErrNotFound):
		status, code = http.StatusNotFound, orDefault(code, "NOT_FOUND")
	case errors.Is(err, ErrForbidden):
		status, code = http.StatusForbidden, orDefault(code, "FORBIDDEN")
	case errors.Is(err, ErrInvalid):
		status, code = http.StatusBadRequest, orDefault(code, "VALIDATION_ERROR")
	case errors.Is(err, ErrConflict):
		status, code = http.StatusConflict, orDefault(code, "CONFLICT")
	case errors.Is(err, ErrUnauthorized):
		status, code = http.StatusUnauthorized, orDefault(code, "UNAUTHORIZED")
	default:
		return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error"
	}

	if msg == "" {
		msg = err.Error()
	}
	return status, code, msg
}

func orDefault(code, def string) string {
	if code == "" {
		return def
	}
	return code
}
