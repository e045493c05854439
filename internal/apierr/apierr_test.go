package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	errTaskBusy := New(ErrConflict, "TASK_NOT_PENDING", "task is not pending")

	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"not found", NotFound("agent"), http.StatusNotFound, "NOT_FOUND", "agent not found"},
		{"forbidden", Forbidden("nope"), http.StatusForbidden, "FORBIDDEN", "nope"},
		{"invalid", Invalidf("name must be at most %d characters", 100), http.StatusBadRequest, "VALIDATION_ERROR", "name must be at most 100 characters"},
		{"custom code", errTaskBusy, http.StatusConflict, "TASK_NOT_PENDING", "task is not pending"},
		{"wrapped", fmt.Errorf("execute: %w", errTaskBusy), http.StatusConflict, "TASK_NOT_PENDING", "task is not pending"},
		{"bare kind", ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized"},
		{"unknown", errors.New("pq: connection refused"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, msg := Status(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.msg, msg)
		})
	}
}

func TestErrorsIsMatchesSentinelAndKind(t *testing.T) {
	sentinel := New(ErrConflict, "X", "x")
	err := fmt.Errorf("wrap: %w", sentinel)
	assert.True(t, errors.Is(err, sentinel))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
}
