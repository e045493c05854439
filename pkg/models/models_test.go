package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidFeedback(t *testing.T) {
	for _, v := range []int{-1, 0, 1} {
		assert.True(t, ValidFeedback(v), "value %d", v)
	}
	for _, v := range []int{-2, 2, 5, 100} {
		assert.False(t, ValidFeedback(v), "value %d", v)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		allowed  bool
	}{
		{TaskPending, TaskInProgress, true},
		{TaskPending, TaskCompleted, false},
		{TaskInProgress, TaskCompleted, true},
		{TaskInProgress, TaskPending, true},
		{TaskCompleted, TaskPending, false},
		{TaskCompleted, TaskInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPermissionAllows(t *testing.T) {
	assert.True(t, PermissionAllows(PermissionUse, PermissionView))
	assert.True(t, PermissionAllows(PermissionView, PermissionView))
	assert.True(t, PermissionAllows(PermissionUse, PermissionUse))
	assert.False(t, PermissionAllows(PermissionView, PermissionUse))
}
