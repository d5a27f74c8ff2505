package ierr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkAndIs(t *testing.T) {
	err := NewError("plan not found").
		WithHint("Unknown plan").
		Mark(ErrNotFound)

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))

	wrapped := fmt.Errorf("lookup: %w", err)
	assert.True(t, IsNotFound(wrapped))

	ie, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "Unknown plan", ie.DisplayError())
}

func TestWithErrorNil(t *testing.T) {
	err := WithError(nil).Mark(ErrInternal)
	assert.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromErr(err))
}

func TestHTTPStatusFromErr(t *testing.T) {
	tests := []struct {
		name string
		mark error
		want int
	}{
		{"validation", ErrValidation, http.StatusBadRequest},
		{"invalid plan", ErrInvalidPlan, http.StatusBadRequest},
		{"invalid signature", ErrInvalidSignature, http.StatusBadRequest},
		{"uncorrelated", ErrUncorrelatedEvent, http.StatusBadRequest},
		{"plan limit", ErrPlanLimitExceeded, http.StatusForbidden},
		{"provider unavailable", ErrProviderUnavailable, http.StatusServiceUnavailable},
		{"not implemented", ErrNotImplemented, http.StatusNotImplemented},
		{"already exists", ErrAlreadyExists, http.StatusConflict},
		{"database", ErrDatabase, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError("boom").Mark(tt.mark)
			assert.Equal(t, tt.want, HTTPStatusFromErr(err))
		})
	}
}

func TestPlanLimitResponse(t *testing.T) {
	err := NewPlanLimitExceeded("clients", 3)
	require.True(t, IsPlanLimitExceeded(err))

	resp := NewErrorResponse(err, false)
	assert.False(t, resp.Success)
	assert.Equal(t, PlanLimitCode, resp.Error.Code)
	assert.Equal(t, "clients", resp.Error.Details["resource"])
	assert.Equal(t, int64(3), resp.Error.Details["limit"])
	assert.Empty(t, resp.Error.InternalError)
}
