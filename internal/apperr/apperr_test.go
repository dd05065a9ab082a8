package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	base := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"validation", NewValidation("endpoint is required"), IsValidation},
		{"provider", NewProvider("weather api returned %d", 503), IsProvider},
		{"provider wrap", Provider("fetch forecast", base), IsProvider},
		{"gone", NewEndpointGone("status %d", 410), IsEndpointGone},
		{"storage", Storage("insert alert", base), IsStorage},
		{"not found", NewNotFound("alert %s", "abc"), IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.is(tt.err))
			assert.True(t, tt.is(fmt.Errorf("outer: %w", tt.err)), "classification survives wrapping")
		})
	}
}

func TestStorageKeepsCause(t *testing.T) {
	base := errors.New("deadlock detected")
	err := Storage("upsert subscription", base)

	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "upsert subscription")
	assert.False(t, IsProvider(err))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Storage("noop", nil))
	assert.NoError(t, Provider("noop", nil))
}
