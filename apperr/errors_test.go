package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidTransitionCarriesStates(t *testing.T) {
	err := InvalidTransition("milestone", "m-1", "pending", "completed")

	assert.Equal(t, "pending", err.From)
	assert.Equal(t, "completed", err.To)
	assert.Equal(t, "milestone m-1: invalid milestone transition pending -> completed", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestKindSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("payment: approve: %w", Unauthorized("payment_request", "pr-1", "only the client may approve"))

	require.True(t, errors.Is(wrapped, ErrUnauthorized))
	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindUnauthorized, kind)

	_, ok = KindOf(errors.New("boom"))
	assert.False(t, ok)
}

func TestNotFoundAndValidationMessages(t *testing.T) {
	assert.Equal(t, "contract c-9: contract not found", NotFound("contract", "c-9").Error())
	assert.Equal(t, "milestone: title required", Validation("milestone", "title required").Error())
	assert.True(t, errors.Is(Validation("milestone", "x"), ErrValidation))
}
