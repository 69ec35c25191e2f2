// ABOUTME: Tests for error kind classification and wrapping
// ABOUTME: Verifies errors.Is matches both the kind and the underlying cause

package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("row changed underneath us")
	err := Conflict("deployment update lost race", cause)

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestError_WrappedStillClassifies(t *testing.T) {
	err := fmt.Errorf("planning deployment: %w", Validation("version is required", nil))

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "validation", KindOf(err))
}

func TestError_MessageIncludesSortedDetails(t *testing.T) {
	err := NotFound("probe could not be found", map[string]any{"probe_id": "p-1", "by": "slug"})
	assert.Equal(t, "probe could not be found (by=slug, probe_id=p-1)", err.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("boom"), "internal"},
		{NotFound("x", nil), "not_found"},
		{Conflict("x", nil), "conflict"},
		{VersionIncompatible("x", nil), "version_incompatible"},
		{InvalidTransition("x", nil), "invalid_transition"},
		{Integration("saving", errors.New("disk full")), "integration"},
		{Unauthorized("credential rejected", errors.New("expired")), "unauthorized"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err))
	}
}
