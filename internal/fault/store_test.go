// ABOUTME: Tests for store error classification
// ABOUTME: Verifies both the fault kind and the store sentinel stay matchable

package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/probe-fleet/internal/store"
)

func TestFromStore(t *testing.T) {
	assert.NoError(t, FromStore("loading probe", nil, nil))

	err := FromStore("loading probe", store.ErrNotFound, map[string]any{"probe_id": "p-1"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, "loading probe: not found (probe_id=p-1): not found", err.Error())

	err = FromStore("updating deployment", fmt.Errorf("wrapped: %w", store.ErrConflict), nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, store.ErrConflict)

	err = FromStore("creating probe", store.ErrDuplicate, nil)
	assert.ErrorIs(t, err, ErrConflict)

	err = FromStore("listing probes", errors.New("disk I/O error"), nil)
	assert.ErrorIs(t, err, ErrIntegration)
	assert.Equal(t, "integration", KindOf(err))
}

func TestFromStore_PassesThroughClassified(t *testing.T) {
	original := Validation("bad input", nil)
	assert.Same(t, original, FromStore("op", original, nil))
}
