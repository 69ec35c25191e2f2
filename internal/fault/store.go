// ABOUTME: Classification of record store errors into fault kinds
// ABOUTME: Keeps the store sentinel in the chain so callers can match either

package fault

import (
	"errors"

	"github.com/2389/probe-fleet/internal/store"
)

// FromStore classifies an error returned by the record store. Missing rows
// become NotFound, lost conditional updates and duplicate keys become
// Conflict, and everything else becomes Integration. Errors that are already
// classified pass through unchanged.
func FromStore(op string, err error, details map[string]any) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: ErrNotFound, Message: op + ": not found", Details: details, Err: err}
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return &Error{Kind: ErrConflict, Message: op, Details: details, Err: err}
	default:
		return &Error{Kind: ErrIntegration, Message: op, Details: details, Err: err}
	}
}
