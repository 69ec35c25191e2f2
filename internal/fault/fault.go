// ABOUTME: Error kinds for probe orchestration (validation, conflict, version, transition)
// ABOUTME: Wraps causes so both the kind sentinel and the original error match errors.Is

package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrVersionIncompatible = errors.New("version incompatible")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrIntegration         = errors.New("integration failure")
	ErrUnauthorized        = errors.New("unauthorized")
)

// Error is a classified failure with optional structured details.
type Error struct {
	Kind    error
	Message string
	Details map[string]any
	Err     error // optional cause
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation reports a request that was rejected before any state change.
func Validation(message string, details map[string]any) error {
	return &Error{Kind: ErrValidation, Message: message, Details: details}
}

// NotFound reports a missing entity.
func NotFound(message string, details map[string]any) error {
	return &Error{Kind: ErrNotFound, Message: message, Details: details}
}

// Conflict reports a lost optimistic-concurrency race.
func Conflict(message string, cause error) error {
	return &Error{Kind: ErrConflict, Message: message, Err: cause}
}

// VersionIncompatible reports an SDK version below the supported minimum.
func VersionIncompatible(message string, details map[string]any) error {
	return &Error{Kind: ErrVersionIncompatible, Message: message, Details: details}
}

// InvalidTransition reports a state change outside the transition table.
func InvalidTransition(message string, details map[string]any) error {
	return &Error{Kind: ErrInvalidTransition, Message: message, Details: details}
}

// Integration wraps a collaborator failure.
func Integration(op string, cause error) error {
	return &Error{Kind: ErrIntegration, Message: op, Err: cause}
}

// Unauthorized reports a missing or rejected probe credential.
func Unauthorized(message string, cause error) error {
	return &Error{Kind: ErrUnauthorized, Message: message, Err: cause}
}

// KindOf returns a short label for the error's kind, or "internal" when the
// error is not classified.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrVersionIncompatible):
		return "version_incompatible"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrIntegration):
		return "integration"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}
