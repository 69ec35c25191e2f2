// Package fault defines the error taxonomy shared by the orchestration
// packages.
//
// Every caller-facing failure carries one of six kinds:
//
//   - ErrValidation: a required field is missing or malformed. Raised before
//     any state change and never retried automatically.
//   - ErrNotFound: the probe, deployment, or schedule does not exist.
//   - ErrConflict: a conditional update lost a race against another writer.
//     The caller may reload and retry.
//   - ErrVersionIncompatible: the probe SDK version is below the supported
//     minimum. The caller must upgrade before retrying.
//   - ErrInvalidTransition: the requested deployment state change is not in
//     the transition table.
//   - ErrIntegration: the record store or another collaborator failed.
//     Persistence precedes event publication, so a retry is safe.
//
// Use errors.Is against the sentinels; the underlying cause (for example
// store.ErrConflict) stays in the chain.
package fault
