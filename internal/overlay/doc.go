// Package overlay merges layered configuration objects for probes.
//
// A probe's effective configuration is the fleet defaults with zero or more
// overlays applied in order (registration overlay, then environment overlay,
// then any per-deployment patch). Merging follows three rules:
//
//   - maps merge key by key, recursively
//   - slices and scalars in the patch replace the base value
//   - a nil patch value overwrites with nil; Undefined (or an absent key)
//     leaves the base alone
//
// Results are always freshly allocated, so callers may mutate them without
// affecting the inputs.
package overlay
