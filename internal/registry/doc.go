// Package registry owns the probe lifecycle.
//
// Registration validates the request, checks the declared SDK version
// against the fleet minimum, and bakes the fleet defaults into the probe's
// environment overlays before the record is created. Probe status only ever
// moves forward: draft to active, and draft or active to deprecated. The
// Registry is the only writer of probe status.
package registry
