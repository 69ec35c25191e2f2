// Package fleet wires the probe orchestration services together and exposes
// the synchronous API used by the command line and by embedding programs.
//
// A Fleet owns the record store, the event bus, and every service built on
// them. Run starts the optional health and metrics listener and the dispatch
// loop; the API methods work whether or not Run was called.
package fleet
