// ABOUTME: Event kinds, payload types, and the Publisher interface
// ABOUTME: Typed helpers build and publish each versioned probe event

package events

import (
	"context"
	"time"
)

// Kind is a versioned event name.
type Kind string

const (
	KindDeployment Kind = "probe.deployment.v1"
	KindEvidence   Kind = "probe.evidence.v1"
	KindHeartbeat  Kind = "probe.heartbeat.v1"
	KindFailure    Kind = "probe.failure.v1"
)

// Kinds lists every kind the bus carries.
var Kinds = []Kind{KindDeployment, KindEvidence, KindHeartbeat, KindFailure}

// Event is an immutable published value. ID and PublishedAt are assigned by
// the bus when left empty.
type Event struct {
	ID          string
	Kind        Kind
	Payload     any
	PublishedAt time.Time
}

// Deployment is the payload of probe.deployment.v1.
type Deployment struct {
	ProbeID      string     `json:"probeId"`
	DeploymentID string     `json:"deploymentId"`
	Version      string     `json:"version"`
	Status       string     `json:"status"`
	Environment  string     `json:"environment"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Evidence is the payload of probe.evidence.v1.
type Evidence struct {
	ProbeID         string         `json:"probeId"`
	RunID           string         `json:"runId"`
	Payload         map[string]any `json:"payload"`
	ControlMappings []string       `json:"controlMappings,omitempty"`
	Checksum        string         `json:"checksum,omitempty"`
	Status          string         `json:"status"`
}

// Heartbeat is the payload of probe.heartbeat.v1.
type Heartbeat struct {
	ProbeID  string         `json:"probeId"`
	Slug     string         `json:"slug"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Failure is the payload of probe.failure.v1.
type Failure struct {
	ProbeID      string `json:"probeId"`
	Slug         string `json:"slug,omitempty"`
	DeploymentID string `json:"deploymentId,omitempty"`
	ErrorCode    string `json:"errorCode"`
}

// Handler consumes one event. Returned errors are logged by the bus.
type Handler func(ctx context.Context, evt Event) error

// Publisher is the narrow interface services depend on.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// PublishDeployment publishes a probe.deployment.v1 event.
func PublishDeployment(ctx context.Context, p Publisher, payload Deployment) {
	p.Publish(ctx, Event{Kind: KindDeployment, Payload: payload})
}

// PublishEvidence publishes a probe.evidence.v1 event.
func PublishEvidence(ctx context.Context, p Publisher, payload Evidence) {
	p.Publish(ctx, Event{Kind: KindEvidence, Payload: payload})
}

// PublishHeartbeat publishes a probe.heartbeat.v1 event.
func PublishHeartbeat(ctx context.Context, p Publisher, payload Heartbeat) {
	p.Publish(ctx, Event{Kind: KindHeartbeat, Payload: payload})
}

// PublishFailure publishes a probe.failure.v1 event.
func PublishFailure(ctx context.Context, p Publisher, payload Failure) {
	p.Publish(ctx, Event{Kind: KindFailure, Payload: payload})
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) {}
