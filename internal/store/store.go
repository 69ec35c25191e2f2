// ABOUTME: Record store interface and data types for probe-fleet persistence
// ABOUTME: Defines Probe, Deployment, Schedule, ProbeMetrics, ProbeEvent and the Store contract

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update finds the row in a
// different state than the caller expected
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when a unique key (probe slug) already exists
var ErrDuplicate = errors.New("already exists")

// ProbeStatus is the registry lifecycle state of a probe.
type ProbeStatus string

const (
	ProbeStatusDraft      ProbeStatus = "draft"
	ProbeStatusActive     ProbeStatus = "active"
	ProbeStatusDeprecated ProbeStatus = "deprecated"
)

// DeploymentStatus is the rollout state of a deployment.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentCompleted  DeploymentStatus = "completed"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
	DeploymentCancelled  DeploymentStatus = "cancelled"
)

// ScheduleType selects how a schedule's next window is derived.
type ScheduleType string

const (
	ScheduleCron  ScheduleType = "cron"
	ScheduleEvent ScheduleType = "event"
	ScheduleAdhoc ScheduleType = "adhoc"
)

// SchedulePriority orders due schedules when a dispatcher fires them.
type SchedulePriority string

const (
	PriorityLow    SchedulePriority = "low"
	PriorityNormal SchedulePriority = "normal"
	PriorityHigh   SchedulePriority = "high"
	PriorityUrgent SchedulePriority = "urgent"
)

// ScheduleStatus controls whether a schedule is eligible to fire.
type ScheduleStatus string

const (
	ScheduleActive   ScheduleStatus = "active"
	SchedulePaused   ScheduleStatus = "paused"
	ScheduleDisabled ScheduleStatus = "disabled"
)

// ProbeEventType labels rows in the per-probe ledger.
type ProbeEventType string

const (
	ProbeEventHeartbeat  ProbeEventType = "HEARTBEAT"
	ProbeEventFailure    ProbeEventType = "FAILURE"
	ProbeEventDeployment ProbeEventType = "DEPLOYMENT"
	ProbeEventRun        ProbeEventType = "RUN"
	ProbeEventStatus     ProbeEventType = "STATUS"
)

// Probe is a registered remote agent.
type Probe struct {
	ID                  string
	Slug                string
	Name                string
	Description         string
	OwnerEmail          string
	OwnerTeam           string
	Status              ProbeStatus
	FrameworkBindings   []string
	Tags                []string
	AlertChannels       []string
	EvidenceSchema      map[string]any
	EnvironmentOverlays map[string]any
	SDKVersionMin       string
	SDKVersionTarget    string
	HeartbeatInterval   time.Duration
	Metadata            map[string]any
	LastDeployedAt      *time.Time
	ArchivedAt          *time.Time // set when the probe is deprecated
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ProbeFilter narrows ListProbes and CountProbes.
type ProbeFilter struct {
	Status       ProbeStatus // empty matches all
	FrameworkIDs []string    // matches probes bound to any of these
	Owner        string      // case-insensitive substring of owner email
	Search       string      // case-insensitive substring of name, description, or slug
	Limit        int         // defaults to 25, capped at 100
	Offset       int
}

// Deployment is one versioned rollout of a probe to an environment.
type Deployment struct {
	ID            string
	ProbeID       string
	Version       string
	Environment   string
	Status        DeploymentStatus
	CanaryPercent *int
	Summary       string
	OverlayID     string
	Manifest      map[string]any
	Metadata      map[string]any
	SelfTest      json.RawMessage // snapshot of the last self test, if any
	StartedAt     *time.Time
	CompletedAt   *time.Time
	RolledBackAt  *time.Time
	Revision      int64 // bumped on every successful update
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Schedule determines when a probe executes. NextRunAt is a projection of
// Type and Expression and is rewritten whenever either changes.
type Schedule struct {
	ID         string
	ProbeID    string
	Type       ScheduleType
	Expression string
	Priority   SchedulePriority
	Status     ScheduleStatus
	Controls   []string
	Metadata   map[string]any
	LastRunAt  *time.Time
	NextRunAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProbeMetrics is the rolling health summary kept per probe.
type ProbeMetrics struct {
	ProbeID           string
	HeartbeatStatus   string
	HeartbeatInterval time.Duration
	LastHeartbeatAt   *time.Time
	FailureCount24h   int
	LatencyP95Ms      *int64
	LastErrorCode     string
	Metadata          map[string]any
	UpdatedAt         time.Time
}

// ProbeEvent is an append-only ledger row recorded alongside bus events.
type ProbeEvent struct {
	ID        string
	ProbeID   string
	Type      ProbeEventType
	Payload   map[string]any
	CreatedAt time.Time
}

// Store is the record store consumed by the orchestration packages.
// Conditional updates return ErrNotFound when the row is missing and
// ErrConflict when it exists in a different state.
type Store interface {
	// Probes
	CreateProbe(ctx context.Context, probe *Probe) error
	GetProbe(ctx context.Context, idOrSlug string) (*Probe, error)
	ListProbes(ctx context.Context, filter ProbeFilter) ([]*Probe, error)
	CountProbes(ctx context.Context, filter ProbeFilter) (int, error)
	UpdateProbeStatus(ctx context.Context, id string, from, to ProbeStatus, at time.Time) error
	TouchLastDeployment(ctx context.Context, probeID string, at time.Time) error

	// Deployments (append-only per probe)
	CreateDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	ListDeployments(ctx context.Context, probeID string, limit int) ([]*Deployment, error)
	UpdateDeployment(ctx context.Context, d *Deployment, expected DeploymentStatus, expectedRevision int64) error

	// Schedules
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, probeID string) ([]*Schedule, error)
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*Schedule, error)
	UpdateSchedule(ctx context.Context, s *Schedule) error

	// Health metrics
	UpsertProbeMetrics(ctx context.Context, m *ProbeMetrics) error
	// UpdateProbeMetrics replaces the row only while its last heartbeat
	// still equals expectedLastHeartbeat (nil matches a missing heartbeat).
	UpdateProbeMetrics(ctx context.Context, m *ProbeMetrics, expectedLastHeartbeat *time.Time) error
	GetProbeMetrics(ctx context.Context, probeID string) (*ProbeMetrics, error)
	ListProbeMetrics(ctx context.Context) ([]*ProbeMetrics, error)

	// Ledger
	RecordProbeEvent(ctx context.Context, event *ProbeEvent) error
	ListProbeEvents(ctx context.Context, probeID string, limit int) ([]*ProbeEvent, error)

	// Close releases any resources held by the store
	Close() error
}

const (
	defaultProbeLimit = 25
	maxProbeLimit     = 100
	defaultListLimit  = 50
	maxListLimit      = 500
)

func clampProbeLimit(limit int) int {
	if limit <= 0 {
		return defaultProbeLimit
	}
	if limit > maxProbeLimit {
		return maxProbeLimit
	}
	return limit
}

func clampListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// priorityRank orders due schedules, most urgent first.
func priorityRank(p SchedulePriority) int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}
