// ABOUTME: Probe-side client for submitting evidence and heartbeats into the fleet
// ABOUTME: Evidence is checksummed with BLAKE2b-256 when the caller supplies no checksum

package probeclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/crypto/blake2b"

	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/fault"
	"github.com/2389/probe-fleet/internal/health"
)

// StatusAccepted is the receipt status for accepted evidence.
const StatusAccepted = "accepted"

// HeartbeatRecorder persists heartbeats. *health.Monitor implements it.
type HeartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, req health.HeartbeatRequest) (*health.Summary, error)
}

// Options configures a Client. Every field is optional.
type Options struct {
	Credential string
	Publisher  events.Publisher
	Heartbeats HeartbeatRecorder // when nil, heartbeats are only published
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Evidence is one evidence submission.
type Evidence struct {
	RunID           string // generated when empty
	Payload         map[string]any
	ControlMappings []string
	Checksum        string // computed when empty
}

// Receipt acknowledges a submission.
type Receipt struct {
	Status      string    `json:"status"`
	RunID       string    `json:"runId,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Client submits on behalf of a single probe.
type Client struct {
	probeID    string
	credential string
	publisher  events.Publisher
	heartbeats HeartbeatRecorder
	clock      clock.Clock
	logger     *slog.Logger
}

// New creates a client for probeID.
func New(probeID string, opts Options) (*Client, error) {
	probeID = strings.TrimSpace(probeID)
	if probeID == "" {
		return nil, fault.Validation("probe client requires a probe identifier", map[string]any{"field": "probeId"})
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		probeID:    probeID,
		credential: opts.Credential,
		publisher:  opts.Publisher,
		heartbeats: opts.Heartbeats,
		clock:      opts.Clock,
		logger:     opts.Logger.With("component", "probeclient", "probe_id", probeID),
	}, nil
}

// ProbeID returns the probe this client reports for.
func (c *Client) ProbeID() string {
	return c.probeID
}

// HasCredential reports whether the client was given a credential.
func (c *Client) HasCredential() bool {
	return c.credential != ""
}

// Checksum returns the hex BLAKE2b-256 digest of payload's JSON encoding.
// Map keys are encoded in sorted order, so equal payloads hash equally.
func Checksum(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding evidence payload: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SubmitEvidence publishes an evidence event.
func (c *Client) SubmitEvidence(ctx context.Context, ev Evidence) (*Receipt, error) {
	if ev.Payload == nil {
		return nil, fault.Validation("evidence payload is required", map[string]any{"field": "payload"})
	}

	checksum := strings.TrimSpace(ev.Checksum)
	if checksum == "" {
		sum, err := Checksum(ev.Payload)
		if err != nil {
			return nil, fault.Validation(err.Error(), map[string]any{"field": "payload"})
		}
		checksum = sum
	}
	runID := strings.TrimSpace(ev.RunID)
	if runID == "" {
		runID = uuid.New().String()
	}

	events.PublishEvidence(ctx, c.publisher, events.Evidence{
		ProbeID:         c.probeID,
		RunID:           runID,
		Payload:         ev.Payload,
		ControlMappings: ev.ControlMappings,
		Checksum:        checksum,
		Status:          StatusAccepted,
	})

	c.logger.Info("evidence submitted", "run_id", runID, "controls", ev.ControlMappings)
	return &Receipt{
		Status:      StatusAccepted,
		RunID:       runID,
		Checksum:    checksum,
		SubmittedAt: c.clock.Now().UTC(),
	}, nil
}

// SubmitHeartbeat reports the probe's status. An empty status means
// operational.
func (c *Client) SubmitHeartbeat(ctx context.Context, status string, metadata map[string]any) (*Receipt, error) {
	if strings.TrimSpace(status) == "" {
		status = string(health.StatusOperational)
	}

	if c.heartbeats != nil {
		summary, err := c.heartbeats.RecordHeartbeat(ctx, health.HeartbeatRequest{
			ProbeID:  c.probeID,
			Status:   status,
			Metadata: metadata,
		})
		if err != nil {
			return nil, err
		}
		status = string(summary.Status)
	} else {
		status = string(health.ClassifyStatus(status))
		events.PublishHeartbeat(ctx, c.publisher, events.Heartbeat{
			ProbeID:  c.probeID,
			Status:   status,
			Metadata: metadata,
		})
	}

	c.logger.Debug("heartbeat submitted", "status", status)
	return &Receipt{
		Status:      status,
		SubmittedAt: c.clock.Now().UTC(),
	}, nil
}
