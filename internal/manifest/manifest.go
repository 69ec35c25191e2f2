// ABOUTME: TOML probe manifests: registration fields, schedules, and an optional deployment
// ABOUTME: Expands ${VAR} references and rejects unknown keys before converting to service requests

package manifest

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/probe-fleet/internal/deploy"
	"github.com/2389/probe-fleet/internal/registry"
	"github.com/2389/probe-fleet/internal/schedule"
)

// Manifest is a probe definition as written on disk.
type Manifest struct {
	Name              string         `toml:"name"`
	Description       string         `toml:"description"`
	OwnerEmail        string         `toml:"owner_email"`
	OwnerTeam         string         `toml:"owner_team"`
	Status            string         `toml:"status"`
	Frameworks        []string       `toml:"frameworks"`
	Tags              []string       `toml:"tags"`
	AlertChannels     []string       `toml:"alert_channels"`
	SDKVersionMin     string         `toml:"sdk_version_min"`
	SDKVersionTarget  string         `toml:"sdk_version_target"`
	HeartbeatInterval string         `toml:"heartbeat_interval"`
	EvidenceSchema    map[string]any `toml:"evidence_schema"`
	Overlays          map[string]any `toml:"overlays"`
	Metadata          map[string]any `toml:"metadata"`

	Schedules  []Schedule  `toml:"schedules"`
	Deployment *Deployment `toml:"deployment"`

	heartbeat time.Duration
}

// Schedule is a [[schedules]] entry.
type Schedule struct {
	Type       string         `toml:"type"`
	Expression string         `toml:"expression"`
	Priority   string         `toml:"priority"`
	Controls   []string       `toml:"controls"`
	Metadata   map[string]any `toml:"metadata"`
}

// Deployment is the optional [deployment] table.
type Deployment struct {
	Version       string         `toml:"version"`
	Environment   string         `toml:"environment"`
	CanaryPercent *int           `toml:"canary_percent"`
	Summary       string         `toml:"summary"`
	OverlayID     string         `toml:"overlay_id"`
	Manifest      map[string]any `toml:"manifest"`
	Metadata      map[string]any `toml:"metadata"`
}

// Load reads a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes manifest text.
func Parse(data string) (*Manifest, error) {
	var m Manifest
	meta, err := toml.Decode(expandEnvVars(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	if keys := unknownKeys(meta); len(keys) > 0 {
		return nil, fmt.Errorf("parsing manifest: unknown keys %s", strings.Join(keys, ", "))
	}

	if raw := strings.TrimSpace(m.HeartbeatInterval); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing heartbeat_interval: %w", err)
		}
		m.heartbeat = d
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating manifest: %w", err)
	}
	return &m, nil
}

// freeForm are tables whose contents are arbitrary user data.
var freeForm = map[string]bool{
	"overlays":            true,
	"metadata":            true,
	"evidence_schema":     true,
	"deployment.manifest": true,
	"deployment.metadata": true,
	"schedules.metadata":  true,
}

func unknownKeys(meta toml.MetaData) []string {
	var keys []string
	for _, k := range meta.Undecoded() {
		if freeForm[k[0]] || (len(k) > 1 && freeForm[k[0]+"."+k[1]]) {
			continue
		}
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks the fields a manifest cannot do without. Field-level
// rules are enforced again by the services.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(m.OwnerEmail) == "" {
		return fmt.Errorf("owner_email is required")
	}
	if len(m.Frameworks) == 0 {
		return fmt.Errorf("frameworks must list at least one framework")
	}
	if m.heartbeat < 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	for i, s := range m.Schedules {
		if strings.EqualFold(strings.TrimSpace(s.Type), "cron") && strings.TrimSpace(s.Expression) == "" {
			return fmt.Errorf("schedules[%d]: cron schedules need an expression", i)
		}
	}
	if d := m.Deployment; d != nil {
		if strings.TrimSpace(d.Version) == "" {
			return fmt.Errorf("deployment.version is required")
		}
		if strings.TrimSpace(d.Environment) == "" {
			return fmt.Errorf("deployment.environment is required")
		}
	}
	return nil
}

// Heartbeat returns the parsed heartbeat_interval, zero when unset.
func (m *Manifest) Heartbeat() time.Duration {
	return m.heartbeat
}

// RegisterRequest converts the manifest into a registration.
func (m *Manifest) RegisterRequest(actor string) registry.RegisterRequest {
	return registry.RegisterRequest{
		Name:                m.Name,
		Description:         m.Description,
		OwnerEmail:          m.OwnerEmail,
		OwnerTeam:           m.OwnerTeam,
		Status:              m.Status,
		FrameworkBindings:   m.Frameworks,
		Tags:                m.Tags,
		AlertChannels:       m.AlertChannels,
		EvidenceSchema:      m.EvidenceSchema,
		EnvironmentOverlays: m.Overlays,
		SDKVersionMin:       m.SDKVersionMin,
		SDKVersionTarget:    m.SDKVersionTarget,
		HeartbeatInterval:   m.heartbeat,
		Metadata:            m.Metadata,
		Actor:               actor,
	}
}

// ScheduleRequests converts [[schedules]] entries in file order.
func (m *Manifest) ScheduleRequests(actor string) []schedule.CreateRequest {
	out := make([]schedule.CreateRequest, 0, len(m.Schedules))
	for _, s := range m.Schedules {
		out = append(out, schedule.CreateRequest{
			Type:       s.Type,
			Expression: s.Expression,
			Priority:   s.Priority,
			Controls:   s.Controls,
			Metadata:   s.Metadata,
			Actor:      actor,
		})
	}
	return out
}

// PlanRequest converts the [deployment] table. ok is false when the manifest
// has none.
func (m *Manifest) PlanRequest(actor string) (req deploy.PlanRequest, ok bool) {
	d := m.Deployment
	if d == nil {
		return deploy.PlanRequest{}, false
	}
	return deploy.PlanRequest{
		Version:       d.Version,
		Environment:   d.Environment,
		CanaryPercent: d.CanaryPercent,
		Summary:       d.Summary,
		OverlayID:     d.OverlayID,
		Manifest:      d.Manifest,
		Metadata:      d.Metadata,
		Actor:         actor,
	}, true
}
