// ABOUTME: Configuration loading and parsing for probe-fleet
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/probe-fleet/internal/version"
)

// Defaults applied when a field is left empty.
const (
	DefaultSDKVersionMin     = "1.0.0"
	DefaultSDKVersionTarget  = "1.2.0"
	DefaultHeartbeatInterval = 300 * time.Second
	DefaultHeartbeatGrace    = 600 * time.Second
	DefaultDeploymentTopic   = "probe.rollouts"
	DefaultDispatchInterval  = time.Minute
	DefaultDispatchBatchSize = 100
	DefaultMetricsPath       = "/metrics"
	DefaultCredentialTTL     = 30 * 24 * time.Hour
)

// minCredentialSecret is the shortest accepted HS256 signing secret.
const minCredentialSecret = 16

// Config represents the complete probe-fleet configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Probes   ProbesConfig   `yaml:"probes"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds the address for the health and metrics listener
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds probe credential signing settings. An empty secret
// disables credential checks.
type AuthConfig struct {
	CredentialSecret string        `yaml:"credential_secret"`
	CredentialTTL    time.Duration `yaml:"-"`

	CredentialTTLRaw string `yaml:"credential_ttl"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProbesConfig holds fleet-wide probe policy
type ProbesConfig struct {
	SDKVersionMin    string         `yaml:"sdk_version_min"`
	SDKVersionTarget string         `yaml:"sdk_version_target"`
	DeploymentTopic  string         `yaml:"deployment_topic"`
	Defaults         map[string]any `yaml:"defaults"` // base overlay every probe config starts from

	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatGrace    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatGraceRaw    string `yaml:"heartbeat_grace"`
}

// DispatchConfig controls the periodic trigger that fires due schedules
type DispatchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Probes.SDKVersionMin == "" {
		c.Probes.SDKVersionMin = DefaultSDKVersionMin
	}
	if c.Probes.SDKVersionTarget == "" {
		c.Probes.SDKVersionTarget = DefaultSDKVersionTarget
	}
	if c.Probes.DeploymentTopic == "" {
		c.Probes.DeploymentTopic = DefaultDeploymentTopic
	}
	if c.Probes.HeartbeatInterval == 0 {
		c.Probes.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Probes.HeartbeatGrace == 0 {
		c.Probes.HeartbeatGrace = DefaultHeartbeatGrace
	}
	if c.Dispatch.Interval == 0 {
		c.Dispatch.Interval = DefaultDispatchInterval
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = DefaultDispatchBatchSize
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Auth.CredentialTTL == 0 {
		c.Auth.CredentialTTL = DefaultCredentialTTL
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Metrics.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required when metrics are enabled")
	}

	if version.Compare(c.Probes.SDKVersionTarget, c.Probes.SDKVersionMin) < 0 {
		return fmt.Errorf("probes.sdk_version_target %q is below probes.sdk_version_min %q",
			c.Probes.SDKVersionTarget, c.Probes.SDKVersionMin)
	}

	if c.Probes.HeartbeatInterval < 0 || c.Probes.HeartbeatGrace < 0 {
		return fmt.Errorf("probes heartbeat durations must be positive")
	}

	if c.Dispatch.Interval < 0 {
		return fmt.Errorf("dispatch.interval must be positive")
	}

	if c.Auth.CredentialSecret != "" && len(c.Auth.CredentialSecret) < minCredentialSecret {
		return fmt.Errorf("auth.credential_secret must be at least %d bytes", minCredentialSecret)
	}
	if c.Auth.CredentialTTL < 0 {
		return fmt.Errorf("auth.credential_ttl must be positive")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Probes.HeartbeatIntervalRaw != "" {
		cfg.Probes.HeartbeatInterval, err = time.ParseDuration(cfg.Probes.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Probes.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Probes.HeartbeatGraceRaw != "" {
		cfg.Probes.HeartbeatGrace, err = time.ParseDuration(cfg.Probes.HeartbeatGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_grace %q: %w", cfg.Probes.HeartbeatGraceRaw, err)
		}
	}

	if cfg.Dispatch.IntervalRaw != "" {
		cfg.Dispatch.Interval, err = time.ParseDuration(cfg.Dispatch.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing dispatch interval %q: %w", cfg.Dispatch.IntervalRaw, err)
		}
	}

	if cfg.Auth.CredentialTTLRaw != "" {
		cfg.Auth.CredentialTTL, err = time.ParseDuration(cfg.Auth.CredentialTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing credential_ttl %q: %w", cfg.Auth.CredentialTTLRaw, err)
		}
	}

	return nil
}
