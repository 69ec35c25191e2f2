// Package config handles configuration loading for probe-fleet.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Empty fields fall back to fleet defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PROBE_FLEET_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/probe-fleet/config.yaml
//  3. ~/.config/probe-fleet/config.yaml
//
// # Environment Variable Expansion
//
//	database:
//	  path: "${PROBE_FLEET_DB}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:9464"   # health and metrics listener
//
//	database:
//	  path: "/var/lib/probe-fleet/fleet.db"
//
//	probes:
//	  sdk_version_min: "1.0.0"
//	  sdk_version_target: "1.2.0"
//	  heartbeat_interval: "300s"
//	  heartbeat_grace: "600s"
//	  deployment_topic: "probe.rollouts"
//	  defaults:                    # base overlay for every probe
//	    retries: 3
//	    http:
//	      timeout: 5
//
//	dispatch:
//	  enabled: true
//	  interval: "1m"
//	  batch_size: 100
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() validates:
//
//   - database.path is present
//   - server.http_addr is present when metrics are enabled
//   - the SDK target version is not below the minimum
//   - duration formats and logging format
package config
