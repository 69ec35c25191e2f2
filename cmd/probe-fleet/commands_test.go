package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/probe-fleet/internal/config"
	"github.com/2389/probe-fleet/internal/fault"
	"github.com/2389/probe-fleet/internal/fleet"
	"github.com/2389/probe-fleet/internal/registry"
	"github.com/2389/probe-fleet/internal/store"
)

const probeManifest = `
name = "Disk Encryption Check"
owner_email = "sec@example.com"
frameworks = ["soc2", "iso27001"]
sdk_version_min = "1.1.0"
heartbeat_interval = "2m"

[[schedules]]
type = "cron"
expression = "*/15 * * * *"
priority = "high"

[deployment]
version = "1.1.0"
environment = "staging"
`

func newTestFleet(t *testing.T) *fleet.Fleet {
	t.Helper()
	cfg, err := config.Parse([]byte(defaultConfig(":memory:")))
	require.NoError(t, err)

	f, err := fleet.NewWithStore(cfg, store.NewMockStore(),
		testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Shutdown(context.Background()) })
	return f
}

func TestDefaultConfigParses(t *testing.T) {
	cfg, err := config.Parse([]byte(defaultConfig("/var/lib/probe-fleet/fleet.db")))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/probe-fleet/fleet.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Minute, cfg.Probes.HeartbeatInterval)
	assert.True(t, cfg.Dispatch.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "conf", "config.yaml")
	dbPath := filepath.Join(dir, "data", "fleet.db")

	require.NoError(t, runInit([]string{"--config", cfgPath, "--db", dbPath}))

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), dbPath)
	assert.DirExists(t, filepath.Dir(dbPath))

	err = runInit([]string{"--config", cfgPath, "--db", dbPath})
	assert.ErrorContains(t, err, "already exists")

	assert.NoError(t, runInit([]string{"--config", cfgPath, "--db", dbPath, "--force"}))
}

func TestRunAdmin_RegisterDeployAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newTestFleet(t)

	path := filepath.Join(t.TempDir(), "probe.toml")
	require.NoError(t, os.WriteFile(path, []byte(probeManifest), 0644))

	require.NoError(t, runAdmin(ctx, f, "register", []string{path, "--actor", "alice"}))

	res, err := f.ListProbes(ctx, registry.ListQuery{})
	require.NoError(t, err)
	require.Len(t, res.Probes, 1)
	probe := res.Probes[0]
	assert.Equal(t, "alice", probe.Metadata["registeredBy"])

	deps, err := f.ListDeployments(ctx, probe.ID, 0)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, store.DeploymentPending, deps[0].Status)

	require.NoError(t, runAdmin(ctx, f, "transition", []string{deps[0].ID, "in_progress"}))
	require.NoError(t, runAdmin(ctx, f, "transition", []string{deps[0].ID, "completed", "--summary", "done"}))

	got, err := f.ListDeployments(ctx, probe.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, store.DeploymentCompleted, got[0].Status)
	assert.Equal(t, "done", got[0].Summary)

	require.NoError(t, runAdmin(ctx, f, "activate", []string{probe.Slug}))
	require.NoError(t, runAdmin(ctx, f, "deploy", []string{probe.Slug, "--version", "1.2.0", "--env", "prod", "--canary", "10", "--rollout"}))
	require.NoError(t, runAdmin(ctx, f, "heartbeat", []string{probe.Slug, "--status", "degraded", "--latency", "120"}))

	summary, err := f.ProbeHealth(ctx, probe.ID)
	require.NoError(t, err)
	assert.Equal(t, "degraded", string(summary.Status))

	require.NoError(t, runAdmin(ctx, f, "schedule", []string{probe.Slug, "--type", "adhoc"}))
	require.NoError(t, runAdmin(ctx, f, "run", []string{probe.Slug, "--trigger", "manual"}))
	require.NoError(t, runAdmin(ctx, f, "probes", []string{"--status", "active"}))
	require.NoError(t, runAdmin(ctx, f, "config", []string{probe.Slug, "--env", "prod"}))
	assert.ErrorIs(t, runAdmin(ctx, f, "credential", []string{probe.Slug}), fault.ErrValidation)
	require.NoError(t, runAdmin(ctx, f, "deprecate", []string{probe.Slug}))
}

func TestRunAdmin_Errors(t *testing.T) {
	ctx := context.Background()
	f := newTestFleet(t)

	err := runAdmin(ctx, f, "transition", []string{"missing-id"})
	assert.EqualError(t, err, "missing status")

	err = runAdmin(ctx, f, "activate", []string{"nope"})
	assert.ErrorIs(t, err, fault.ErrNotFound)

	err = runAdmin(ctx, f, "register", nil)
	assert.EqualError(t, err, "missing manifest path")

	err = runAdmin(ctx, f, "bogus", nil)
	assert.Error(t, err)
}

func TestRunWindow(t *testing.T) {
	assert.NoError(t, runWindow([]string{"--type", "cron", "--expr", "0 * * * *"}))
	assert.Error(t, runWindow([]string{"--type"}))
}
