// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema creation, persistence across reopen, and JSON/time column round trips

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	// Verify the database file was created
	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fleet.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	probe := testProbe("probe-1", "uptime-check-a1b2c3")
	probe.EnvironmentOverlays = map[string]any{"prod": map[string]any{"region": "us-east-1"}}
	probe.Metadata = map[string]any{"heartbeatIntervalSeconds": float64(300)}
	require.NoError(t, store.CreateProbe(ctx, probe))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetProbe(ctx, "probe-1")
	require.NoError(t, err)
	assert.Equal(t, probe.Slug, got.Slug)
	assert.Equal(t, []string{"soc2"}, got.FrameworkBindings)
	assert.Equal(t, map[string]any{"region": "us-east-1"}, got.EnvironmentOverlays["prod"])
	assert.Equal(t, float64(300), got.Metadata["heartbeatIntervalSeconds"])
	assert.Equal(t, 5*time.Minute, got.HeartbeatInterval)
	assert.True(t, probe.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLiteStore_DeploymentSelfTestRoundTrip(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.CreateProbe(ctx, testProbe("probe-1", "p-1")))

	canary := 25
	d := testDeployment("dep-1", "probe-1", baseTime)
	d.CanaryPercent = &canary
	d.SelfTest = []byte(`{"passed":true}`)
	require.NoError(t, store.CreateDeployment(ctx, d))

	got, err := store.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	require.NotNil(t, got.CanaryPercent)
	assert.Equal(t, 25, *got.CanaryPercent)
	assert.JSONEq(t, `{"passed":true}`, string(got.SelfTest))
	assert.Nil(t, got.StartedAt)
}

func TestSQLiteStore_CompletedRequiresTimestamp(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.CreateProbe(ctx, testProbe("probe-1", "p-1")))
	d := testDeployment("dep-1", "probe-1", baseTime)
	d.Status = DeploymentCompleted
	err := store.CreateDeployment(ctx, d)
	assert.Error(t, err, "a completed deployment without completed_at must be rejected")
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	return store
}
