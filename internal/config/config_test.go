package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATACORE_ROLE", "ship")
	t.Setenv("DATACORE_DATABASE_DSN", "datacore.db")
	t.Setenv("DATACORE_CLUSTER_ID", "fleet-7")
	t.Setenv("DATACORE_CLUSTER_SECRET", "test-secret")
	t.Setenv("DATACORE_FLEET_HUB_URL", "http://hub.example:8080")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, 256, cfg.MaxSyncBatch)
	assert.Equal(t, 15*time.Second, cfg.SyncInterval)
	assert.Equal(t, 10*time.Second, cfg.SyncTimeout)
	assert.Equal(t, 8, cfg.QueryTopKDefault)
	assert.True(t, cfg.MergeWorkerEnabled)
	assert.False(t, cfg.Plugin.Enabled)
}

func TestLoad_SyncTimeoutFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATACORE_SYNC_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.SyncTimeout)
}

func TestLoad_CoreIDDerivedFromDeployment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATACORE_SHIP_DEPLOYMENT_ID", "ship-42")

	cfg1, err := Load()
	require.NoError(t, err)
	cfg2, err := Load()
	require.NoError(t, err)

	// Переразвертывание того же корабля сохраняет идентичность
	assert.Equal(t, cfg1.CoreID, cfg2.CoreID)
	assert.NotEmpty(t, cfg1.CoreID)

	t.Setenv("DATACORE_SHIP_DEPLOYMENT_ID", "ship-43")
	cfg3, err := Load()
	require.NoError(t, err)
	assert.NotEqual(t, cfg1.CoreID, cfg3.CoreID)
}

func TestLoad_ExplicitCoreIDWins(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATACORE_CORE_ID", "core-explicit")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "core-explicit", cfg.CoreID)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
role: ship
database_dsn: from-file.db
cluster_id: fleet-file
cluster_secret: file-secret
fleet_hub_url: http://file.example:8080
listen_addr: ":9090"
max_sync_batch: 64
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("DATACORE_CONFIG", path)
	t.Setenv("DATACORE_DATABASE_DSN", "from-env.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.DatabaseDSN)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 64, cfg.MaxSyncBatch)
	assert.Equal(t, "fleet-file", cfg.ClusterID)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		unset string
	}{
		{"missing role", nil, "DATACORE_ROLE"},
		{"bad role", map[string]string{"DATACORE_ROLE": "admiral"}, ""},
		{"missing dsn", nil, "DATACORE_DATABASE_DSN"},
		{"missing cluster id", nil, "DATACORE_CLUSTER_ID"},
		{"missing secret", nil, "DATACORE_CLUSTER_SECRET"},
		{"ship without hub", nil, "DATACORE_FLEET_HUB_URL"},
		{"zero batch", map[string]string{"DATACORE_MAX_SYNC_BATCH": "0"}, ""},
		{"plugin enabled without base url", map[string]string{"DATACORE_PLUGIN_ENABLED": "true"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.unset != "" {
				t.Setenv(tt.unset, "")
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_FleetDoesNotNeedHub(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATACORE_ROLE", "fleet")
	t.Setenv("DATACORE_FLEET_HUB_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fleet", cfg.Role)
}

func TestLoad_BadEnvValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATACORE_MAX_SYNC_BATCH", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_PluginConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATACORE_PLUGIN_ENABLED", "true")
	t.Setenv("DATACORE_PLUGIN_BASE_URL", "http://edgequake.example")
	t.Setenv("DATACORE_PLUGIN_API_KEY", "eq-key")
	t.Setenv("DATACORE_PLUGIN_TENANT_ID", "tenant-1")
	t.Setenv("DATACORE_PLUGIN_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Plugin.Enabled)
	assert.Equal(t, "http://edgequake.example", cfg.Plugin.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Plugin.Timeout)
	assert.Equal(t, 10, cfg.Plugin.MaxRetries)
}
