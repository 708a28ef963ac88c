package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults when nothing is configured", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.json"))
		t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
		t.Setenv("DATABASE_URL", "")
		t.Setenv("SERVER_ADDRESS", "")
		t.Setenv("PARTITION_IDLE_TTL", "")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":5000", cfg.ServerAddress)
		assert.False(t, cfg.UsePostgres())
		assert.Equal(t, "X-Device-Token", cfg.Security.DeviceTokenHeader)
		assert.Equal(t, 30*time.Minute, cfg.Partitions.IdleTTL())
	})

	t.Run("environment overrides file and dotenv", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"serverAddress":":7000","ingest":{"maxBatchItems":10}}`), 0o600))
		envPath := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(envPath, []byte("DEVICEVAULT_TEST_FROM_DOTENV=yes\n"), 0o600))

		t.Setenv("CONFIG_PATH", configPath)
		t.Setenv("ENV_FILE", envPath)
		t.Setenv("SERVER_ADDRESS", "")
		t.Setenv("DATABASE_URL", "postgres://localhost/devicevault")
		t.Setenv("REQUIRE_REGISTERED_DEVICE", "true")
		t.Setenv("PARTITION_IDLE_TTL", "2h")
		t.Setenv("AUDIT_INTERVAL_HOURS", "6")
		t.Cleanup(func() { os.Unsetenv("DEVICEVAULT_TEST_FROM_DOTENV") })

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.ServerAddress)
		assert.Equal(t, 10, cfg.Ingest.MaxBatchItems)
		assert.True(t, cfg.UsePostgres())
		assert.True(t, cfg.Security.RequireRegisteredDevice)
		assert.Equal(t, 2*time.Hour, cfg.Partitions.IdleTTL())
		assert.Equal(t, 6, cfg.Auditor.IntervalHours)
		assert.Equal(t, "yes", os.Getenv("DEVICEVAULT_TEST_FROM_DOTENV"))
	})

	t.Run("malformed config file is an error", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{not json`), 0o600))
		t.Setenv("CONFIG_PATH", configPath)
		t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))

		_, err := Load()
		assert.Error(t, err)
	})
}
