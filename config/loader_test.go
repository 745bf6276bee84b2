package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, 3, cfg.Scheduler.DefaultLifeCycle)
	assert.Equal(t, 8, cfg.Bus.AsyncLimit)
	assert.Equal(t, 2, cfg.Review.Workers)
	assert.False(t, cfg.Ledger.Persistent)
	assert.Equal(t, "jobflow.db", cfg.Ledger.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  max_workers: 4
  default_life_cycle: 5
ledger:
  persistent: true
  dsn: /tmp/test-ledger.db
log:
  level: debug
  development: true
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, 5, cfg.Scheduler.DefaultLifeCycle)
	assert.True(t, cfg.Ledger.Persistent)
	assert.Equal(t, "/tmp/test-ledger.db", cfg.Ledger.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, 256, cfg.Scheduler.QueueSize)
	assert.Equal(t, 2, cfg.Review.Workers)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Scheduler.MaxWorkers)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_workers: 4\n"), 0o644))

	t.Setenv("JOBFLOW_SCHEDULER_MAX_WORKERS", "16")
	t.Setenv("JOBFLOW_LOG_LEVEL", "warn")
	t.Setenv("JOBFLOW_LEDGER_PERSISTENT", "true")
	t.Setenv("JOBFLOW_REDIS_DIAL_TIMEOUT", "250ms")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Ledger.Persistent)
	assert.Equal(t, 250*time.Millisecond, cfg.Redis.DialTimeout)
}

func TestLoad_CustomEnvPrefix(t *testing.T) {
	t.Setenv("CUSTOM_SCHEDULER_MAX_WORKERS", "7")
	cfg, err := NewLoader().WithEnvPrefix("CUSTOM").Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Scheduler.MaxWorkers)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("JOBFLOW_SCHEDULER_MAX_WORKERS", "0")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers")
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("JOBFLOW_LOG_LEVEL", "verbose")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoad_RejectsUnparsableEnvValue(t *testing.T) {
	t.Setenv("JOBFLOW_SCHEDULER_MAX_WORKERS", "many")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOBFLOW_SCHEDULER_MAX_WORKERS")
}

func TestLoad_ExtraValidatorRuns(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Bus.AsyncLimit < 100 {
				return fmt.Errorf("async limit too small for this deployment")
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "async limit too small")
}

func TestValidate_PersistentLedgerNeedsDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.Persistent = true
	cfg.Ledger.DSN = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.dsn")
}
