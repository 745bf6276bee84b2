// Package config loads the engine configuration from defaults, an
// optional YAML file, and environment variable overrides, in that
// order of precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the full engine configuration.
type Config struct {
	// Scheduler configures the leader and its dispatch pool
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Bus configures the command bus
	Bus BusConfig `yaml:"bus" env:"BUS"`

	// Review configures the reviewer worker pool
	Review ReviewConfig `yaml:"review" env:"REVIEW"`

	// Ledger configures the provenance store
	Ledger LedgerConfig `yaml:"ledger" env:"LEDGER"`

	// Redis configures the redis-backed message store
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Metrics configures the prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Log configures logging
	Log LogConfig `yaml:"log" env:"LOG"`
}

// SchedulerConfig configures the leader.
type SchedulerConfig struct {
	// MaxWorkers bounds concurrent expert executions
	MaxWorkers int `yaml:"max_workers" env:"MAX_WORKERS"`
	// QueueSize bounds the dispatch queue
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// DefaultLifeCycle is the re-decomposition budget per sub-job
	DefaultLifeCycle int `yaml:"default_life_cycle" env:"DEFAULT_LIFE_CYCLE"`
}

// BusConfig configures the command bus.
type BusConfig struct {
	// AsyncLimit bounds concurrent handler executions in DispatchAsync
	AsyncLimit int `yaml:"async_limit" env:"ASYNC_LIMIT"`
}

// ReviewConfig configures the review pool.
type ReviewConfig struct {
	// Workers is the number of concurrent reviewers
	Workers int `yaml:"workers" env:"WORKERS"`
	// QueueSize bounds the pending review queue
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// LedgerConfig configures the provenance ledger.
type LedgerConfig struct {
	// Persistent selects the durable sqlite-backed ledger
	Persistent bool `yaml:"persistent" env:"PERSISTENT"`
	// DSN is the sqlite data source for the persistent ledger
	DSN string `yaml:"dsn" env:"DSN"`
}

// RedisConfig configures the redis message store. An empty Addr selects
// the in-memory message store instead.
type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"ADDR"`
	Password    string        `yaml:"password" env:"PASSWORD"`
	DB          int           `yaml:"db" env:"DB"`
	KeyPrefix   string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize    int           `yaml:"pool_size" env:"POOL_SIZE"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns on the /metrics HTTP listener
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Addr is the listen address for the metrics server
	Addr string `yaml:"addr" env:"ADDR"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Development enables console-friendly output
	Development bool `yaml:"development" env:"DEVELOPMENT"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxWorkers:       32,
			QueueSize:        256,
			DefaultLifeCycle: 3,
		},
		Bus: BusConfig{
			AsyncLimit: 8,
		},
		Review: ReviewConfig{
			Workers:   2,
			QueueSize: 64,
		},
		Ledger: LedgerConfig{
			Persistent: false,
			DSN:        "jobflow.db",
		},
		Redis: RedisConfig{
			KeyPrefix:   "jobflow",
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Log: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.MaxWorkers <= 0 {
		return fmt.Errorf("scheduler.max_workers must be positive, got %d", c.Scheduler.MaxWorkers)
	}
	if c.Scheduler.DefaultLifeCycle <= 0 {
		return fmt.Errorf("scheduler.default_life_cycle must be positive, got %d", c.Scheduler.DefaultLifeCycle)
	}
	if c.Review.Workers <= 0 {
		return fmt.Errorf("review.workers must be positive, got %d", c.Review.Workers)
	}
	if c.Ledger.Persistent && c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn is required when ledger.persistent is set")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level)
	}
	return nil
}
