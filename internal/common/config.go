// Package common provides shared utilities for Monque: configuration
// loading and the logging shim.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for a Monque scheduler instance. Field
// defaults mirror spec §6's option table.
type Config struct {
	Mongo     MongoConfig     `toml:"mongo"`
	Logging   LoggingConfig   `toml:"logging"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// MongoConfig holds connection details for the backing MongoDB deployment.
type MongoConfig struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `toml:"level"`
	FilePath string `toml:"file_path"`
}

// SchedulerConfig holds the scheduler's operational tuning knobs, per
// spec §6's configuration table.
type SchedulerConfig struct {
	CollectionName      string        `toml:"collection_name"`
	PollInterval        time.Duration `toml:"poll_interval"`
	MaxRetries          int           `toml:"max_retries"`
	BaseRetryInterval   time.Duration `toml:"base_retry_interval"`
	MaxBackoffDelay     time.Duration `toml:"max_backoff_delay"` // zero means uncapped
	ShutdownTimeout     time.Duration `toml:"shutdown_timeout"`
	DefaultConcurrency  int           `toml:"default_concurrency"`
	LockTimeout         time.Duration `toml:"lock_timeout"`
	HeartbeatInterval   time.Duration `toml:"heartbeat_interval"`
	RecoverStaleJobs    bool          `toml:"recover_stale_jobs"`
	SchedulerInstanceID string        `toml:"scheduler_instance_id"` // empty means process-generated
}

// NewDefaultConfig returns a Config populated with spec §6's defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Mongo: MongoConfig{
			URI:        "mongodb://127.0.0.1:27017",
			Database:   "monque",
			Collection: "monque_jobs",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Scheduler: SchedulerConfig{
			CollectionName:     "monque_jobs",
			PollInterval:       1000 * time.Millisecond,
			MaxRetries:         10,
			BaseRetryInterval:  1000 * time.Millisecond,
			ShutdownTimeout:    30 * time.Second,
			DefaultConcurrency: 5,
			LockTimeout:        1_800_000 * time.Millisecond,
			HeartbeatInterval:  30 * time.Second,
			RecoverStaleJobs:   true,
		},
	}
}

// LoadConfig loads configuration from files (later files override earlier
// ones) and applies environment variable overrides. Missing files are
// skipped, not an error.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.Scheduler.CollectionName == "" {
		config.Scheduler.CollectionName = config.Mongo.Collection
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("MONQUE_MONGO_URI"); v != "" {
		config.Mongo.URI = v
	}
	if v := os.Getenv("MONQUE_MONGO_DATABASE"); v != "" {
		config.Mongo.Database = v
	}
	if v := os.Getenv("MONQUE_MONGO_COLLECTION"); v != "" {
		config.Mongo.Collection = v
		config.Scheduler.CollectionName = v
	}
	if v := os.Getenv("MONQUE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("MONQUE_INSTANCE_ID"); v != "" {
		config.Scheduler.SchedulerInstanceID = v
	}
	if v := os.Getenv("MONQUE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Scheduler.PollInterval = d
		}
	}
	if v := os.Getenv("MONQUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scheduler.MaxRetries = n
		}
	}
	if v := os.Getenv("MONQUE_RECOVER_STALE_JOBS"); v != "" {
		config.Scheduler.RecoverStaleJobs = strings.EqualFold(v, "true") || v == "1"
	}
}
