// SPDX-License-Identifier: MIT

// Package config loads service configuration with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config holds all runtime configuration for the sync service.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	// Fast cache (Redis). An empty Addr selects the in-memory cache,
	// intended for tests and local single-process runs only.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Durable store (SQLite).
	DBPath string `yaml:"db_path"`

	// Session TTL windows.
	StateTTL time.Duration `yaml:"state_ttl"` // active session cache entry
	GraceTTL time.Duration `yaml:"grace_ttl"` // cache entry after end, for reconnects
	QueueTTL time.Duration `yaml:"queue_ttl"` // offline action queue, independent of session

	// Async snapshot worker.
	SnapshotQueueDepth int `yaml:"snapshot_queue_depth"`

	// API rate limiting (requests per minute per client IP; 0 disables).
	APIRateLimit int `yaml:"api_rate_limit"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		ListenAddr:         ":8080",
		LogLevel:           "info",
		RedisAddr:          "",
		RedisDB:            0,
		DBPath:             "voicesync.db",
		StateTTL:           time.Hour,
		GraceTTL:           5 * time.Minute,
		QueueTTL:           24 * time.Hour,
		SnapshotQueueDepth: 256,
		APIRateLimit:       600,
	}
}

// Load builds the effective configuration: defaults, overlaid by the optional
// YAML file at path (empty path skips the file), overlaid by environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
		cfg = mergeFile(cfg, fileCfg)
	}

	cfg = mergeEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeEnv overlays environment variables onto cfg.
func mergeEnv(cfg Config) Config {
	cfg.ListenAddr = ParseString("VOICESYNC_LISTEN", cfg.ListenAddr)
	cfg.LogLevel = ParseString("VOICESYNC_LOG_LEVEL", cfg.LogLevel)
	cfg.RedisAddr = ParseString("VOICESYNC_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("VOICESYNC_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("VOICESYNC_REDIS_DB", cfg.RedisDB)
	cfg.DBPath = ParseString("VOICESYNC_DB_PATH", cfg.DBPath)
	cfg.StateTTL = ParseDuration("VOICESYNC_STATE_TTL", cfg.StateTTL)
	cfg.GraceTTL = ParseDuration("VOICESYNC_GRACE_TTL", cfg.GraceTTL)
	cfg.QueueTTL = ParseDuration("VOICESYNC_QUEUE_TTL", cfg.QueueTTL)
	cfg.SnapshotQueueDepth = ParseInt("VOICESYNC_SNAPSHOT_QUEUE_DEPTH", cfg.SnapshotQueueDepth)
	cfg.APIRateLimit = ParseInt("VOICESYNC_API_RATE_LIMIT", cfg.APIRateLimit)
	return cfg
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path must not be empty")
	}
	if c.StateTTL <= 0 {
		return fmt.Errorf("config: state_ttl must be positive, got %s", c.StateTTL)
	}
	if c.GraceTTL <= 0 {
		return fmt.Errorf("config: grace_ttl must be positive, got %s", c.GraceTTL)
	}
	if c.QueueTTL <= 0 {
		return fmt.Errorf("config: queue_ttl must be positive, got %s", c.QueueTTL)
	}
	if c.SnapshotQueueDepth <= 0 {
		return fmt.Errorf("config: snapshot_queue_depth must be positive, got %d", c.SnapshotQueueDepth)
	}
	return nil
}
