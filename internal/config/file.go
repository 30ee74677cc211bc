// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with pointer fields so that absent keys can be
// distinguished from zero values during the merge.
type fileConfig struct {
	ListenAddr         *string        `yaml:"listen_addr"`
	LogLevel           *string        `yaml:"log_level"`
	RedisAddr          *string        `yaml:"redis_addr"`
	RedisPassword      *string        `yaml:"redis_password"`
	RedisDB            *int           `yaml:"redis_db"`
	DBPath             *string        `yaml:"db_path"`
	StateTTL           *time.Duration `yaml:"state_ttl"`
	GraceTTL           *time.Duration `yaml:"grace_ttl"`
	QueueTTL           *time.Duration `yaml:"queue_ttl"`
	SnapshotQueueDepth *int           `yaml:"snapshot_queue_depth"`
	APIRateLimit       *int           `yaml:"api_rate_limit"`
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

func mergeFile(cfg Config, fc fileConfig) Config {
	if fc.ListenAddr != nil {
		cfg.ListenAddr = *fc.ListenAddr
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.RedisAddr != nil {
		cfg.RedisAddr = *fc.RedisAddr
	}
	if fc.RedisPassword != nil {
		cfg.RedisPassword = *fc.RedisPassword
	}
	if fc.RedisDB != nil {
		cfg.RedisDB = *fc.RedisDB
	}
	if fc.DBPath != nil {
		cfg.DBPath = *fc.DBPath
	}
	if fc.StateTTL != nil {
		cfg.StateTTL = *fc.StateTTL
	}
	if fc.GraceTTL != nil {
		cfg.GraceTTL = *fc.GraceTTL
	}
	if fc.QueueTTL != nil {
		cfg.QueueTTL = *fc.QueueTTL
	}
	if fc.SnapshotQueueDepth != nil {
		cfg.SnapshotQueueDepth = *fc.SnapshotQueueDepth
	}
	if fc.APIRateLimit != nil {
		cfg.APIRateLimit = *fc.APIRateLimit
	}
	return cfg
}
