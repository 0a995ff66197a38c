// Copyright (c) 2026 CivicLearn Inc. All Rights Reserved.
// This is licensed software from CivicLearn Inc, for limitations
// and restrictions contact your company contract manager.

package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Load reads configuration from environment variables.
// It attempts to load from .env file first (for local development),
// then parses environment variables into the Config struct.
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	// In production (Docker/K8s), environment variables are injected directly
	if err := godotenv.Load(); err != nil {
		logrus.Warnf("no .env file found or error loading it: %v (this is normal in production)", err)
	} else {
		logrus.Infof("loaded environment variables from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}

	return cfg, nil
}

// Validate performs custom validation on the configuration.
func (c *Config) Validate() error {
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d (must be 1-65535)", c.MetricsPort)
	}

	if c.DataPath == "" {
		return fmt.Errorf("DATA_PATH must not be empty")
	}

	intervals := map[string]int{
		"SYNC_INTERVAL_SECONDS":     c.SyncIntervalSeconds,
		"PROBE_INTERVAL_SECONDS":    c.ProbeIntervalSeconds,
		"SNAPSHOT_VALIDITY_HOURS":   c.SnapshotValidityHours,
		"SNAPSHOT_EVICT_MINUTES":    c.SnapshotEvictMinutes,
		"AUTOSAVE_INTERVAL_SECONDS": c.AutosaveIntervalSeconds,
		"RESUME_WINDOW_HOURS":       c.ResumeWindowHours,
		"CLEANUP_AFTER_DAYS":        c.CleanupAfterDays,
		"CLEANUP_INTERVAL_MINUTES":  c.CleanupIntervalMinutes,
	}
	for name, value := range intervals {
		if value < 1 {
			return fmt.Errorf("invalid %s: %d (must be positive)", name, value)
		}
	}

	if c.QueueMaxRetries < 1 {
		return fmt.Errorf("invalid QUEUE_MAX_RETRIES: %d (must be positive)", c.QueueMaxRetries)
	}

	return nil
}
