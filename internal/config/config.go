// Copyright (c) 2026 CivicLearn Inc. All Rights Reserved.
// This is licensed software from CivicLearn Inc, for limitations
// and restrictions contact your company contract manager.

package config

// Config holds all application configuration loaded from environment
// variables via github.com/caarlos0/env struct tags.
type Config struct {
	// Server configuration
	MetricsPort int    `env:"METRICS_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"sessioncore"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration (session vault and analytics stream)
	RedisHost       string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort       string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisMaxRetries int    `env:"REDIS_MAX_RETRIES" envDefault:"5"`

	// Local durable storage (offline queue and work snapshots)
	DataPath string `env:"DATA_PATH" envDefault:"data/sessioncore.db"`

	// Offline queue and sync engine
	SyncIntervalSeconds  int `env:"SYNC_INTERVAL_SECONDS" envDefault:"30"`
	QueueMaxRetries      int `env:"QUEUE_MAX_RETRIES" envDefault:"5"`
	ProbeIntervalSeconds int `env:"PROBE_INTERVAL_SECONDS" envDefault:"10"`

	// Work snapshots
	SnapshotValidityHours int `env:"SNAPSHOT_VALIDITY_HOURS" envDefault:"24"`
	SnapshotEvictMinutes  int `env:"SNAPSHOT_EVICT_MINUTES" envDefault:"60"`

	// Session lifecycle
	AutosaveIntervalSeconds int `env:"AUTOSAVE_INTERVAL_SECONDS" envDefault:"30"`
	ResumeWindowHours       int `env:"RESUME_WINDOW_HOURS" envDefault:"24"`
	CleanupAfterDays        int `env:"CLEANUP_AFTER_DAYS" envDefault:"7"`
	CleanupIntervalMinutes  int `env:"CLEANUP_INTERVAL_MINUTES" envDefault:"60"`

	// Fault recovery
	RecoveryConfigPath string `env:"RECOVERY_CONFIG_PATH" envDefault:"config/recovery.yaml"`

	// Telemetry
	OtelEnabled bool `env:"OTEL_ENABLED" envDefault:"true"`
}
