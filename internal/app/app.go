// Copyright (c) 2026 CivicLearn Inc. All Rights Reserved.
// This is licensed software from CivicLearn Inc, for limitations
// and restrictions contact your company contract manager.

package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/civiclearn/sessioncore/internal/config"
	"github.com/civiclearn/sessioncore/internal/server"
	"github.com/civiclearn/sessioncore/pkg/backend"
	"github.com/civiclearn/sessioncore/pkg/common"
	"github.com/civiclearn/sessioncore/pkg/kvstore"
	"github.com/civiclearn/sessioncore/pkg/queue"
	"github.com/civiclearn/sessioncore/pkg/recovery"
	"github.com/civiclearn/sessioncore/pkg/session"
	"github.com/civiclearn/sessioncore/pkg/snapshot"
	"github.com/civiclearn/sessioncore/pkg/syncer"
)

// App holds all application dependencies and manages the application
// lifecycle. The three public surfaces (sessions, sync, recovery) are
// exposed through accessors for the embedding shell.
type App struct {
	cfg *config.Config

	metricsServer *server.MetricsServer
	redisClient   *redis.Client
	local         *kvstore.BoltStore
	snapshots     *snapshot.Store
	queue         *queue.Queue
	engine        *syncer.Engine
	monitor       *syncer.Monitor
	recovery      *recovery.Manager
	sessions      *session.Manager

	shutdownTelemetry func(context.Context) error
}

// New creates and initializes a new application instance.
//
// Components are initialized in dependency order: Redis, the local bbolt
// store, snapshots and the offline queue over it, the sync engine that
// drains the queue into Redis, the recovery manager, and the session
// manager on top of all of them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logrus.Info("initializing application...")

	app := &App{cfg: cfg}

	redisClient, err := backend.InitRedisClient(ctx, backend.RedisConfig{
		Host:       cfg.RedisHost,
		Port:       cfg.RedisPort,
		Password:   cfg.RedisPassword,
		MaxRetries: cfg.RedisMaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	app.redisClient = redisClient

	if err := app.initLocalStore(); err != nil {
		return nil, err
	}

	app.snapshots = snapshot.NewStore(app.local,
		time.Duration(cfg.SnapshotValidityHours)*time.Hour)

	app.queue, err = queue.Open(app.local, cfg.QueueMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline queue: %w", err)
	}

	vault := backend.NewRedisVault(redisClient, backend.RedisVaultConfig{})
	analytics := backend.NewRedisAnalytics(redisClient)

	sender := syncer.NewSender(vault, analytics)
	app.engine = syncer.New(app.queue, sender.SendFunc(), syncer.Config{
		Interval: time.Duration(cfg.SyncIntervalSeconds) * time.Second,
	})
	app.monitor = syncer.NewMonitor(app.engine,
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		time.Duration(cfg.ProbeIntervalSeconds)*time.Second)

	table, err := recovery.LoadConfigOrDefault(cfg.RecoveryConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load recovery config from %s: %w", cfg.RecoveryConfigPath, err)
	}
	app.recovery = recovery.NewManager(app.snapshots, app.queue, table)

	app.sessions = session.NewManager(session.Deps{
		Vault:     vault,
		Analytics: analytics,
		Snapshots: app.snapshots,
		Sync:      app.engine,
	}, session.Config{
		AutosaveInterval: time.Duration(cfg.AutosaveIntervalSeconds) * time.Second,
		ResumeWindow:     time.Duration(cfg.ResumeWindowHours) * time.Hour,
		CleanupAfter:     time.Duration(cfg.CleanupAfterDays) * 24 * time.Hour,
		CleanupInterval:  time.Duration(cfg.CleanupIntervalMinutes) * time.Minute,
	})
	app.recovery.SetWorkSource(app.sessions)

	app.metricsServer = server.NewMetricsServer(cfg.MetricsPort, "/metrics")
	if err := app.metricsServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup metrics server: %w", err)
	}

	if cfg.OtelEnabled {
		shutdownTelemetry, err := server.SetupTelemetry(ctx, cfg.ServiceName, cfg.Environment,
			common.GenerateRandomInt())
		if err != nil {
			return nil, fmt.Errorf("failed to setup telemetry: %w", err)
		}
		app.shutdownTelemetry = shutdownTelemetry
	}

	logrus.Info("application initialized successfully")

	return app, nil
}

// initLocalStore opens the bbolt database, creating its directory first.
func (a *App) initLocalStore() error {
	dir := filepath.Dir(a.cfg.DataPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	local, err := kvstore.OpenBolt(a.cfg.DataPath)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	a.local = local
	return nil
}

// Sessions exposes the session lifecycle manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Sync exposes the sync engine for force-sync and connectivity signals.
func (a *App) Sync() *syncer.Engine {
	return a.engine
}

// Recovery exposes the fault recovery manager.
func (a *App) Recovery() *recovery.Manager {
	return a.recovery
}
