// Copyright (c) 2026 CivicLearn Inc. All Rights Reserved.
// This is licensed software from CivicLearn Inc, for limitations
// and restrictions contact your company contract manager.

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Run starts the metrics server and the owned schedules (sync drains,
// connectivity probes, snapshot evictions, session cleanup) and blocks
// until a shutdown signal is received or ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.metricsServer.Start(ctx); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedCtx, cancelSchedules := context.WithCancel(ctx)
	defer cancelSchedules()

	go a.engine.Run(schedCtx)
	go a.monitor.Run(schedCtx)
	go a.snapshots.RunEvictions(schedCtx,
		time.Duration(a.cfg.SnapshotEvictMinutes)*time.Minute)
	go a.sessions.RunCleanup(schedCtx)

	logrus.Info("application started successfully")

	<-ctx.Done()
	logrus.Info("shutdown signal received")

	cancelSchedules()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down all application components in reverse
// dependency order. The session manager goes first so its final persist
// still has both stores available. Shutdown errors are logged but don't
// stop the sequence.
func (a *App) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down application...")

	if a.sessions != nil {
		a.sessions.Close()
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			logrus.Errorf("metrics server shutdown error: %v", err)
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logrus.Errorf("Redis close error: %v", err)
		}
	}

	if a.local != nil {
		if err := a.local.Close(); err != nil {
			logrus.Errorf("local store close error: %v", err)
		}
	}

	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			logrus.Errorf("telemetry shutdown error: %v", err)
		}
	}

	logrus.Info("application shutdown complete")
	return nil
}
