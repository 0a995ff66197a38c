// Copyright (c) 2026 CivicLearn Inc. All Rights Reserved.
// This is licensed software from CivicLearn Inc, for limitations
// and restrictions contact your company contract manager.

//go:build integration
// +build integration

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/civiclearn/sessioncore/pkg/backend"
	"github.com/civiclearn/sessioncore/pkg/common"
	"github.com/civiclearn/sessioncore/pkg/kvstore"
	"github.com/civiclearn/sessioncore/pkg/queue"
	"github.com/civiclearn/sessioncore/pkg/recovery"
	"github.com/civiclearn/sessioncore/pkg/session"
	"github.com/civiclearn/sessioncore/pkg/snapshot"
	"github.com/civiclearn/sessioncore/pkg/syncer"
)

// This is a manual integration test for the offline session flow.
// Run this with: go run -tags integration test_redis_integration.go
// Requires: Redis running on localhost:6379

func main() {
	logrus.SetLevel(logrus.DebugLevel)
	logrus.Infof("Starting Redis integration test...")

	ctx := context.Background()

	client, err := backend.InitRedisClient(ctx, backend.RedisConfig{
		Host: common.GetEnv("REDIS_HOST", "localhost"),
		Port: common.GetEnv("REDIS_PORT", "6379"),
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer client.Close()

	vault := backend.NewRedisVault(client, backend.RedisVaultConfig{})
	analytics := backend.NewRedisAnalytics(client)
	local := kvstore.NewMemoryStore()
	snaps := snapshot.NewStore(local, 0)

	q, err := queue.Open(local, 0)
	if err != nil {
		logrus.Fatalf("Failed to open queue: %v", err)
	}

	sender := syncer.NewSender(vault, analytics)
	engine := syncer.New(q, sender.SendFunc(), syncer.Config{Interval: time.Hour})
	sessions := session.NewManager(session.Deps{
		Vault:     vault,
		Analytics: analytics,
		Snapshots: snaps,
		Sync:      engine,
	}, session.Config{})
	defer sessions.Close()

	faults := recovery.NewManager(snaps, q, nil)
	faults.SetWorkSource(sessions)

	testUserID := fmt.Sprintf("test-user-%d", time.Now().Unix())
	logrus.Infof("Testing with user ID: %s", testUserID)

	// Test 1: Start a session
	logrus.Infof("\n=== Test 1: Start a session ===")
	sess, err := sessions.Start(ctx, session.StartInput{
		UserID:      testUserID,
		GameID:      "water-safety",
		TenantID:    "tenant-integration",
		DeviceClass: session.DeviceDesktop,
	})
	if err != nil {
		logrus.Fatalf("Start failed: %v", err)
	}
	if _, err := vault.Select(ctx, sess.SessionID); err != nil {
		logrus.Fatalf("❌ Session not in vault after start: %v", err)
	}
	logrus.Infof("✓ Started session %s", sess.SessionID)

	// Test 2: Apply progress while online
	logrus.Infof("\n=== Test 2: Apply progress while online ===")
	if _, err := sessions.Update(ctx, sess.SessionID, session.Delta{
		CurrentSceneID: "s2",
		SceneIndex:     1,
		Result:         &session.SceneResult{SceneID: "s1", Score: 80, MaxScore: 100},
	}); err != nil {
		logrus.Fatalf("Update failed: %v", err)
	}
	record, err := vault.Select(ctx, sess.SessionID)
	if err != nil {
		logrus.Fatalf("Select failed: %v", err)
	}
	stored, err := session.FromRecord(*record)
	if err != nil {
		logrus.Fatalf("FromRecord failed: %v", err)
	}
	if stored.SceneResults["s1"].Score != 80 {
		logrus.Fatalf("❌ Expected persisted score 80, got %+v", stored.SceneResults)
	}
	logrus.Infof("✓ Progress persisted synchronously")

	// Test 3: Queue progress while offline
	logrus.Infof("\n=== Test 3: Queue progress while offline ===")
	engine.HandleConnectivityChange(false)
	if _, err := sessions.Update(ctx, sess.SessionID, session.Delta{
		CurrentSceneID: "s3",
		SceneIndex:     2,
		Result:         &session.SceneResult{SceneID: "s2", Score: 100, MaxScore: 100},
	}); err != nil {
		logrus.Fatalf("Offline update failed: %v", err)
	}
	if q.Len() == 0 {
		logrus.Fatalf("❌ Expected the offline update to be queued")
	}
	logrus.Infof("✓ Offline update queued (%d pending)", q.Len())

	// Test 4: Reconnect and drain
	logrus.Infof("\n=== Test 4: Reconnect and drain ===")
	engine.HandleConnectivityChange(true)
	res := engine.ForceSync(ctx)
	if !res.Success {
		logrus.Fatalf("❌ Drain failed: %+v", res.Errors)
	}
	record, err = vault.Select(ctx, sess.SessionID)
	if err != nil {
		logrus.Fatalf("Select failed: %v", err)
	}
	stored, err = session.FromRecord(*record)
	if err != nil {
		logrus.Fatalf("FromRecord failed: %v", err)
	}
	if stored.SceneResults["s2"].Score != 100 {
		logrus.Fatalf("❌ Queued progress did not reach the vault: %+v", stored.SceneResults)
	}
	logrus.Infof("✓ Queued progress flushed to the vault")

	// Test 5: Recover from a state corruption fault
	logrus.Infof("\n=== Test 5: Recover from a state corruption fault ===")
	result := faults.HandleFault(ctx, recovery.Fault{
		Component: "scene-renderer",
		Message:   "undefined state in scene renderer",
	}, recovery.UserContext{UserID: testUserID, SessionID: sess.SessionID})
	if result.Strategy != recovery.StrategyStateRollback || !result.Success {
		logrus.Fatalf("❌ Expected successful rollback, got %+v", result)
	}
	if result.Restored == nil || result.Restored.WorldIndex != 2 {
		logrus.Fatalf("❌ Expected restored snapshot of world 2, got %+v", result.Restored)
	}
	logrus.Infof("✓ Fault recovered by rollback to world %d", result.Restored.WorldIndex)

	// Test 6: Complete the session
	logrus.Infof("\n=== Test 6: Complete the session ===")
	results, err := sessions.Complete(ctx, sess.SessionID)
	if err != nil {
		logrus.Fatalf("Complete failed: %v", err)
	}
	if results.Score != 90 {
		logrus.Fatalf("❌ Expected score 90, got %v", results.Score)
	}
	logrus.Infof("✓ Session completed: score=%.1f achievements=%v", results.Score, results.Achievements)

	// Test 7: Completed sessions are not resumable
	logrus.Infof("\n=== Test 7: Completed sessions are not resumable ===")
	if _, err := sessions.Resume(ctx, sess.SessionID); !errors.Is(err, session.ErrNotFound) {
		logrus.Fatalf("❌ Expected ErrNotFound resuming a completed session, got %v", err)
	}
	logrus.Infof("✓ Completed session correctly rejected for resume")

	// Test 8: Clean up
	logrus.Infof("\n=== Test 8: Clean up ===")
	if err := vault.Delete(ctx, sess.SessionID); err != nil {
		logrus.Fatalf("Delete failed: %v", err)
	}
	if _, err := vault.Select(ctx, sess.SessionID); !errors.Is(err, backend.ErrNotFound) {
		logrus.Fatalf("❌ Session record should be gone, got %v", err)
	}
	logrus.Infof("✓ Deleted test session record")

	logrus.Infof("\n==================================================")
	logrus.Infof("✅ All Redis integration tests passed!")
	logrus.Infof("==================================================")
}
