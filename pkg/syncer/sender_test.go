package syncer

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/civiclearn/sessioncore/pkg/backend"
	"github.com/civiclearn/sessioncore/pkg/queue"
)

func setupTestSender(t *testing.T) (*Sender, *backend.RedisVault, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	vault := backend.NewRedisVault(client, backend.RedisVaultConfig{})
	return NewSender(vault, backend.NewRedisAnalytics(client)), vault, client
}

func TestSend_ProgressUpdateUpsertsRecord(t *testing.T) {
	sender, vault, _ := setupTestSender(t)
	ctx := context.Background()

	record := backend.SessionRecord{
		SessionID:  "sess-100",
		UserID:     "user-7",
		TenantID:   "tenant-espoo",
		Status:     backend.StatusOpen,
		LastActive: time.Now().UTC().Truncate(time.Second),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}

	err = sender.Send(ctx, queue.Action{Type: queue.TypeProgressUpdate, Payload: payload})
	if err != nil {
		t.Fatalf("failed to send action: %v", err)
	}

	stored, err := vault.Select(ctx, "sess-100")
	if err != nil {
		t.Fatalf("failed to select record: %v", err)
	}
	if stored.UserID != "user-7" || stored.Status != backend.StatusOpen {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
}

func TestSend_ScenarioCompletionUpsertsRecord(t *testing.T) {
	sender, vault, _ := setupTestSender(t)
	ctx := context.Background()

	record := backend.SessionRecord{
		SessionID:  "sess-101",
		UserID:     "user-7",
		TenantID:   "tenant-espoo",
		Status:     backend.StatusCompleted,
		LastActive: time.Now().UTC().Truncate(time.Second),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}

	err = sender.Send(ctx, queue.Action{Type: queue.TypeScenarioCompletion, Payload: payload})
	if err != nil {
		t.Fatalf("failed to send action: %v", err)
	}

	stored, err := vault.Select(ctx, "sess-101")
	if err != nil {
		t.Fatalf("failed to select record: %v", err)
	}
	if stored.Status != backend.StatusCompleted {
		t.Fatalf("expected completed record, got %+v", stored)
	}
}

func TestSend_PreferenceChangeSavesDocument(t *testing.T) {
	sender, _, client := setupTestSender(t)
	ctx := context.Background()

	payload, err := json.Marshal(PreferenceChange{
		UserID:      "user-7",
		Preferences: json.RawMessage(`{"audio":false,"subtitles":true}`),
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	err = sender.Send(ctx, queue.Action{Type: queue.TypePreferenceChange, Payload: payload})
	if err != nil {
		t.Fatalf("failed to send action: %v", err)
	}

	stored, err := client.Get(ctx, backend.PrefsKeyPrefix+"user-7").Result()
	if err != nil {
		t.Fatalf("failed to read stored preferences: %v", err)
	}
	if !strings.Contains(stored, `"subtitles":true`) {
		t.Fatalf("unexpected stored preferences: %s", stored)
	}
}

func TestSend_AchievementUnlockInsertsEvent(t *testing.T) {
	sender, _, client := setupTestSender(t)
	ctx := context.Background()

	payload, err := json.Marshal(backend.Event{
		Name:      "achievement_unlocked",
		SessionID: "sess-100",
		UserID:    "user-7",
		Fields:    map[string]any{"achievement": "excellence"},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	err = sender.Send(ctx, queue.Action{Type: queue.TypeAchievementUnlock, Payload: payload})
	if err != nil {
		t.Fatalf("failed to send action: %v", err)
	}

	entries, err := client.XRange(ctx, backend.EventsStreamKey, "-", "+").Result()
	if err != nil {
		t.Fatalf("failed to read event stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(entries))
	}
}

func TestSend_UnknownTypeFails(t *testing.T) {
	sender, _, _ := setupTestSender(t)

	err := sender.Send(context.Background(), queue.Action{Type: "telemetry_burst"})
	if err == nil {
		t.Fatal("expected error for unknown action type")
	}
}

func TestSend_MalformedPayloadFails(t *testing.T) {
	sender, _, _ := setupTestSender(t)

	err := sender.Send(context.Background(), queue.Action{
		Type:    queue.TypeProgressUpdate,
		Payload: json.RawMessage(`not-json`),
	})
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
