package backend

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestInsert_AppendsToStream(t *testing.T) {
	client, _ := setupTestRedis(t)
	sink := NewRedisAnalytics(client)
	ctx := context.Background()

	event := Event{
		Name:      "session_started",
		SessionID: "sess-1",
		UserID:    "user-1",
		TenantID:  "tenant-espoo",
		At:        time.Now(),
		Fields:    map[string]any{"deviceClass": "mobile"},
	}
	if err := sink.Insert(ctx, event); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	entries, err := client.XRange(ctx, EventsStreamKey, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream has %d entries, expected 1", len(entries))
	}

	if entries[0].Values["event"] != "session_started" {
		t.Errorf("event field = %v, expected session_started", entries[0].Values["event"])
	}

	var decoded Event
	if err := json.Unmarshal([]byte(entries[0].Values["data"].(string)), &decoded); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if decoded.SessionID != "sess-1" || decoded.UserID != "user-1" {
		t.Errorf("decoded event = %+v", decoded)
	}
}

func TestInsert_DefaultsTimestamp(t *testing.T) {
	client, _ := setupTestRedis(t)
	sink := NewRedisAnalytics(client)
	ctx := context.Background()

	if err := sink.Insert(ctx, Event{Name: "session_resumed"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	entries, err := client.XRange(ctx, EventsStreamKey, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}

	var decoded Event
	if err := json.Unmarshal([]byte(entries[0].Values["data"].(string)), &decoded); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if decoded.At.IsZero() {
		t.Error("Insert() did not default the event timestamp")
	}
}
