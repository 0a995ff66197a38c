package snapshot

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/civiclearn/sessioncore/pkg/kvstore"
)

func newTestStore(t *testing.T) (*Store, *kvstore.MemoryStore) {
	t.Helper()
	local := kvstore.NewMemoryStore()
	return NewStore(local, DefaultValidity), local
}

func testFragments() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"scenarioState": json.RawMessage(`{"sceneId":"s2","answers":[1,3]}`),
		"formInputs":    json.RawMessage(`{"notes":"halfway done"}`),
	}
}

func TestSaveLoad_Roundtrip(t *testing.T) {
	store, _ := newTestStore(t)

	fragments := testFragments()
	if err := store.Save("sess-1", 2, fragments); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	snap, err := store.Load("sess-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if snap.SessionID != "sess-1" || snap.WorldIndex != 2 {
		t.Errorf("Load() identity = (%s, %d), expected (sess-1, 2)", snap.SessionID, snap.WorldIndex)
	}

	// Fragment payloads must decode to the same values that were saved.
	for name, want := range fragments {
		got, ok := snap.Fragments[name]
		if !ok {
			t.Fatalf("Load() missing fragment %s", name)
		}
		var gotValue, wantValue any
		if err := json.Unmarshal(got, &gotValue); err != nil {
			t.Fatalf("fragment %s unmarshal error = %v", name, err)
		}
		if err := json.Unmarshal(want, &wantValue); err != nil {
			t.Fatalf("fragment %s unmarshal error = %v", name, err)
		}
		if !reflect.DeepEqual(gotValue, wantValue) {
			t.Errorf("fragment %s = %s, expected %s", name, got, want)
		}
	}
}

func TestLoad_Missing(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Load("no-such-session"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, expected ErrNotFound", err)
	}
}

func TestSave_OverwritesPriorSnapshot(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.Save("sess-1", 0, map[string]json.RawMessage{
		"scenarioState": json.RawMessage(`{"sceneId":"s1"}`),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save("sess-1", 1, map[string]json.RawMessage{
		"scenarioState": json.RawMessage(`{"sceneId":"s4"}`),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	snap, err := store.Load("sess-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.WorldIndex != 1 {
		t.Errorf("WorldIndex = %d, expected 1 (latest save wins)", snap.WorldIndex)
	}
	if string(snap.Fragments["scenarioState"]) != `{"sceneId":"s4"}` {
		t.Errorf("Fragments = %s, expected latest save", snap.Fragments["scenarioState"])
	}

	keys, err := store.local.Keys(KeyPrefix)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("stored snapshots = %d, expected 1 (overwrite, not append)", len(keys))
	}
}

func TestLoad_ExpiredSnapshot(t *testing.T) {
	store, _ := newTestStore(t)

	saved := time.Now()
	store.now = func() time.Time { return saved }
	if err := store.Save("sess-1", 0, testFragments()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr bool
	}{
		{name: "well within window", elapsed: time.Hour, wantErr: false},
		{name: "just inside window", elapsed: DefaultValidity - time.Minute, wantErr: false},
		{name: "past window", elapsed: DefaultValidity + time.Minute, wantErr: true},
		{name: "days later", elapsed: 72 * time.Hour, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.now = func() time.Time { return saved.Add(tt.elapsed) }

			_, err := store.Load("sess-1")
			if tt.wantErr && !errors.Is(err, ErrNotFound) {
				t.Errorf("Load() error = %v, expected ErrNotFound", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Load() error = %v, expected snapshot", err)
			}
		})
	}
}

func TestLoad_ChecksumMismatch(t *testing.T) {
	store, local := newTestStore(t)

	if err := store.Save("sess-1", 0, testFragments()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Tamper with the stored fragments without updating the checksum.
	var snap Snapshot
	if err := local.Get(KeyPrefix+"sess-1", &snap); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	snap.Fragments["scenarioState"] = json.RawMessage(`{"sceneId":"tampered"}`)
	if err := local.Set(KeyPrefix+"sess-1", snap); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := store.Load("sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, expected ErrNotFound for tampered snapshot", err)
	}

	// The corrupt entry must be gone.
	if err := local.Get(KeyPrefix+"sess-1", &snap); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("corrupt snapshot still present, Get() error = %v", err)
	}
}

func TestEvictExpired(t *testing.T) {
	store, local := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base.Add(-2 * DefaultValidity) }
	if err := store.Save("old-1", 0, testFragments()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save("old-2", 0, testFragments()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	store.now = func() time.Time { return base }
	if err := store.Save("fresh", 0, testFragments()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if got := store.EvictExpired(); got != 2 {
		t.Errorf("EvictExpired() = %d, expected 2", got)
	}

	keys, err := local.Keys(KeyPrefix)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != KeyPrefix+"fresh" {
		t.Errorf("remaining keys = %v, expected only the fresh snapshot", keys)
	}

	// Nothing left to evict.
	if got := store.EvictExpired(); got != 0 {
		t.Errorf("EvictExpired() second pass = %d, expected 0", got)
	}
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.Save("sess-1", 0, testFragments()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete("sess-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load("sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after Delete error = %v, expected ErrNotFound", err)
	}
}
