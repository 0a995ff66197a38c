package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/civiclearn/sessioncore/pkg/kvstore"
	"github.com/civiclearn/sessioncore/pkg/queue"
	"github.com/civiclearn/sessioncore/pkg/snapshot"
)

// staticWorkSource hands out one fixed set of fragments.
type staticWorkSource struct {
	worldIndex int
	fragments  map[string]json.RawMessage
}

func (s *staticWorkSource) WorkInProgress(string) (int, map[string]json.RawMessage, bool) {
	if s.fragments == nil {
		return 0, nil, false
	}
	return s.worldIndex, s.fragments, true
}

func newTestManager(t *testing.T, table *Config) (*Manager, *snapshot.Store, *queue.Queue) {
	t.Helper()

	local := kvstore.NewMemoryStore()
	snaps := snapshot.NewStore(local, 0)
	q, err := queue.Open(local, 0)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	return NewManager(snaps, q, table), snaps, q
}

// fastRetryTable keeps retry-exhaustion tests quick.
func fastRetryTable() *Config {
	table := DefaultConfig()
	table.Retry = RetryConfig{MaxAttempts: 2, TimeoutSeconds: 1}
	return table
}

func TestHandleFault_RollbackRestoresSnapshot(t *testing.T) {
	m, snaps, _ := newTestManager(t, nil)

	fragments := map[string]json.RawMessage{
		"sceneState": json.RawMessage(`{"step":3}`),
		"formInputs": json.RawMessage(`{"q1":"vesitorni"}`),
	}
	if err := snaps.Save("sess-1", 2, fragments); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	fault := Fault{ID: "f-1", Kind: KindStateCorruption, Message: "scene state unreadable"}
	res := m.HandleFault(context.Background(), fault, UserContext{UserID: "u1", SessionID: "sess-1"})

	if res.Strategy != StrategyStateRollback {
		t.Fatalf("expected strategy %s, got %s", StrategyStateRollback, res.Strategy)
	}
	if !res.Success {
		t.Fatalf("expected successful recovery, got %+v", res)
	}
	if res.UserImpact != ImpactMinimal {
		t.Errorf("expected impact %s, got %s", ImpactMinimal, res.UserImpact)
	}
	if res.Restored == nil || res.Restored.WorldIndex != 2 {
		t.Fatalf("expected restored snapshot of world 2, got %+v", res.Restored)
	}
	if !reflect.DeepEqual(res.Restored.Fragments, fragments) {
		t.Errorf("restored fragments = %v, want %v", res.Restored.Fragments, fragments)
	}
}

func TestHandleFault_RollbackWithoutSnapshotEscalatesToManual(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	fault := Fault{ID: "f-2", Kind: KindStateCorruption, Message: "scene state unreadable"}
	res := m.HandleFault(context.Background(), fault, UserContext{UserID: "u1", SessionID: "sess-gone"})

	if res.Strategy != StrategyManualIntervention {
		t.Fatalf("expected escalation to %s, got %s", StrategyManualIntervention, res.Strategy)
	}
	if res.Success {
		t.Fatal("manual intervention must not report success")
	}
	if !res.FollowUpRequired {
		t.Fatal("expected followUpRequired to be set")
	}
	if res.UserImpact != ImpactSignificant {
		t.Errorf("expected impact %s, got %s", ImpactSignificant, res.UserImpact)
	}
	if res.Error == "" {
		t.Error("expected the rollback failure to be recorded")
	}
}

func TestHandleFault_RetrySucceeds(t *testing.T) {
	m, _, _ := newTestManager(t, fastRetryTable())

	var attempts int
	fault := Fault{
		ID:   "f-3",
		Kind: KindNetworkError,
		Operation: func(context.Context) error {
			attempts++
			if attempts < 2 {
				return errors.New("connection refused")
			}
			return nil
		},
	}

	res := m.HandleFault(context.Background(), fault, UserContext{UserID: "u1", SessionID: "sess-1"})
	if res.Strategy != StrategyAutomaticRetry {
		t.Fatalf("expected strategy %s, got %s", StrategyAutomaticRetry, res.Strategy)
	}
	if !res.Success {
		t.Fatalf("expected recovery to succeed, got %+v", res)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if res.UserImpact != ImpactNone {
		t.Errorf("expected impact %s, got %s", ImpactNone, res.UserImpact)
	}
}

func TestHandleFault_RetryExhaustionDegrades(t *testing.T) {
	m, _, _ := newTestManager(t, fastRetryTable())

	fault := Fault{
		ID:        "f-4",
		Kind:      KindComponentCrash,
		Component: "scene-renderer",
		Operation: func(context.Context) error {
			return errors.New("still broken")
		},
	}

	res := m.HandleFault(context.Background(), fault, UserContext{UserID: "u1", SessionID: "sess-1"})
	if res.Strategy != StrategyGracefulDegradation {
		t.Fatalf("expected escalation to %s, got %s", StrategyGracefulDegradation, res.Strategy)
	}
	if !res.Success {
		t.Fatalf("expected degraded recovery to count as handled, got %+v", res)
	}
	if res.Error == "" {
		t.Error("expected the exhausted retry to be recorded")
	}
	if got := m.Degraded(); len(got) != 1 || got[0] != "scene-renderer" {
		t.Errorf("expected scene-renderer to be degraded, got %v", got)
	}
}

func TestHandleFault_RetryWithoutOperationDegrades(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	fault := Fault{ID: "f-5", Kind: KindNetworkError, Component: "asset-loader"}
	res := m.HandleFault(context.Background(), fault, UserContext{UserID: "u1"})

	if res.Strategy != StrategyGracefulDegradation {
		t.Fatalf("expected escalation to %s, got %s", StrategyGracefulDegradation, res.Strategy)
	}
	if got := m.Degraded(); len(got) != 1 || got[0] != "asset-loader" {
		t.Errorf("expected asset-loader to be degraded, got %v", got)
	}
}

func TestHandleFault_PreservesWorkBeforeRecovery(t *testing.T) {
	m, snaps, q := newTestManager(t, nil)
	m.SetWorkSource(&staticWorkSource{
		worldIndex: 1,
		fragments:  map[string]json.RawMessage{"sceneState": json.RawMessage(`{"step":1}`)},
	})

	fault := Fault{ID: "f-6", Kind: KindPerformanceDegradation, Component: "minimap"}
	res := m.HandleFault(context.Background(), fault, UserContext{
		UserID: "u1", SessionID: "sess-1", TenantID: "tenant-espoo",
	})
	if !res.Success {
		t.Fatalf("expected recovery to succeed, got %+v", res)
	}

	snap, err := snaps.Load("sess-1")
	if err != nil {
		t.Fatalf("expected preserved snapshot: %v", err)
	}
	if snap.WorldIndex != 1 {
		t.Errorf("expected snapshot of world 1, got %d", snap.WorldIndex)
	}

	pending := q.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 preservation action, got %d", len(pending))
	}
	if pending[0].Type != queue.TypeWorkPreservation {
		t.Errorf("expected %s action, got %s", queue.TypeWorkPreservation, pending[0].Type)
	}
	if pending[0].WorldIndex == nil || *pending[0].WorldIndex != 1 {
		t.Errorf("expected world index 1 on the action, got %v", pending[0].WorldIndex)
	}
}

func TestHandleFault_PreservationFeedsRollback(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	fragments := map[string]json.RawMessage{"sceneState": json.RawMessage(`{"step":7}`)}
	m.SetWorkSource(&staticWorkSource{worldIndex: 3, fragments: fragments})

	fault := Fault{ID: "f-7", Kind: KindStateCorruption, Message: "store state mangled"}
	res := m.HandleFault(context.Background(), fault, UserContext{UserID: "u1", SessionID: "sess-1"})

	if res.Strategy != StrategyStateRollback || !res.Success {
		t.Fatalf("expected successful rollback, got %+v", res)
	}
	if !reflect.DeepEqual(res.Restored.Fragments, fragments) {
		t.Errorf("restored fragments = %v, want %v", res.Restored.Fragments, fragments)
	}
}

func TestHandleFault_DeduplicatesInFlightRecoveries(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fault := Fault{
		ID:   "f-dup",
		Kind: KindNetworkError,
		Operation: func(context.Context) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		},
	}
	user := UserContext{UserID: "u1", SessionID: "sess-1"}

	results := make([]*Result, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = m.HandleFault(context.Background(), fault, user)
	}()

	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = m.HandleFault(context.Background(), fault, user)
	}()

	// Give the second caller time to join the in-flight recovery.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if results[0] != results[1] {
		t.Fatal("expected both callers to receive the same in-flight result")
	}
	if !results[0].Success {
		t.Fatalf("expected shared result to succeed, got %+v", results[0])
	}
	if got := m.Status().Handled; got != 1 {
		t.Errorf("expected a single recorded recovery, got %d", got)
	}
}

func TestHandleFault_HistoryIsCapped(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	for i := 0; i < historyLimit+5; i++ {
		fault := Fault{
			ID:        fmt.Sprintf("f-%03d", i),
			Kind:      KindPerformanceDegradation,
			Component: "minimap",
		}
		m.HandleFault(context.Background(), fault, UserContext{UserID: "u1"})
	}

	status := m.Status()
	if status.Handled != historyLimit+5 {
		t.Errorf("expected %d handled faults, got %d", historyLimit+5, status.Handled)
	}
	if len(status.History) != historyLimit {
		t.Fatalf("expected history capped at %d, got %d", historyLimit, len(status.History))
	}
	if got := status.History[0].FaultID; got != "f-005" {
		t.Errorf("expected oldest entries evicted, history starts at %s", got)
	}
}

func TestHandleFault_AssignsMissingFaultID(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	res := m.HandleFault(context.Background(),
		Fault{Kind: KindPerformanceDegradation}, UserContext{UserID: "u1"})
	if res.FaultID == "" {
		t.Fatal("expected an assigned fault id")
	}
}

func TestStatus_ReportsDegradedComponents(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	m.HandleFault(context.Background(),
		Fault{ID: "f-8", Kind: KindPerformanceDegradation, Component: "uploads"},
		UserContext{UserID: "u1"})

	status := m.Status()
	if !reflect.DeepEqual(status.DegradedComponents, []string{"uploads"}) {
		t.Errorf("expected uploads degraded, got %v", status.DegradedComponents)
	}
}
