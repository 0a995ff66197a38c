package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/civiclearn/sessioncore/pkg/backend"
	"github.com/civiclearn/sessioncore/pkg/common"
	"github.com/civiclearn/sessioncore/pkg/metrics"
	"github.com/civiclearn/sessioncore/pkg/queue"
	"github.com/civiclearn/sessioncore/pkg/snapshot"
)

// historyLimit caps the diagnostic history.
const historyLimit = 100

// maxEscalations bounds how many times one fault may hop between
// strategies.
const maxEscalations = 2

// Result is the terminal description of one handled fault.
type Result struct {
	FaultID          string             `json:"faultId"`
	Kind             string             `json:"kind"`
	Severity         string             `json:"severity"`
	Strategy         string             `json:"strategy"`
	Success          bool               `json:"success"`
	UserImpact       string             `json:"userImpact"`
	Actions          []string           `json:"actions,omitempty"`
	Error            string             `json:"error,omitempty"`
	FollowUpRequired bool               `json:"followUpRequired"`
	RecoveryTime     time.Duration      `json:"recoveryTime"`
	Restored         *snapshot.Snapshot `json:"restored,omitempty"`
	HandledAt        time.Time          `json:"handledAt"`
}

// WorkSource supplies the in-progress work to preserve when a fault hits.
// The session lifecycle manager implements it.
type WorkSource interface {
	WorkInProgress(sessionID string) (worldIndex int, fragments map[string]json.RawMessage, ok bool)
}

// Status is a diagnostic view of the manager.
type Status struct {
	Handled            int       `json:"handled"`
	DegradedComponents []string  `json:"degradedComponents,omitempty"`
	History            []*Result `json:"history"`
}

// Manager is the single funnel for faults. It owns the strategy registry,
// the strategy table and the bounded outcome history.
type Manager struct {
	snapshots *snapshot.Store
	queue     *queue.Queue
	registry  *Registry
	degrade   *DegradeStrategy
	table     *Config
	now       func() time.Time

	inflight singleflight.Group

	mu      sync.Mutex
	work    WorkSource
	handled int
	history []*Result
}

// NewManager creates a manager with the built-in strategies. A nil table
// uses the built-in defaults.
func NewManager(snapshots *snapshot.Store, q *queue.Queue, table *Config) *Manager {
	if table == nil {
		table = DefaultConfig()
	}
	registry, degrade := NewDefaultRegistry(snapshots, table.Retry)

	return &Manager{
		snapshots: snapshots,
		queue:     q,
		registry:  registry,
		degrade:   degrade,
		table:     table,
		now:       time.Now,
	}
}

// SetWorkSource wires the component whose in-progress work gets preserved.
// This happens after construction since the session manager and the
// recovery manager reference each other.
func (m *Manager) SetWorkSource(source WorkSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.work = source
}

// HandleFault classifies the fault, preserves the user's work, executes the
// selected strategy and records the outcome. Calls arriving while a
// recovery for the same fault id is in flight join it and receive the same
// result. This is the terminal handler: it never raises and the original
// fault never propagates further.
func (m *Manager) HandleFault(ctx context.Context, fault Fault, user UserContext) *Result {
	if fault.ID == "" {
		fault.ID = uuid.New().String()
	}
	if fault.OccurredAt.IsZero() {
		fault.OccurredAt = m.now()
	}

	// Preservation comes first and is attempted regardless of what the
	// strategy does afterwards.
	m.preserveWork(fault, user)

	v, _, _ := m.inflight.Do(fault.ID, func() (interface{}, error) {
		return m.recover(ctx, fault, user), nil
	})
	return v.(*Result)
}

// Status reports totals, degraded components and the bounded outcome
// history, oldest first.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := make([]*Result, len(m.history))
	copy(history, m.history)

	return Status{
		Handled:            m.handled,
		DegradedComponents: m.degrade.Disabled(),
		History:            history,
	}
}

// Degraded returns the components currently running in degraded mode.
func (m *Manager) Degraded() []string {
	return m.degrade.Disabled()
}

func (m *Manager) recover(ctx context.Context, fault Fault, user UserContext) *Result {
	scope := common.NewScope(ctx, "RecoveryManager.HandleFault")
	defer scope.Finish()

	kind, severity := Classify(fault)
	scope.AddBaggage("faultId", fault.ID)
	scope.AddBaggage("kind", kind)

	result := &Result{
		FaultID:  fault.ID,
		Kind:     kind,
		Severity: severity,
	}

	started := m.now()
	name := m.table.StrategyFor(kind, severity)
	var outcome Outcome

	for hops := 0; ; hops++ {
		strategy := m.registry.Get(name)
		if strategy == nil {
			scope.Log.Errorf("%v: %s", ErrStrategyNotFound, name)
			if name == StrategyManualIntervention {
				outcome = Outcome{FollowUpRequired: true, Err: ErrStrategyNotFound}
				result.Strategy = name
				break
			}
			name = StrategyManualIntervention
			continue
		}

		result.Strategy = name
		result.UserImpact = strategy.Impact()
		outcome = strategy.Execute(scope.Ctx, fault, user)
		result.Actions = append(result.Actions, outcome.Actions...)
		if outcome.Err != nil {
			result.Error = outcome.Err.Error()
		}

		if outcome.Escalate == "" || hops >= maxEscalations {
			break
		}
		scope.Log.Warnf("strategy %s could not recover fault %s, escalating to %s",
			name, fault.ID, outcome.Escalate)
		name = outcome.Escalate
	}

	result.Success = outcome.Success
	result.FollowUpRequired = outcome.FollowUpRequired
	result.Restored = outcome.Restored
	result.RecoveryTime = m.now().Sub(started)
	result.HandledAt = m.now()

	outcomeLabel := "success"
	if !result.Success {
		outcomeLabel = "failure"
	}
	metrics.RecoveriesTotal.WithLabelValues(result.Strategy, outcomeLabel).Inc()
	metrics.RecoveryDuration.Observe(result.RecoveryTime.Seconds())

	if result.Success {
		scope.Log.Infof("recovered fault %s (%s/%s) with %s in %s",
			fault.ID, kind, severity, result.Strategy, result.RecoveryTime)
	} else {
		scope.TraceError(errors.New(fault.Message))
		scope.Log.Errorf("fault %s (%s/%s) not recovered automatically, follow-up required: %t",
			fault.ID, kind, severity, result.FollowUpRequired)
	}

	m.record(result)
	return result
}

// preserveWork snapshots in-progress state and queues a preservation
// action. Failures are logged only; preservation must never block the
// recovery itself.
func (m *Manager) preserveWork(fault Fault, user UserContext) {
	if user.SessionID == "" {
		return
	}

	m.mu.Lock()
	source := m.work
	m.mu.Unlock()
	if source == nil {
		return
	}

	worldIndex, fragments, ok := source.WorkInProgress(user.SessionID)
	if !ok {
		return
	}

	if err := m.snapshots.Save(user.SessionID, worldIndex, fragments); err != nil {
		logrus.Errorf("failed to snapshot work for session %s: %v", user.SessionID, err)
	}

	payload, err := json.Marshal(backend.Event{
		Name:      "work_preserved",
		SessionID: user.SessionID,
		UserID:    user.UserID,
		TenantID:  user.TenantID,
		At:        fault.OccurredAt,
		Fields: map[string]any{
			"faultId":    fault.ID,
			"worldIndex": worldIndex,
			"fragments":  fragments,
		},
	})
	if err != nil {
		logrus.Errorf("failed to marshal preservation event for session %s: %v", user.SessionID, err)
		return
	}

	if _, err := m.queue.Enqueue(queue.Action{
		Type:       queue.TypeWorkPreservation,
		WorldIndex: &worldIndex,
		Payload:    payload,
	}); err != nil {
		logrus.Errorf("failed to enqueue preservation action for session %s: %v", user.SessionID, err)
	}
}

func (m *Manager) record(result *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handled++
	m.history = append(m.history, result)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}
