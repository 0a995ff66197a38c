package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/civiclearn/sessioncore/pkg/snapshot"
)

// Strategy names used in the strategy table.
const (
	StrategyAutomaticRetry      = "automatic_retry"
	StrategyStateRollback       = "state_rollback"
	StrategyGracefulDegradation = "graceful_degradation"
	StrategyManualIntervention  = "manual_intervention"
)

// User impact levels.
const (
	ImpactNone        = "none"
	ImpactMinimal     = "minimal"
	ImpactModerate    = "moderate"
	ImpactSignificant = "significant"
)

// Outcome is what a single strategy execution produced.
type Outcome struct {
	// Success reports whether the strategy restored normal or reduced service.
	Success bool
	// Actions lists the recovery steps taken, for diagnostics.
	Actions []string
	// FollowUpRequired marks recoveries that need a human.
	FollowUpRequired bool
	// Escalate names a follow-up strategy when this one could not recover.
	// Empty means terminal.
	Escalate string
	// Err carries the reason recovery did not fully succeed.
	Err error
	// Restored is the snapshot a rollback reinstated.
	Restored *snapshot.Snapshot
}

// Strategy is one recovery approach.
type Strategy interface {
	// Name returns the identifier used by the strategy table.
	Name() string

	// Impact returns the expected user impact level.
	Impact() string

	// Execute attempts recovery for the fault. Strategies never panic and
	// never raise: failure is expressed through the outcome.
	Execute(ctx context.Context, fault Fault, user UserContext) Outcome
}

// Registry manages available strategies.
// It provides thread-safe registration and lookup.
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry creates a new empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry.
// Returns an error if a strategy with the same name already exists.
func (r *Registry) Register(strategy Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[strategy.Name()]; exists {
		return fmt.Errorf("strategy %s already registered", strategy.Name())
	}

	r.strategies[strategy.Name()] = strategy
	return nil
}

// Get returns a strategy by name.
// Returns nil if the strategy doesn't exist.
func (r *Registry) Get(name string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.strategies[name]
}

// Count returns the number of registered strategies.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.strategies)
}

// NewDefaultRegistry registers the four built-in strategies. The degrade
// strategy is also returned directly so its disabled-component set stays
// queryable.
func NewDefaultRegistry(snapshots *snapshot.Store, retry RetryConfig) (*Registry, *DegradeStrategy) {
	registry := NewRegistry()
	degrade := NewDegradeStrategy()

	for _, s := range []Strategy{
		NewRetryStrategy(retry),
		NewRollbackStrategy(snapshots),
		degrade,
		NewManualStrategy(),
	} {
		// Built-in names are unique, registration cannot fail here.
		_ = registry.Register(s)
	}
	return registry, degrade
}

type retryStrategy struct {
	cfg RetryConfig
}

// NewRetryStrategy re-runs the failed operation with exponential backoff
// inside a fixed time budget. Exhausting the budget escalates to graceful
// degradation.
func NewRetryStrategy(cfg RetryConfig) Strategy {
	return &retryStrategy{cfg: cfg}
}

func (s *retryStrategy) Name() string { return StrategyAutomaticRetry }

func (s *retryStrategy) Impact() string { return ImpactNone }

func (s *retryStrategy) Execute(ctx context.Context, fault Fault, _ UserContext) Outcome {
	if fault.Operation == nil {
		logrus.Warnf("fault %s carries no operation to retry, escalating", fault.ID)
		return Outcome{
			Actions:  []string{"no retryable operation attached"},
			Escalate: StrategyGracefulDegradation,
			Err:      ErrNoRetryableOperation,
		}
	}

	retryCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	attempts := 0
	operation := func() error {
		attempts++
		return fault.Operation(retryCtx)
	}

	maxRetries := s.cfg.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), retryCtx)

	if err := backoff.Retry(operation, backoff.WithMaxRetries(bo, uint64(maxRetries))); err != nil {
		logrus.Warnf("retries for fault %s exhausted after %d attempts: %v", fault.ID, attempts, err)
		return Outcome{
			Actions:  []string{fmt.Sprintf("operation failed after %d attempts", attempts)},
			Escalate: StrategyGracefulDegradation,
			Err:      fmt.Errorf("%w: %v", ErrRetryExhausted, err),
		}
	}

	return Outcome{
		Success: true,
		Actions: []string{fmt.Sprintf("operation succeeded after %d attempts", attempts)},
	}
}

type rollbackStrategy struct {
	snapshots *snapshot.Store
}

// NewRollbackStrategy discards in-memory state and reinstates the most
// recent valid snapshot for the session. Without one it escalates to
// manual intervention.
func NewRollbackStrategy(snapshots *snapshot.Store) Strategy {
	return &rollbackStrategy{snapshots: snapshots}
}

func (s *rollbackStrategy) Name() string { return StrategyStateRollback }

func (s *rollbackStrategy) Impact() string { return ImpactMinimal }

func (s *rollbackStrategy) Execute(_ context.Context, fault Fault, user UserContext) Outcome {
	snap, err := s.snapshots.Load(user.SessionID)
	if err != nil {
		logrus.Warnf("no restorable snapshot for session %s, escalating fault %s", user.SessionID, fault.ID)
		return Outcome{
			Actions:  []string{"no valid snapshot to restore"},
			Escalate: StrategyManualIntervention,
			Err:      err,
		}
	}

	logrus.Infof("restored session %s to snapshot from %s", user.SessionID, snap.SavedAt.Format(time.RFC3339))
	return Outcome{
		Success:  true,
		Actions:  []string{fmt.Sprintf("restored snapshot of world %d", snap.WorldIndex)},
		Restored: snap,
	}
}

// DegradeStrategy disables the failing component so the rest of the
// application continues with reduced functionality. The disabled set is
// queryable so the presentation layer can render fallbacks.
type DegradeStrategy struct {
	mu       sync.Mutex
	disabled map[string]time.Time
}

// NewDegradeStrategy creates a degrade strategy with nothing disabled.
func NewDegradeStrategy() *DegradeStrategy {
	return &DegradeStrategy{disabled: make(map[string]time.Time)}
}

func (s *DegradeStrategy) Name() string { return StrategyGracefulDegradation }

func (s *DegradeStrategy) Impact() string { return ImpactModerate }

func (s *DegradeStrategy) Execute(_ context.Context, fault Fault, _ UserContext) Outcome {
	component := fault.Component
	if component == "" {
		component = "unknown"
	}

	s.mu.Lock()
	s.disabled[component] = time.Now()
	s.mu.Unlock()

	logrus.Warnf("component %s disabled after fault %s", component, fault.ID)
	return Outcome{
		Success: true,
		Actions: []string{fmt.Sprintf("disabled component %s", component)},
	}
}

// Disabled returns the currently disabled components, sorted by name.
func (s *DegradeStrategy) Disabled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.disabled))
	for name := range s.disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Restore re-enables a component once the underlying issue is fixed.
func (s *DegradeStrategy) Restore(component string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.disabled, component)
}

type manualStrategy struct{}

// NewManualStrategy surfaces the fault to an operator. It is the end of
// every escalation chain and never recovers anything automatically.
func NewManualStrategy() Strategy {
	return manualStrategy{}
}

func (manualStrategy) Name() string { return StrategyManualIntervention }

func (manualStrategy) Impact() string { return ImpactSignificant }

func (manualStrategy) Execute(_ context.Context, fault Fault, user UserContext) Outcome {
	logrus.Errorf("fault %s for session %s needs manual intervention: %s",
		fault.ID, user.SessionID, fault.Message)
	return Outcome{
		Actions:          []string{"operator follow-up requested"},
		FollowUpRequired: true,
	}
}
