// Package syncer drains the offline action queue toward the remote backend
// whenever connectivity allows. The engine is edge-driven: hosts feed it
// connectivity changes and it keeps a periodic timer as a safety net.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/civiclearn/sessioncore/pkg/common"
	"github.com/civiclearn/sessioncore/pkg/metrics"
	"github.com/civiclearn/sessioncore/pkg/queue"
)

// State is the engine's connectivity state.
type State string

const (
	// StateIdle means online with no drain in progress.
	StateIdle State = "idle"
	// StateSyncing means a drain pass is running.
	StateSyncing State = "syncing"
	// StateOffline means connectivity is lost and syncs are suspended.
	StateOffline State = "offline"
)

// DefaultInterval is the periodic sync cadence.
const DefaultInterval = 30 * time.Second

// Status is a point-in-time view of the engine.
type Status struct {
	State          State             `json:"state"`
	Online         bool              `json:"online"`
	PendingActions int               `json:"pendingActions"`
	LastResult     *queue.SyncResult `json:"lastResult,omitempty"`
	LastSyncAt     time.Time         `json:"lastSyncAt"`
}

// Config tunes the engine.
type Config struct {
	// Interval between timer-driven sync attempts. Zero means DefaultInterval.
	Interval time.Duration
}

// Engine owns the sync loop over a durable action queue.
type Engine struct {
	queue    *queue.Queue
	send     queue.SendFunc
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	state      State
	lastResult *queue.SyncResult
	lastSyncAt time.Time

	kick chan struct{}
}

// New creates an engine over the queue. The engine starts online and idle;
// call Run to start the periodic timer.
func New(q *queue.Queue, send queue.SendFunc, cfg Config) *Engine {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	metrics.EngineOnline.Set(1)
	return &Engine{
		queue:    q,
		send:     send,
		interval: interval,
		now:      time.Now,
		state:    StateIdle,
		kick:     make(chan struct{}, 1),
	}
}

// SaveAction enqueues the action and, when online, requests an immediate
// sync. The returned action carries its assigned id. A persistence error is
// returned but the action stays queued in memory, so callers usually log it
// and move on.
func (e *Engine) SaveAction(action queue.Action) (queue.Action, error) {
	queued, err := e.queue.Enqueue(action)
	if e.Online() {
		e.requestSync()
	}
	return queued, err
}

// ForceSync runs a drain pass right now and reports the outcome. It never
// returns an error: failures are carried inside the result. When offline the
// result reports the queue as untouched.
func (e *Engine) ForceSync(ctx context.Context) *queue.SyncResult {
	return e.syncOnce(ctx)
}

// HandleConnectivityChange feeds an edge-triggered connectivity signal.
// Coming back online immediately kicks off a drain of everything queued
// while offline; going offline suspends syncs until connectivity returns.
func (e *Engine) HandleConnectivityChange(online bool) {
	e.mu.Lock()
	wasOffline := e.state == StateOffline

	if online {
		if !wasOffline {
			e.mu.Unlock()
			return
		}
		e.state = StateIdle
		e.mu.Unlock()

		metrics.EngineOnline.Set(1)
		logrus.Infof("connectivity restored, draining %d pending actions", e.queue.Len())
		go e.syncOnce(context.Background())
		return
	}

	if wasOffline {
		e.mu.Unlock()
		return
	}
	e.state = StateOffline
	e.mu.Unlock()

	metrics.EngineOnline.Set(0)
	logrus.Warn("connectivity lost, sync suspended")
}

// Online reports whether the engine considers the backend reachable.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != StateOffline
}

// ConnectivityStatus reports the engine state, queue depth and last outcome.
func (e *Engine) ConnectivityStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Status{
		State:          e.state,
		Online:         e.state != StateOffline,
		PendingActions: e.queue.Len(),
		LastResult:     e.lastResult,
		LastSyncAt:     e.lastSyncAt,
	}
}

// Run drives timer-based sync attempts until the context is canceled.
// Timer ticks only drain when online and when something is pending.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	logrus.Infof("sync engine started, interval %s", e.interval)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("sync engine stopped")
			return
		case <-ticker.C:
			if e.Online() && e.queue.Len() > 0 {
				e.syncOnce(ctx)
			}
		case <-e.kick:
			if e.Online() {
				e.syncOnce(ctx)
			}
		}
	}
}

// requestSync schedules a drain without blocking. A request made while one
// is already pending collapses into it.
func (e *Engine) requestSync() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) syncOnce(ctx context.Context) *queue.SyncResult {
	e.mu.Lock()
	if e.state == StateOffline {
		depth := e.queue.Len()
		e.mu.Unlock()
		return &queue.SyncResult{
			Success:          false,
			ActionsRemaining: depth,
			Errors:           []string{"sync engine offline"},
			CompletedAt:      e.now(),
		}
	}
	e.state = StateSyncing
	e.mu.Unlock()

	scope := common.NewScope(ctx, "SyncEngine.Drain")
	defer scope.Finish()

	result := e.queue.Drain(scope.Ctx, e.send)

	e.mu.Lock()
	e.lastResult = result
	e.lastSyncAt = e.now()
	if e.state == StateSyncing {
		e.state = StateIdle
	}
	e.mu.Unlock()

	outcome := "failure"
	switch {
	case result.Success:
		outcome = "success"
	case result.ActionsProcessed > 0:
		outcome = "partial"
	}
	metrics.SyncRunsTotal.WithLabelValues(outcome).Inc()

	scope.SetAttributes("actionsProcessed", result.ActionsProcessed)
	scope.SetAttributes("actionsRemaining", result.ActionsRemaining)
	scope.SetAttributes("actionsDropped", result.ActionsDropped)
	if !result.Success {
		scope.Log.Warnf("sync finished with errors: processed=%d remaining=%d dropped=%d",
			result.ActionsProcessed, result.ActionsRemaining, result.ActionsDropped)
	} else if result.ActionsProcessed > 0 {
		scope.Log.Infof("sync delivered %d actions", result.ActionsProcessed)
	}
	return result
}
