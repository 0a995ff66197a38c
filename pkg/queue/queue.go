// Package queue holds mutations that could not reach the remote backend
// yet. The list survives process restarts; nothing is removed until the
// backend confirms delivery or an action exhausts its retries.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/civiclearn/sessioncore/pkg/kvstore"
	"github.com/civiclearn/sessioncore/pkg/metrics"
)

const (
	// StorageKey is the local storage key holding the serialized action list.
	StorageKey = "sessioncore:queue:actions"
	// DefaultMaxRetries is how many failed sends an action survives.
	DefaultMaxRetries = 5
)

// SendFunc delivers a single action to the remote backend. A nil return
// confirms remote acceptance.
type SendFunc func(ctx context.Context, action Action) error

// SyncResult reports the outcome of one drain pass.
type SyncResult struct {
	Success          bool      `json:"success"`
	ActionsProcessed int       `json:"actionsProcessed"`
	ActionsRemaining int       `json:"actionsRemaining"`
	ActionsDropped   int       `json:"actionsDropped"`
	Errors           []string  `json:"errors,omitempty"`
	CompletedAt      time.Time `json:"completedAt"`
}

// Queue is a durable FIFO list of offline actions.
type Queue struct {
	local      kvstore.Store
	maxRetries int
	now        func() time.Time

	mu      sync.Mutex
	actions []Action

	drains singleflight.Group
}

// Open creates a queue over local storage, restoring any persisted actions.
// A non-positive maxRetries falls back to DefaultMaxRetries.
func Open(local kvstore.Store, maxRetries int) (*Queue, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	q := &Queue{
		local:      local,
		maxRetries: maxRetries,
		now:        time.Now,
	}

	var persisted []Action
	err := local.Get(StorageKey, &persisted)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to load persisted actions: %w", err)
	}
	q.actions = persisted

	metrics.QueueDepth.Set(float64(len(q.actions)))
	if len(q.actions) > 0 {
		logrus.Infof("restored %d pending offline actions", len(q.actions))
	}
	return q, nil
}

// Enqueue assigns the action an id and a zero retry count, appends it, and
// persists the full list before returning. The returned action carries the
// assigned id. On a persistence error the action is still held in memory
// and remains drainable for the life of the process.
func (q *Queue) Enqueue(action Action) (Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	action.ID = newActionID(q.now())
	action.RetryCount = 0
	if action.CreatedAt.IsZero() {
		action.CreatedAt = q.now()
	}

	q.actions = append(q.actions, action)
	metrics.ActionsEnqueuedTotal.WithLabelValues(action.Type).Inc()
	logrus.Debugf("enqueued action %s (%s), %d pending", action.ID, action.Type, len(q.actions))

	if err := q.persistLocked(); err != nil {
		logrus.Errorf("failed to persist action queue: %v", err)
		return action, err
	}
	return action, nil
}

// Pending returns a copy of the queued actions in FIFO order.
func (q *Queue) Pending() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Action, len(q.actions))
	copy(out, q.actions)
	return out
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Drain attempts to deliver every queued action in insertion order. A
// delivered action is removed; a failed one has its retry count
// incremented and is dropped once the count reaches the maximum. At most
// one drain pass runs at a time: concurrent callers join the in-flight
// pass and receive the same result.
func (q *Queue) Drain(ctx context.Context, send SendFunc) *SyncResult {
	v, _, _ := q.drains.Do("drain", func() (interface{}, error) {
		return q.drainOnce(ctx, send), nil
	})
	return v.(*SyncResult)
}

func (q *Queue) drainOnce(ctx context.Context, send SendFunc) *SyncResult {
	pending := q.Pending()
	result := &SyncResult{Success: true}

	if len(pending) == 0 {
		result.CompletedAt = q.now()
		return result
	}

	logrus.Debugf("draining %d pending actions", len(pending))

	removed := make(map[string]bool, len(pending))
	retries := make(map[string]int)

	for _, action := range pending {
		if ctx.Err() != nil {
			result.Success = false
			result.Errors = append(result.Errors, ctx.Err().Error())
			break
		}

		if err := send(ctx, action); err != nil {
			result.Success = false
			attempts := action.RetryCount + 1
			if attempts >= q.maxRetries {
				removed[action.ID] = true
				result.ActionsDropped++
				metrics.ActionsDroppedTotal.Inc()
				logrus.Errorf("dropping action %s (%s) after %d failed attempts: %v",
					action.ID, action.Type, attempts, err)
				result.Errors = append(result.Errors,
					fmt.Sprintf("action %s dropped after %d attempts: %v", action.ID, attempts, err))
			} else {
				retries[action.ID] = attempts
				logrus.Warnf("failed to send action %s (%s), attempt %d/%d: %v",
					action.ID, action.Type, attempts, q.maxRetries, err)
				result.Errors = append(result.Errors,
					fmt.Sprintf("action %s failed: %v", action.ID, err))
			}
			continue
		}

		removed[action.ID] = true
		result.ActionsProcessed++
		metrics.ActionsProcessedTotal.Inc()
	}

	q.mu.Lock()
	kept := make([]Action, 0, len(q.actions))
	for _, action := range q.actions {
		if removed[action.ID] {
			continue
		}
		if attempts, ok := retries[action.ID]; ok {
			action.RetryCount = attempts
		}
		kept = append(kept, action)
	}
	q.actions = kept
	if err := q.persistLocked(); err != nil {
		logrus.Errorf("failed to persist action queue after drain: %v", err)
		result.Errors = append(result.Errors, err.Error())
	}
	result.ActionsRemaining = len(q.actions)
	q.mu.Unlock()

	result.CompletedAt = q.now()
	logrus.Debugf("drain finished: processed=%d remaining=%d dropped=%d",
		result.ActionsProcessed, result.ActionsRemaining, result.ActionsDropped)
	return result
}

func (q *Queue) persistLocked() error {
	if err := q.local.Set(StorageKey, q.actions); err != nil {
		return fmt.Errorf("failed to persist action queue: %w", err)
	}
	metrics.QueueDepth.Set(float64(len(q.actions)))
	return nil
}
