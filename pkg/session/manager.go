package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/civiclearn/sessioncore/pkg/backend"
	"github.com/civiclearn/sessioncore/pkg/common"
	"github.com/civiclearn/sessioncore/pkg/metrics"
	"github.com/civiclearn/sessioncore/pkg/queue"
	"github.com/civiclearn/sessioncore/pkg/snapshot"
	"github.com/civiclearn/sessioncore/pkg/syncer"
)

// Schedule defaults.
const (
	DefaultAutosaveInterval = 30 * time.Second
	DefaultResumeWindow     = 24 * time.Hour
	DefaultCleanupAfter     = 7 * 24 * time.Hour
	DefaultCleanupInterval  = time.Hour
)

// listIncompleteLimit caps the resumption query.
const listIncompleteLimit = 10

var (
	// ErrNotFound indicates the session does not exist or is not eligible
	// for the requested operation (completed, or outside the resume window).
	ErrNotFound = errors.New("session not found")

	// ErrNoOpenSession indicates the manager holds no open session.
	ErrNoOpenSession = errors.New("no open session held")

	// ErrNotCurrent indicates the given id is not the held open session.
	ErrNotCurrent = errors.New("session is not the held open session")
)

// Config tunes the manager's schedules. Zero values take the defaults.
type Config struct {
	AutosaveInterval time.Duration
	ResumeWindow     time.Duration
	CleanupAfter     time.Duration
	CleanupInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = DefaultAutosaveInterval
	}
	if c.ResumeWindow <= 0 {
		c.ResumeWindow = DefaultResumeWindow
	}
	if c.CleanupAfter <= 0 {
		c.CleanupAfter = DefaultCleanupAfter
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c
}

// StartInput identifies who is starting which training game on what device.
type StartInput struct {
	UserID          string
	GameID          string
	TenantID        string
	CulturalContext string
	DeviceClass     string
}

// Deps are the collaborators the manager drives.
type Deps struct {
	Vault     backend.SessionVault
	Analytics backend.AnalyticsSink
	Snapshots *snapshot.Store
	Sync      *syncer.Engine
}

// Manager owns the one open session and its autosave and cleanup schedules.
type Manager struct {
	vault     backend.SessionVault
	analytics backend.AnalyticsSink
	snapshots *snapshot.Store
	sync      *syncer.Engine
	cfg       Config
	now       func() time.Time

	mu       sync.Mutex
	current  *Session
	stopAuto context.CancelFunc
}

// NewManager creates a manager over its collaborators.
func NewManager(deps Deps, cfg Config) *Manager {
	return &Manager{
		vault:     deps.Vault,
		analytics: deps.Analytics,
		snapshots: deps.Snapshots,
		sync:      deps.Sync,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// Start creates a session with zero progress, persists it, begins the
// autosave schedule and holds it as the open session. A previously held
// session is released first.
func (m *Manager) Start(ctx context.Context, input StartInput) (*Session, error) {
	scope := common.NewScope(ctx, "SessionManager.Start")
	defer scope.Finish()

	now := m.now()
	session := &Session{
		SessionID:       uuid.New().String(),
		UserID:          input.UserID,
		TenantID:        input.TenantID,
		GameID:          input.GameID,
		CulturalContext: input.CulturalContext,
		DeviceClass:     input.DeviceClass,
		CompletedScenes: []string{},
		SceneResults:    map[string]SceneResult{},
		Status:          backend.StatusOpen,
		StartedAt:       now,
		LastActive:      now,
	}
	scope.AddBaggage("sessionId", session.SessionID)

	if err := m.persist(scope.Ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}

	m.hold(session)
	metrics.SessionsStartedTotal.Inc()
	m.emitEvent(scope.Ctx, "session_started", session, map[string]any{
		"gameId":      input.GameID,
		"deviceClass": input.DeviceClass,
	})

	scope.Log.Infof("started session %s for user %s (game %s)",
		session.SessionID, input.UserID, input.GameID)
	return session.clone(), nil
}

// Resume loads a stored session and holds it as the open session. Sessions
// that are completed, or idle beyond the resume window, come back as
// ErrNotFound and the caller starts a new session instead.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*Session, error) {
	scope := common.NewScope(ctx, "SessionManager.Resume")
	defer scope.Finish()
	scope.AddBaggage("sessionId", sessionID)

	record, err := m.vault.Select(scope.Ctx, sessionID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	now := m.now()
	if !IsResumable(*record, now, m.cfg.ResumeWindow) {
		scope.Log.Infof("session %s not resumable (status %s, last active %s)",
			sessionID, record.Status, record.LastActive.Format(time.RFC3339))
		return nil, ErrNotFound
	}

	session, err := FromRecord(*record)
	if err != nil {
		return nil, err
	}
	session.LastActive = now

	m.hold(session)
	m.emitEvent(scope.Ctx, "session_resumed", session, nil)

	scope.Log.Infof("resumed session %s for user %s", sessionID, session.UserID)
	return session.clone(), nil
}

// Update applies one completed unit of user work to the held session and
// persists it before returning. This is the stronger guarantee: autosave
// only covers the gaps between updates.
func (m *Manager) Update(ctx context.Context, sessionID string, delta Delta) (*Session, error) {
	scope := common.NewScope(ctx, "SessionManager.Update")
	defer scope.Finish()
	scope.AddBaggage("sessionId", sessionID)

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil, ErrNoOpenSession
	}
	if m.current.SessionID != sessionID {
		held := m.current.SessionID
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: updating %s while holding %s", ErrNotCurrent, sessionID, held)
	}
	m.current.apply(delta, m.now())
	updated := m.current.clone()
	m.mu.Unlock()

	if err := m.persist(scope.Ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to persist update for session %s: %w", sessionID, err)
	}

	scope.Log.Debugf("applied update to session %s (scene %d, %d completed)",
		sessionID, updated.SceneIndex, len(updated.CompletedScenes))
	return updated, nil
}

// Complete computes the final score and achievements, persists the terminal
// state, stops the autosave schedule and releases the session.
func (m *Manager) Complete(ctx context.Context, sessionID string) (*Results, error) {
	scope := common.NewScope(ctx, "SessionManager.Complete")
	defer scope.Finish()
	scope.AddBaggage("sessionId", sessionID)

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil, ErrNoOpenSession
	}
	if m.current.SessionID != sessionID {
		held := m.current.SessionID
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: completing %s while holding %s", ErrNotCurrent, sessionID, held)
	}
	now := m.now()
	m.current.touch(now)
	m.current.Status = backend.StatusCompleted
	finished := m.current.clone()
	m.mu.Unlock()

	score := ComputeScore(finished.SceneResults)
	achievements := DeriveAchievements(finished, score)

	if err := m.persist(scope.Ctx, finished); err != nil {
		// The session stays held so the caller can try again.
		m.mu.Lock()
		if m.current != nil && m.current.SessionID == sessionID {
			m.current.Status = backend.StatusOpen
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to persist completion of session %s: %w", sessionID, err)
	}

	m.release(sessionID)
	if err := m.snapshots.Delete(sessionID); err != nil {
		scope.Log.Warnf("failed to delete snapshot for completed session %s: %v", sessionID, err)
	}

	results := &Results{
		SessionID:       sessionID,
		Score:           score,
		CompletedScenes: len(finished.CompletedScenes),
		ActiveTime:      finished.ActiveTime,
		Achievements:    achievements,
		CompletedAt:     now,
	}

	metrics.SessionsCompletedTotal.Inc()
	m.queueAchievements(finished, results)
	m.emitEvent(scope.Ctx, "session_completed", finished, map[string]any{
		"score":           results.Score,
		"completedScenes": results.CompletedScenes,
		"achievements":    results.Achievements,
	})

	scope.Log.Infof("completed session %s with score %.1f and %d achievements",
		sessionID, results.Score, len(results.Achievements))
	return results, nil
}

// ListIncomplete returns up to 10 of the user's most recent open sessions
// for the resumption UI.
func (m *Manager) ListIncomplete(ctx context.Context, userID string) ([]*Session, error) {
	records, err := m.vault.ListOpenByUser(ctx, userID, listIncompleteLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions for user %s: %w", userID, err)
	}

	sessions := make([]*Session, 0, len(records))
	for _, record := range records {
		session, err := FromRecord(record)
		if err != nil {
			logrus.Warnf("skipping undecodable session %s: %v", record.SessionID, err)
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Cleanup deletes open sessions idle beyond the retention cutoff, along
// with their local snapshots. The retention cutoff is independent of the
// resume window. Returns how many sessions were removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.cfg.CleanupAfter)
	ids, err := m.vault.OpenSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		record, selectErr := m.vault.Select(ctx, id)
		if err := m.vault.Delete(ctx, id); err != nil {
			logrus.Warnf("failed to delete stale session %s: %v", id, err)
			continue
		}
		if err := m.snapshots.Delete(id); err != nil {
			logrus.Warnf("failed to delete snapshot for stale session %s: %v", id, err)
		}
		deleted++
		metrics.SessionsCleanedTotal.Inc()

		if selectErr == nil {
			m.emitEvent(ctx, "session_abandoned", &Session{
				SessionID: record.SessionID,
				UserID:    record.UserID,
				TenantID:  record.TenantID,
			}, map[string]any{"idleSince": record.LastActive})
		}
	}

	if deleted > 0 {
		logrus.Infof("cleaned up %d stale sessions", deleted)
	}
	return deleted, nil
}

// RunCleanup deletes stale sessions on the cleanup interval until the
// context is canceled.
func (m *Manager) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	logrus.Infof("session cleanup started, interval %s", m.cfg.CleanupInterval)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("session cleanup stopped")
			return
		case <-ticker.C:
			if _, err := m.Cleanup(ctx); err != nil {
				logrus.Warnf("session cleanup pass failed: %v", err)
			}
		}
	}
}

// Current returns a copy of the held open session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.clone()
}

// WorkInProgress implements the recovery manager's work source over the
// held session.
func (m *Manager) WorkInProgress(sessionID string) (int, map[string]json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.SessionID != sessionID {
		return 0, nil, false
	}
	fragments, err := m.current.fragments()
	if err != nil {
		logrus.Errorf("failed to capture work in progress for session %s: %v", sessionID, err)
		return 0, nil, false
	}
	return m.current.SceneIndex, fragments, true
}

// Close persists the held session one last time and stops the autosave
// schedule. The session stays open in the vault and can be resumed later.
func (m *Manager) Close() {
	m.mu.Lock()
	session := m.current
	m.stopAutosaveLocked()
	m.current = nil
	m.mu.Unlock()

	if session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.persist(ctx, session); err != nil {
		logrus.Warnf("failed to persist session %s on shutdown: %v", session.SessionID, err)
	}
}

// hold replaces the held session and restarts the autosave schedule.
func (m *Manager) hold(session *Session) {
	autosaveCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.current != nil && m.current.SessionID != session.SessionID {
		logrus.Warnf("replacing held session %s with %s", m.current.SessionID, session.SessionID)
	}
	m.stopAutosaveLocked()
	m.current = session
	m.stopAuto = cancel
	m.mu.Unlock()

	go m.runAutosave(autosaveCtx, session.SessionID)
}

// release drops the held session when its id matches.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.SessionID != sessionID {
		return
	}
	m.stopAutosaveLocked()
	m.current = nil
}

func (m *Manager) stopAutosaveLocked() {
	if m.stopAuto != nil {
		m.stopAuto()
		m.stopAuto = nil
	}
}

func (m *Manager) runAutosave(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(m.cfg.AutosaveInterval)
	defer ticker.Stop()

	logrus.Debugf("autosave started for session %s, interval %s", sessionID, m.cfg.AutosaveInterval)
	for {
		select {
		case <-ctx.Done():
			logrus.Debugf("autosave stopped for session %s", sessionID)
			return
		case <-ticker.C:
			m.autosave(ctx, sessionID)
		}
	}
}

// autosave re-persists the held session as-is. It does not refresh
// lastActive: an idle session must age toward the resume window.
func (m *Manager) autosave(ctx context.Context, sessionID string) {
	m.mu.Lock()
	if m.current == nil || m.current.SessionID != sessionID {
		m.mu.Unlock()
		return
	}
	current := m.current.clone()
	m.mu.Unlock()

	if err := m.persist(ctx, current); err != nil {
		metrics.AutosaveFailuresTotal.Inc()
		m.emitEvent(ctx, "autosave_failed", current, map[string]any{"error": err.Error()})
		logrus.Warnf("autosave for session %s failed, retrying next tick: %v", sessionID, err)
	}
}

// persist writes the session to the vault when online, falling back to a
// local snapshot plus a queued action so the work survives a restart and
// reaches the vault on the next drain.
func (m *Manager) persist(ctx context.Context, session *Session) error {
	record, err := session.ToRecord()
	if err != nil {
		return err
	}

	if m.sync.Online() {
		err := m.vault.Upsert(ctx, record)
		if err == nil {
			return nil
		}
		logrus.Warnf("direct persist for session %s failed, queueing instead: %v",
			session.SessionID, err)
	}
	return m.queueRecord(session, record)
}

func (m *Manager) queueRecord(session *Session, record backend.SessionRecord) error {
	fragments, err := session.fragments()
	if err == nil {
		if err := m.snapshots.Save(session.SessionID, session.SceneIndex, fragments); err != nil {
			logrus.Warnf("failed to snapshot session %s: %v", session.SessionID, err)
		}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record %s: %w", session.SessionID, err)
	}

	actionType := queue.TypeProgressUpdate
	if record.Status != backend.StatusOpen {
		actionType = queue.TypeScenarioCompletion
	}
	worldIndex := session.SceneIndex

	if _, err := m.sync.SaveAction(queue.Action{
		Type:       actionType,
		WorldIndex: &worldIndex,
		Payload:    payload,
	}); err != nil {
		return fmt.Errorf("failed to queue %s for session %s: %w", actionType, session.SessionID, err)
	}
	return nil
}

// queueAchievements records unlocked achievements as durable offline
// actions so they survive even when earned mid-outage.
func (m *Manager) queueAchievements(session *Session, results *Results) {
	for _, tag := range results.Achievements {
		payload, err := json.Marshal(backend.Event{
			Name:      "achievement_unlocked",
			SessionID: session.SessionID,
			UserID:    session.UserID,
			TenantID:  session.TenantID,
			At:        results.CompletedAt,
			Fields:    map[string]any{"achievement": tag, "score": results.Score},
		})
		if err != nil {
			logrus.Errorf("failed to marshal achievement %s: %v", tag, err)
			continue
		}
		if _, err := m.sync.SaveAction(queue.Action{
			Type:    queue.TypeAchievementUnlock,
			Payload: payload,
		}); err != nil {
			logrus.Warnf("failed to queue achievement %s for session %s: %v",
				tag, session.SessionID, err)
		}
	}
}

// emitEvent sends a fire-and-forget analytics event. Failures are logged
// and ignored: analytics never block or fail an interactive call.
func (m *Manager) emitEvent(ctx context.Context, name string, session *Session, fields map[string]any) {
	if m.analytics == nil {
		return
	}
	event := backend.Event{
		Name:      name,
		SessionID: session.SessionID,
		UserID:    session.UserID,
		TenantID:  session.TenantID,
		At:        m.now(),
		Fields:    fields,
	}
	if err := m.analytics.Insert(ctx, event); err != nil {
		logrus.Debugf("analytics event %s for session %s dropped: %v", name, session.SessionID, err)
	}
}
