// Package session owns the canonical in-memory training session: starting,
// resuming, applying user work, autosaving, completing and cleaning up.
// One manager holds at most one open session at a time.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/civiclearn/sessioncore/pkg/backend"
)

// Device classes reported by the presentation layer.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// maxIdleGap bounds how much time between two interactions still counts as
// active play. Longer gaps are idle and add nothing to the active time.
const maxIdleGap = 5 * time.Minute

// SceneResult is the outcome of one finished scene.
type SceneResult struct {
	SceneID    string          `json:"sceneId"`
	Score      float64         `json:"score"`
	MaxScore   float64         `json:"maxScore"`
	Data       json.RawMessage `json:"data,omitempty"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Session is one user's attempt at a training game.
type Session struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	TenantID  string `json:"tenantId"`
	GameID    string `json:"gameId"`

	CurrentSceneID  string                 `json:"currentSceneId,omitempty"`
	SceneIndex      int                    `json:"sceneIndex"`
	CompletedScenes []string               `json:"completedScenes"`
	SceneResults    map[string]SceneResult `json:"sceneResults"`

	CulturalContext string `json:"culturalContext,omitempty"`
	DeviceClass     string `json:"deviceClass,omitempty"`

	Status     string        `json:"status"`
	StartedAt  time.Time     `json:"startedAt"`
	LastActive time.Time     `json:"lastActive"`
	ActiveTime time.Duration `json:"activeTime"`
}

// Delta is one unit of user work: a scene transition, a result for the
// scene just finished, or both.
type Delta struct {
	// CurrentSceneID is the scene the user is now on. Empty keeps the
	// current one.
	CurrentSceneID string `json:"currentSceneId,omitempty"`
	// SceneIndex is the position of the current scene. Negative keeps the
	// current one.
	SceneIndex int `json:"sceneIndex"`
	// Result records a finished scene and marks it completed.
	Result *SceneResult `json:"result,omitempty"`
}

// Results is the terminal summary Complete returns.
type Results struct {
	SessionID       string        `json:"sessionId"`
	Score           float64       `json:"score"`
	CompletedScenes int           `json:"completedScenes"`
	ActiveTime      time.Duration `json:"activeTime"`
	Achievements    []string      `json:"achievements,omitempty"`
	CompletedAt     time.Time     `json:"completedAt"`
}

// ToRecord wraps the session in its vault envelope.
func (s *Session) ToRecord() (backend.SessionRecord, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return backend.SessionRecord{}, fmt.Errorf("failed to marshal session %s: %w", s.SessionID, err)
	}
	return backend.SessionRecord{
		SessionID:  s.SessionID,
		UserID:     s.UserID,
		TenantID:   s.TenantID,
		Status:     s.Status,
		LastActive: s.LastActive,
		Payload:    payload,
	}, nil
}

// FromRecord unpacks a vault record. The payload is authoritative.
func FromRecord(record backend.SessionRecord) (*Session, error) {
	var s Session
	if err := json.Unmarshal(record.Payload, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", record.SessionID, err)
	}
	return &s, nil
}

// apply merges one delta and refreshes activity times.
func (s *Session) apply(delta Delta, now time.Time) {
	if delta.CurrentSceneID != "" {
		s.CurrentSceneID = delta.CurrentSceneID
	}
	if delta.SceneIndex >= 0 {
		s.SceneIndex = delta.SceneIndex
	}
	if delta.Result != nil {
		result := *delta.Result
		if result.SceneID == "" {
			result.SceneID = s.CurrentSceneID
		}
		if result.FinishedAt.IsZero() {
			result.FinishedAt = now
		}
		if s.SceneResults == nil {
			s.SceneResults = make(map[string]SceneResult)
		}
		s.SceneResults[result.SceneID] = result
		s.markCompleted(result.SceneID)
	}
	s.touch(now)
}

func (s *Session) markCompleted(sceneID string) {
	for _, id := range s.CompletedScenes {
		if id == sceneID {
			return
		}
	}
	s.CompletedScenes = append(s.CompletedScenes, sceneID)
}

// touch refreshes lastActive and accumulates active time.
func (s *Session) touch(now time.Time) {
	gap := now.Sub(s.LastActive)
	if gap > 0 && gap <= maxIdleGap {
		s.ActiveTime += gap
	}
	s.LastActive = now
}

// clone deep-copies the session so persistence can marshal it outside the
// manager's lock.
func (s *Session) clone() *Session {
	out := *s

	out.CompletedScenes = make([]string, len(s.CompletedScenes))
	copy(out.CompletedScenes, s.CompletedScenes)

	out.SceneResults = make(map[string]SceneResult, len(s.SceneResults))
	for id, result := range s.SceneResults {
		out.SceneResults[id] = result
	}
	return &out
}

// fragments captures the session's recoverable progress for the snapshot
// store.
func (s *Session) fragments() (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session %s: %w", s.SessionID, err)
	}
	return map[string]json.RawMessage{"session": raw}, nil
}
