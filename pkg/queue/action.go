package queue

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Action types understood by the sync engine's sender.
const (
	TypeProgressUpdate     = "progress_update"
	TypeAchievementUnlock  = "achievement_unlock"
	TypeScenarioCompletion = "scenario_completion"
	TypePreferenceChange   = "preference_change"
	TypeWorkPreservation   = "work_preservation"
)

// Action is one pending mutation awaiting delivery to the remote backend.
// Once enqueued an action is immutable except for its retry count.
type Action struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	WorldIndex *int            `json:"worldIndex,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
}

// newActionID generates a time-ordered unique id so persisted actions sort
// in enqueue order.
func newActionID(now time.Time) string {
	entropy := rand.New(rand.NewSource(now.UnixNano()))
	return ulid.MustNew(ulid.Timestamp(now), ulid.Monotonic(entropy, 0)).String()
}
