package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/civiclearn/sessioncore/pkg/backend"
	"github.com/civiclearn/sessioncore/pkg/queue"
)

// PreferenceChange is the payload carried by preference_change actions.
type PreferenceChange struct {
	UserID      string          `json:"userId"`
	Preferences json.RawMessage `json:"preferences"`
}

// Sender turns queued actions into remote backend calls. Progress and
// completion actions carry full session records and land in the vault;
// achievement and work-preservation actions land in the analytics stream.
type Sender struct {
	vault     backend.SessionVault
	analytics backend.AnalyticsSink
}

// NewSender creates a sender over the two remote backends.
func NewSender(vault backend.SessionVault, analytics backend.AnalyticsSink) *Sender {
	return &Sender{vault: vault, analytics: analytics}
}

// SendFunc exposes the sender as a queue delivery function.
func (s *Sender) SendFunc() queue.SendFunc {
	return s.Send
}

// Send delivers one action. An error keeps the action queued for a retry.
func (s *Sender) Send(ctx context.Context, action queue.Action) error {
	switch action.Type {
	case queue.TypeProgressUpdate, queue.TypeScenarioCompletion:
		var record backend.SessionRecord
		if err := json.Unmarshal(action.Payload, &record); err != nil {
			return fmt.Errorf("failed to decode session record payload: %w", err)
		}
		return s.vault.Upsert(ctx, record)

	case queue.TypePreferenceChange:
		var change PreferenceChange
		if err := json.Unmarshal(action.Payload, &change); err != nil {
			return fmt.Errorf("failed to decode preference payload: %w", err)
		}
		return s.vault.SavePreferences(ctx, change.UserID, change.Preferences)

	case queue.TypeAchievementUnlock, queue.TypeWorkPreservation:
		var event backend.Event
		if err := json.Unmarshal(action.Payload, &event); err != nil {
			return fmt.Errorf("failed to decode event payload: %w", err)
		}
		return s.analytics.Insert(ctx, event)

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}
