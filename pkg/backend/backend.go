// Package backend talks to the municipal platform's remote stores: the
// session vault that holds canonical session records and the analytics
// stream that receives fire-and-forget events. Both are treated as
// unreliable, possibly slow collaborators.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Session record status values shared with the lifecycle manager.
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// ErrNotFound indicates that no record exists for the session id.
var ErrNotFound = errors.New("session record not found")

// SessionRecord is the session document exchanged with the vault. The
// lifecycle manager owns the payload's shape; the vault reads only the
// envelope fields it needs for indexing.
type SessionRecord struct {
	SessionID  string          `json:"sessionId"`
	UserID     string          `json:"userId"`
	TenantID   string          `json:"tenantId"`
	Status     string          `json:"status"`
	LastActive time.Time       `json:"lastActive"`
	Payload    json.RawMessage `json:"payload"`
}

// SessionVault is the remote persistence backend for session records.
type SessionVault interface {
	Upsert(ctx context.Context, record SessionRecord) error
	Select(ctx context.Context, sessionID string) (*SessionRecord, error)
	Delete(ctx context.Context, sessionID string) error
	ListOpenByUser(ctx context.Context, userID string, limit int) ([]SessionRecord, error)
	OpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	SavePreferences(ctx context.Context, userID string, prefs json.RawMessage) error
	Ping(ctx context.Context) error
}

// Event is one analytics record.
type Event struct {
	Name      string         `json:"name"`
	SessionID string         `json:"sessionId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	TenantID  string         `json:"tenantId,omitempty"`
	At        time.Time      `json:"at"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// AnalyticsSink receives analytics events. Callers on interactive paths
// ignore the returned error; only the offline queue uses it to decide
// whether a delivery needs a retry.
type AnalyticsSink interface {
	Insert(ctx context.Context, event Event) error
}
