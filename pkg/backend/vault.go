package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	// SessionKeyPrefix is the prefix for all session record keys.
	SessionKeyPrefix = "sessioncore:session:"
	// UserOpenKeyPrefix is the prefix for the per-user open session index.
	UserOpenKeyPrefix = "sessioncore:user_open:"
	// OpenByActivityKey indexes every open session by last-active time.
	OpenByActivityKey = "sessioncore:open_by_activity"
	// PrefsKeyPrefix is the prefix for stored user preference documents.
	PrefsKeyPrefix = "sessioncore:prefs:"

	// DefaultRetention is how long session records stay in the vault (30 days).
	DefaultRetention = 30 * 24 * time.Hour
)

// RedisVaultConfig tunes a RedisVault.
type RedisVaultConfig struct {
	Retention time.Duration
}

// RedisVault is the Redis-backed SessionVault. Records are stored as JSON
// under session-id keys with a retention TTL; two sorted-set indexes (per
// user and global, both scored by last-active time) back the resumption
// and cleanup queries. Index maintenance is best-effort: the record itself
// is the source of truth.
type RedisVault struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisVault creates a vault over client.
func NewRedisVault(client *redis.Client, cfg RedisVaultConfig) *RedisVault {
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisVault{client: client, retention: retention}
}

func makeSessionKey(sessionID string) string {
	return SessionKeyPrefix + sessionID
}

func makeUserOpenKey(userID string) string {
	return UserOpenKeyPrefix + userID
}

func makePrefsKey(userID string) string {
	return PrefsKeyPrefix + userID
}

// Upsert writes the record and refreshes the open-session indexes.
func (v *RedisVault) Upsert(ctx context.Context, record SessionRecord) error {
	if record.SessionID == "" {
		return fmt.Errorf("session id is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", record.SessionID, err)
	}

	if err := v.client.Set(ctx, makeSessionKey(record.SessionID), data, v.retention).Err(); err != nil {
		logrus.Errorf("failed to upsert session %s: %v", record.SessionID, err)
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if record.Status == StatusOpen {
		member := &redis.Z{
			Score:  float64(record.LastActive.Unix()),
			Member: record.SessionID,
		}
		if err := v.client.ZAdd(ctx, makeUserOpenKey(record.UserID), member).Err(); err != nil {
			logrus.Warnf("failed to index session %s for user %s: %v", record.SessionID, record.UserID, err)
		}
		if err := v.client.ZAdd(ctx, OpenByActivityKey, member).Err(); err != nil {
			logrus.Warnf("failed to index session %s by activity: %v", record.SessionID, err)
		}
		v.client.Expire(ctx, makeUserOpenKey(record.UserID), v.retention)
	} else {
		v.client.ZRem(ctx, makeUserOpenKey(record.UserID), record.SessionID)
		v.client.ZRem(ctx, OpenByActivityKey, record.SessionID)
	}

	logrus.Debugf("upserted session %s (status %s)", record.SessionID, record.Status)
	return nil
}

// Select fetches the record for sessionID. Returns ErrNotFound when the
// vault has no record.
func (v *RedisVault) Select(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := v.client.Get(ctx, makeSessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		logrus.Errorf("failed to select session %s: %v", sessionID, err)
		return nil, fmt.Errorf("failed to select session: %w", err)
	}

	var record SessionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &record, nil
}

// Delete removes the record and its index entries.
func (v *RedisVault) Delete(ctx context.Context, sessionID string) error {
	record, err := v.Select(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := v.client.Del(ctx, makeSessionKey(sessionID)).Err(); err != nil {
		logrus.Errorf("failed to delete session %s: %v", sessionID, err)
		return fmt.Errorf("failed to delete session: %w", err)
	}

	v.client.ZRem(ctx, OpenByActivityKey, sessionID)
	if record != nil {
		v.client.ZRem(ctx, makeUserOpenKey(record.UserID), sessionID)
	}

	logrus.Infof("deleted session %s", sessionID)
	return nil
}

// ListOpenByUser returns the user's open sessions, newest activity first,
// at most limit of them. Index entries whose record has expired or closed
// are pruned on the way.
func (v *RedisVault) ListOpenByUser(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	ids, err := v.client.ZRevRange(ctx, makeUserOpenKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		logrus.Errorf("failed to list open sessions for user %s: %v", userID, err)
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}

	records := make([]SessionRecord, 0, len(ids))
	for _, id := range ids {
		record, err := v.Select(ctx, id)
		if errors.Is(err, ErrNotFound) {
			v.client.ZRem(ctx, makeUserOpenKey(userID), id)
			v.client.ZRem(ctx, OpenByActivityKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if record.Status != StatusOpen {
			continue
		}
		records = append(records, *record)
	}
	return records, nil
}

// OpenSessionsBefore returns the ids of open sessions whose last activity
// is at or before cutoff.
func (v *RedisVault) OpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := v.client.ZRangeByScore(ctx, OpenByActivityKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		logrus.Errorf("failed to query stale open sessions: %v", err)
		return nil, fmt.Errorf("failed to query stale open sessions: %w", err)
	}
	return ids, nil
}

// SavePreferences stores a user's preference document.
func (v *RedisVault) SavePreferences(ctx context.Context, userID string, prefs json.RawMessage) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	if err := v.client.Set(ctx, makePrefsKey(userID), string(prefs), v.retention).Err(); err != nil {
		logrus.Errorf("failed to save preferences for user %s: %v", userID, err)
		return fmt.Errorf("failed to save preferences: %w", err)
	}

	logrus.Debugf("saved preferences for user %s", userID)
	return nil
}

// Ping checks backend reachability.
func (v *RedisVault) Ping(ctx context.Context) error {
	return v.client.Ping(ctx).Err()
}
