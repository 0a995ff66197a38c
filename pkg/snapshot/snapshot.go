// Package snapshot persists point-in-time captures of a session's unsaved
// work so it can be restored after a crash or a corrupting fault.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/civiclearn/sessioncore/pkg/kvstore"
	"github.com/civiclearn/sessioncore/pkg/metrics"
)

const (
	// KeyPrefix is the prefix for all work snapshot keys in local storage.
	KeyPrefix = "sessioncore:snapshot:"
	// DefaultValidity is how long a snapshot is trusted for restore.
	DefaultValidity = 24 * time.Hour
)

// ErrNotFound indicates that no trustworthy snapshot exists for a session.
// Callers treat it as "no recoverable work", not as a failure.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is one recoverable capture of in-progress work.
type Snapshot struct {
	SessionID  string                     `json:"sessionId"`
	WorldIndex int                        `json:"worldIndex"`
	Fragments  map[string]json.RawMessage `json:"fragments"`
	SavedAt    time.Time                  `json:"savedAt"`
	Checksum   string                     `json:"checksum"`
}

// Store reads and writes snapshots in local storage. A session id holds at
// most one snapshot; saves overwrite.
type Store struct {
	local    kvstore.Store
	validity time.Duration
	now      func() time.Time
}

// NewStore creates a snapshot store over local. A non-positive validity
// falls back to DefaultValidity.
func NewStore(local kvstore.Store, validity time.Duration) *Store {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Store{
		local:    local,
		validity: validity,
		now:      time.Now,
	}
}

func makeKey(sessionID string) string {
	return KeyPrefix + sessionID
}

// Save captures fragments for sessionID, replacing any prior snapshot.
// The checksum is computed over the canonical JSON encoding of the
// fragments, which is also the form stored, so a later Load can verify it
// byte for byte.
func (s *Store) Save(sessionID string, worldIndex int, fragments map[string]json.RawMessage) error {
	payload, err := json.Marshal(fragments)
	if err != nil {
		return fmt.Errorf("failed to marshal fragments for session %s: %w", sessionID, err)
	}

	var normalized map[string]json.RawMessage
	if err := json.Unmarshal(payload, &normalized); err != nil {
		return fmt.Errorf("failed to normalize fragments for session %s: %w", sessionID, err)
	}

	sum := sha256.Sum256(payload)
	snap := Snapshot{
		SessionID:  sessionID,
		WorldIndex: worldIndex,
		Fragments:  normalized,
		SavedAt:    s.now(),
		Checksum:   hex.EncodeToString(sum[:]),
	}

	if err := s.local.Set(makeKey(sessionID), snap); err != nil {
		logrus.Errorf("failed to save snapshot for session %s: %v", sessionID, err)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	metrics.SnapshotSavesTotal.Inc()
	logrus.Debugf("saved snapshot for session %s (world %d, %d fragments)",
		sessionID, worldIndex, len(normalized))
	return nil
}

// Load returns the snapshot for sessionID. It returns ErrNotFound when the
// snapshot is absent, fails its checksum, or is older than the validity
// window. Corrupt entries are deleted on sight.
func (s *Store) Load(sessionID string) (*Snapshot, error) {
	key := makeKey(sessionID)

	var snap Snapshot
	err := s.local.Get(key, &snap)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.SnapshotCorruptionsTotal.Inc()
		logrus.Warnf("unreadable snapshot for session %s, discarding: %v", sessionID, err)
		_ = s.local.Delete(key)
		return nil, ErrNotFound
	}

	payload, err := json.Marshal(snap.Fragments)
	if err != nil {
		return nil, ErrNotFound
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != snap.Checksum {
		metrics.SnapshotCorruptionsTotal.Inc()
		logrus.Warnf("snapshot checksum mismatch for session %s, discarding", sessionID)
		_ = s.local.Delete(key)
		return nil, ErrNotFound
	}

	if s.now().Sub(snap.SavedAt) > s.validity {
		logrus.Debugf("snapshot for session %s is older than %v, ignoring", sessionID, s.validity)
		return nil, ErrNotFound
	}

	return &snap, nil
}

// Delete removes the snapshot for sessionID, if any.
func (s *Store) Delete(sessionID string) error {
	return s.local.Delete(makeKey(sessionID))
}

// EvictExpired removes every snapshot older than the validity window and
// returns the number removed. Safe to run concurrently with saves since the
// newest write for a session id wins.
func (s *Store) EvictExpired() int {
	keys, err := s.local.Keys(KeyPrefix)
	if err != nil {
		logrus.Errorf("failed to list snapshots for eviction: %v", err)
		return 0
	}

	evicted := 0
	now := s.now()
	for _, key := range keys {
		var snap Snapshot
		if err := s.local.Get(key, &snap); err != nil {
			if errors.Is(err, kvstore.ErrNotFound) {
				continue
			}
			// Unreadable entries count as expired.
			if s.local.Delete(key) == nil {
				evicted++
			}
			continue
		}
		if now.Sub(snap.SavedAt) > s.validity {
			if err := s.local.Delete(key); err != nil {
				logrus.Warnf("failed to evict snapshot %s: %v", key, err)
				continue
			}
			evicted++
		}
	}

	if evicted > 0 {
		metrics.SnapshotEvictionsTotal.Add(float64(evicted))
		logrus.Infof("evicted %d expired snapshots", evicted)
	}
	return evicted
}

// RunEvictions runs EvictExpired on the given interval until ctx is
// cancelled.
func (s *Store) RunEvictions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictExpired()
		}
	}
}
