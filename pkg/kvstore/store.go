package kvstore

import "errors"

// ErrNotFound indicates that a key has no value in the store.
var ErrNotFound = errors.New("key not found")

// Store is a typed local key-value store. Values are serialized internally
// as JSON; callers never see the on-device encoding, so the format can be
// swapped without touching call sites.
type Store interface {
	// Get reads the value stored under key into out.
	// Returns ErrNotFound if the key is absent.
	Get(key string, out any) error

	// Set writes value under key, replacing any previous value.
	Set(key string, value any) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys returns all keys that begin with prefix.
	Keys(prefix string) ([]string, error)

	// Close releases the underlying storage.
	Close() error
}
