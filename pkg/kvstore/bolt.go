package kvstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

const dataBucket = "sessioncore"

// BoltStore is a Store backed by a single-file bbolt database on the device.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens a bbolt-backed store at path, creating the file if needed.
func OpenBolt(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store at %s: %w", path, err)
	}

	store := &BoltStore{db: db}
	if err := store.ensureBucket(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logrus.Infof("opened local store at %s", path)
	return store, nil
}

func (s *BoltStore) ensureBucket() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(dataBucket)); err != nil {
			return fmt.Errorf("failed to create data bucket: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) Get(key string, out any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket([]byte(dataBucket)).Get([]byte(key))
		if payload == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to unmarshal value for key %s: %w", key, err)
		}
		return nil
	})
}

func (s *BoltStore) Set(key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(dataBucket)).Put([]byte(key), payload)
	})
}

func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(dataBucket)).Delete([]byte(key))
	})
}

func (s *BoltStore) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(dataBucket)).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
