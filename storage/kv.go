package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// KVStore layers a typed get/put API over a raw Database. Values are stored as
// JSON documents so aggregates can evolve without a migration step.
type KVStore struct {
	db Database
}

// NewKVStore wraps the provided database.
func NewKVStore(db Database) *KVStore {
	return &KVStore{db: db}
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (s *KVStore) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("storage: kv store not configured")
	}
	raw, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut encodes value as JSON and stores it under key.
func (s *KVStore) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: kv store not configured")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.db.Put(key, raw)
}
