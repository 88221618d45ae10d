package palsync

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Collection names used by the dashboard core. Values under a collection are
// opaque to the store itself.
const (
	CollectionClients       = "clients"
	CollectionTasks         = "client_tasks"
	CollectionApprovals     = "client_approvals"
	CollectionComments      = "comments"
	CollectionContracts     = "contracts"
	CollectionNotifications = "notifications"
	CollectionOutbox        = "ops_outbox"
	CollectionThresholds    = "ops_thresholds"
)

// LocalStore is the durable local-first medium: a synchronous key/value
// store keyed by logical collection name. Implementations must make Set
// atomic per collection; they are not required to coordinate readers and
// writers beyond that.
type LocalStore interface {
	// Get unmarshals the collection value into out and reports whether the
	// collection exists.
	Get(collection string, out any) (bool, error)
	Set(collection string, value any) error
	Delete(collection string) error
	Close() error
}

type memoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemoryStore returns a volatile LocalStore. Values are stored as
// serialized JSON so callers always get an independent copy back.
func NewMemoryStore() LocalStore {
	return &memoryStore{data: map[string]json.RawMessage{}}
}

func (s *memoryStore) Get(collection string, out any) (bool, error) {
	if collection == "" {
		return false, ErrInvalidInput
	}
	s.mu.RLock()
	raw, ok := s.data[collection]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode collection %s: %w", collection, err)
	}
	return true, nil
}

func (s *memoryStore) Set(collection string, value any) error {
	if collection == "" {
		return ErrInvalidInput
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", collection, err)
	}
	s.mu.Lock()
	s.data[collection] = raw
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(collection string) error {
	if collection == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	delete(s.data, collection)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
