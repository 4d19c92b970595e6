package calls

import (
	"context"
	"errors"
	"sync"
)

// Store persists call configs keyed by conversation id.
//
// Get on an absent key returns (nil, false, nil); absence is never an error.
// Implementations must be safe for concurrent use across many calls.
type Store interface {
	Save(ctx context.Context, id string, cfg CallConfig) error
	Get(ctx context.Context, id string) (CallConfig, bool, error)
	Delete(ctx context.Context, id string) error
}

var ErrEmptyID = errors.New("calls: conversation id is required")

// MemoryStore keeps serialized records in process memory.
// Records are stored encoded so callers never share a value with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Save(ctx context.Context, id string, cfg CallConfig) error {
	if id == "" {
		return ErrEmptyID
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (CallConfig, bool, error) {
	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	cfg, err := Unmarshal(data)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
