package store

import (
	"context"
	"sort"
	"sync"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
)

// MemoryStore is the in-process ContactStore. A dedicated mutex per identity
// key serializes commits to the same contact while leaving unrelated keys
// free to proceed in parallel.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.ContactRecord

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.ContactRecord),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*models.ContactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[key].Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, rec *models.ContactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec.Clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	next, err := fn(existing)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	return s.Put(ctx, key, next)
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.ContactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ContactRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) keyLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}
