package staging

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used for development (STAGING_BACKEND=memory)
// and tests. Records are deep-copied on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]PendingRegistration
	bindings map[string]OrderBinding
	orders   map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]PendingRegistration),
		bindings: make(map[string]OrderBinding),
		orders:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Create(ctx context.Context, reg *PendingRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[reg.StagingID]; ok {
		return ErrExists
	}
	s.records[reg.StagingID] = copyRegistration(*reg)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, stagingID string) (*PendingRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.records[stagingID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRegistration(reg)
	return &out, nil
}

func (s *MemoryStore) Remove(ctx context.Context, stagingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, stagingID)
	for orderID := range s.orders[stagingID] {
		delete(s.bindings, orderID)
	}
	delete(s.orders, stagingID)
	return nil
}

func (s *MemoryStore) ListOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-age)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, reg := range s.records {
		if !reg.CreatedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) BindOrder(ctx context.Context, binding OrderBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bindings[binding.OrderID]; ok && existing.StagingID != binding.StagingID {
		return ErrOrderConflict
	}
	s.bindings[binding.OrderID] = binding
	if s.orders[binding.StagingID] == nil {
		s.orders[binding.StagingID] = make(map[string]struct{})
	}
	s.orders[binding.StagingID][binding.OrderID] = struct{}{}
	return nil
}

func (s *MemoryStore) LookupOrder(ctx context.Context, orderID string) (*OrderBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) OrdersFor(ctx context.Context, stagingID string) ([]OrderBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OrderBinding, 0, len(s.orders[stagingID]))
	for orderID := range s.orders[stagingID] {
		out = append(out, s.bindings[orderID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Len returns the number of live staging records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyRegistration(in PendingRegistration) PendingRegistration {
	out := in
	out.Artifacts = append([]ArtifactRef(nil), in.Artifacts...)
	out.Profile.SelectedServices = append([]string(nil), in.Profile.SelectedServices...)
	return out
}
