package memory

import (
	"context"
	"sort"
	"sync"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

// ProfileStore is an in-memory implementation of storage.ProfileStore.
type ProfileStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Profile // keyed by profile id
}

// NewProfileStore creates a new in-memory profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		data: make(map[string]*domain.Profile),
	}
}

// Insert adds a new profile. Returns ErrDuplicateKey if the ID exists.
func (s *ProfileStore) Insert(_ context.Context, p *domain.Profile) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}

	profileCopy := *p
	s.data[p.ID] = &profileCopy
	return nil
}

// GetByID retrieves a profile by its ID. Returns ErrNotFound if not exists.
func (s *ProfileStore) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	profileCopy := *p
	return &profileCopy, nil
}

// Query returns up to q.Limit matching profiles after q.AfterID, in ID order.
func (s *ProfileStore) Query(_ context.Context, q storage.ProfileQuery) ([]*domain.Profile, error) {
	if q.Limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	excluded := make(map[string]struct{}, len(q.ExcludeIDs))
	for _, id := range q.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	s.mu.RLock()
	var result []*domain.Profile
	for id, p := range s.data {
		if id <= q.AfterID {
			continue
		}
		if _, skip := excluded[id]; skip {
			continue
		}
		if !q.Fragment.Matches(*p) {
			continue
		}
		profileCopy := *p
		result = append(result, &profileCopy)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	if len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.ProfileStore = (*ProfileStore)(nil)
