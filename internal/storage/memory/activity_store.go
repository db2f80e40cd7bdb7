package memory

import (
	"context"
	"sort"
	"sync"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

// ActivityStore is an in-memory implementation of storage.ActivityStore.
type ActivityStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.Activity // keyed by user id
	ids  map[string]struct{}
}

// NewActivityStore creates a new in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{
		data: make(map[string][]*domain.Activity),
		ids:  make(map[string]struct{}),
	}
}

// Insert appends an activity. Returns ErrDuplicateKey if the ID exists.
func (s *ActivityStore) Insert(_ context.Context, a *domain.Activity) error {
	if a == nil || a.ID == "" || a.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[a.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.ids[a.ID] = struct{}{}
	s.data[a.UserID] = append(s.data[a.UserID], copyActivity(a))
	return nil
}

// GetByUser retrieves all activities of a user, ordered by created_at ASC.
func (s *ActivityStore) GetByUser(_ context.Context, userID string) ([]*domain.Activity, error) {
	return s.filter(userID, func(*domain.Activity) bool { return true }), nil
}

// GetByTimeRange retrieves a user's activities within [start, end] (inclusive).
func (s *ActivityStore) GetByTimeRange(_ context.Context, userID string, start, end int64) ([]*domain.Activity, error) {
	return s.filter(userID, func(a *domain.Activity) bool {
		return a.CreatedAt >= start && a.CreatedAt <= end
	}), nil
}

func (s *ActivityStore) filter(userID string, keep func(*domain.Activity) bool) []*domain.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Activity
	for _, a := range s.data[userID] {
		if keep(a) {
			result = append(result, copyActivity(a))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result
}

func copyActivity(a *domain.Activity) *domain.Activity {
	out := *a
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Verify interface compliance at compile time.
var _ storage.ActivityStore = (*ActivityStore)(nil)
