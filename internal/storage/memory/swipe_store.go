package memory

import (
	"context"
	"sort"
	"sync"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

// SwipeStore is an in-memory implementation of storage.SwipeStore.
type SwipeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Swipe // keyed by swipe id
}

// NewSwipeStore creates a new in-memory swipe store.
func NewSwipeStore() *SwipeStore {
	return &SwipeStore{
		data: make(map[string]*domain.Swipe),
	}
}

// Insert adds a new swipe. Returns ErrDuplicateKey if the swipe ID exists
// and ErrAlreadySwiped if the pair already has a standing swipe.
func (s *SwipeStore) Insert(_ context.Context, sw *domain.Swipe) error {
	if sw == nil || sw.ID == "" || sw.SwiperID == "" || sw.CandidateID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sw.ID]; exists {
		return storage.ErrDuplicateKey
	}
	for _, other := range s.data {
		if other.UndoneAt == 0 && other.SwiperID == sw.SwiperID && other.CandidateID == sw.CandidateID {
			return storage.ErrAlreadySwiped
		}
	}

	swipeCopy := *sw
	s.data[sw.ID] = &swipeCopy
	return nil
}

// GetByID retrieves a swipe by its ID. Returns ErrNotFound if not exists.
func (s *SwipeStore) GetByID(_ context.Context, id string) (*domain.Swipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sw, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	swipeCopy := *sw
	return &swipeCopy, nil
}

// MarkUndone sets UndoneAt on a standing swipe.
func (s *SwipeStore) MarkUndone(_ context.Context, id string, undoneAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if sw.UndoneAt == 0 {
		sw.UndoneAt = undoneAt
	}
	return nil
}

// ListBySwiper retrieves the standing swipes made by a user.
func (s *SwipeStore) ListBySwiper(_ context.Context, swiperID string) ([]*domain.Swipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Swipe
	for _, sw := range s.data {
		if sw.SwiperID == swiperID && sw.UndoneAt == 0 {
			swipeCopy := *sw
			result = append(result, &swipeCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// CountReceived counts standing swipes on a user with one of the given decisions.
func (s *SwipeStore) CountReceived(_ context.Context, candidateID string, decisions []domain.Decision) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sw := range s.data {
		if sw.CandidateID != candidateID || sw.UndoneAt != 0 {
			continue
		}
		for _, d := range decisions {
			if sw.Decision == d {
				count++
				break
			}
		}
	}
	return count, nil
}

// Verify interface compliance at compile time.
var _ storage.SwipeStore = (*SwipeStore)(nil)
