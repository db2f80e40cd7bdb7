package storage

import (
	"context"

	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
)

// ProfileQuery selects a page of profiles in ID order.
type ProfileQuery struct {
	Fragment   filter.QueryFragment
	ExcludeIDs []string // never returned, e.g. the viewer and profiles already swiped
	AfterID    string   // keyset position; empty starts from the beginning
	Limit      int
}

// ProfileStore provides access to profiles storage.
type ProfileStore interface {
	// Insert adds a new profile. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, p *domain.Profile) error

	// GetByID retrieves a profile by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Profile, error)

	// Query returns up to q.Limit profiles matching the fragment with ID > q.AfterID,
	// ordered by ID ASC.
	Query(ctx context.Context, q ProfileQuery) ([]*domain.Profile, error)
}

// SwipeStore provides access to swipes storage.
type SwipeStore interface {
	// Insert adds a new swipe. Returns ErrDuplicateKey if the swipe ID exists
	// and ErrAlreadySwiped if the swiper has a standing swipe on the candidate.
	Insert(ctx context.Context, s *domain.Swipe) error

	// GetByID retrieves a swipe by its ID, undone or not. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Swipe, error)

	// MarkUndone sets UndoneAt on a standing swipe. Returns ErrNotFound if the ID
	// does not exist; a swipe already undone is left unchanged.
	MarkUndone(ctx context.Context, id string, undoneAt int64) error

	// ListBySwiper retrieves the standing swipes made by a user, ordered by created_at ASC.
	ListBySwiper(ctx context.Context, swiperID string) ([]*domain.Swipe, error)

	// CountReceived counts standing swipes on a user with one of the given decisions.
	CountReceived(ctx context.Context, candidateID string, decisions []domain.Decision) (int, error)
}

// ActivityStore provides access to the gamification activity log.
type ActivityStore interface {
	// Insert appends an activity. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, a *domain.Activity) error

	// GetByUser retrieves all activities of a user, ordered by created_at ASC.
	GetByUser(ctx context.Context, userID string) ([]*domain.Activity, error)

	// GetByTimeRange retrieves a user's activities within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, userID string, start, end int64) ([]*domain.Activity, error)
}
