package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

// SwipeStore implements storage.SwipeStore using PostgreSQL.
type SwipeStore struct {
	pool *Pool
}

// NewSwipeStore creates a new SwipeStore.
func NewSwipeStore(pool *Pool) *SwipeStore {
	return &SwipeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwipeStore = (*SwipeStore)(nil)

// Insert adds a new swipe. Returns ErrDuplicateKey if the swipe ID exists
// and ErrAlreadySwiped if the pair already has a standing swipe.
func (s *SwipeStore) Insert(ctx context.Context, sw *domain.Swipe) error {
	if sw == nil || sw.ID == "" || sw.SwiperID == "" || sw.CandidateID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO swipes (id, swiper_id, candidate_id, decision, created_at, undone_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		sw.ID,
		sw.SwiperID,
		sw.CandidateID,
		string(sw.Decision),
		sw.CreatedAt,
		sw.UndoneAt,
	)
	observe("swipe_insert", start, err)
	if err != nil {
		if isStandingPairViolation(err) {
			return storage.ErrAlreadySwiped
		}
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert swipe: %w", err)
	}
	return nil
}

// GetByID retrieves a swipe by its ID. Returns ErrNotFound if not exists.
func (s *SwipeStore) GetByID(ctx context.Context, id string) (*domain.Swipe, error) {
	query := `
		SELECT id, swiper_id, candidate_id, decision, created_at, undone_at
		FROM swipes
		WHERE id = $1
	`

	start := time.Now()
	sw, err := scanSwipe(s.pool.QueryRow(ctx, query, id))
	observe("swipe_get", start, err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get swipe by id: %w", err)
	}
	return sw, nil
}

// MarkUndone sets undone_at on a standing swipe.
func (s *SwipeStore) MarkUndone(ctx context.Context, id string, undoneAt int64) error {
	query := `
		UPDATE swipes
		SET undone_at = CASE WHEN undone_at = 0 THEN $2 ELSE undone_at END
		WHERE id = $1
	`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, id, undoneAt)
	observe("swipe_undo", start, err)
	if err != nil {
		return fmt.Errorf("mark swipe undone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListBySwiper retrieves the standing swipes made by a user.
func (s *SwipeStore) ListBySwiper(ctx context.Context, swiperID string) ([]*domain.Swipe, error) {
	query := `
		SELECT id, swiper_id, candidate_id, decision, created_at, undone_at
		FROM swipes
		WHERE swiper_id = $1 AND undone_at = 0
		ORDER BY created_at ASC, id ASC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, swiperID)
	if err != nil {
		observe("swipe_list", start, err)
		return nil, fmt.Errorf("list swipes by swiper: %w", err)
	}
	defer rows.Close()

	swipes, err := scanSwipes(rows)
	observe("swipe_list", start, err)
	return swipes, err
}

// CountReceived counts standing swipes on a user with one of the given decisions.
func (s *SwipeStore) CountReceived(ctx context.Context, candidateID string, decisions []domain.Decision) (int, error) {
	values := make([]string, len(decisions))
	for i, d := range decisions {
		values[i] = string(d)
	}

	query := `
		SELECT count(*)
		FROM swipes
		WHERE candidate_id = $1 AND undone_at = 0 AND decision = ANY($2)
	`

	start := time.Now()
	var count int
	err := s.pool.QueryRow(ctx, query, candidateID, values).Scan(&count)
	observe("swipe_count", start, err)
	if err != nil {
		return 0, fmt.Errorf("count received swipes: %w", err)
	}
	return count, nil
}

// scanSwipe scans a single row into a Swipe.
func scanSwipe(row pgx.Row) (*domain.Swipe, error) {
	var sw domain.Swipe
	var decision string

	err := row.Scan(
		&sw.ID,
		&sw.SwiperID,
		&sw.CandidateID,
		&decision,
		&sw.CreatedAt,
		&sw.UndoneAt,
	)
	if err != nil {
		return nil, err
	}

	sw.Decision = domain.Decision(decision)
	return &sw, nil
}

// scanSwipes scans multiple rows into a slice of Swipe.
func scanSwipes(rows pgx.Rows) ([]*domain.Swipe, error) {
	var swipes []*domain.Swipe

	for rows.Next() {
		sw, err := scanSwipe(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swipe row: %w", err)
		}
		swipes = append(swipes, sw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swipe rows: %w", err)
	}

	return swipes, nil
}
