package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

// ActivityStore implements storage.ActivityStore using PostgreSQL.
type ActivityStore struct {
	pool *Pool
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(pool *Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

// Insert appends an activity. Returns ErrDuplicateKey if the ID exists.
func (s *ActivityStore) Insert(ctx context.Context, a *domain.Activity) error {
	if a == nil || a.ID == "" || a.UserID == "" {
		return storage.ErrInvalidInput
	}

	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}

	query := `
		INSERT INTO activities (id, user_id, type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	start := time.Now()
	_, err = s.pool.Exec(ctx, query, a.ID, a.UserID, string(a.Type), raw, a.CreatedAt)
	observe("activity_insert", start, err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// GetByUser retrieves all activities of a user, ordered by created_at ASC.
func (s *ActivityStore) GetByUser(ctx context.Context, userID string) ([]*domain.Activity, error) {
	query := `
		SELECT id, user_id, type, metadata, created_at
		FROM activities
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return s.query(ctx, "activity_by_user", query, userID)
}

// GetByTimeRange retrieves a user's activities within [start, end] (inclusive).
func (s *ActivityStore) GetByTimeRange(ctx context.Context, userID string, start, end int64) ([]*domain.Activity, error) {
	query := `
		SELECT id, user_id, type, metadata, created_at
		FROM activities
		WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC, id ASC
	`
	return s.query(ctx, "activity_by_time_range", query, userID, start, end)
}

func (s *ActivityStore) query(ctx context.Context, operation, query string, args ...any) ([]*domain.Activity, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		observe(operation, start, err)
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	activities, err := scanActivities(rows)
	observe(operation, start, err)
	return activities, err
}

// scanActivities scans multiple rows into a slice of Activity.
func scanActivities(rows pgx.Rows) ([]*domain.Activity, error) {
	var activities []*domain.Activity

	for rows.Next() {
		var a domain.Activity
		var activityType string
		var raw []byte

		if err := rows.Scan(&a.ID, &a.UserID, &activityType, &raw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		if err := json.Unmarshal(raw, &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode activity metadata: %w", err)
		}

		a.Type = domain.ActivityType(activityType)
		activities = append(activities, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}

	return activities, nil
}
