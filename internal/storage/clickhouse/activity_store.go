package clickhouse

import (
	"context"
	"fmt"
	"time"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

// ActivityStore implements storage.ActivityStore using ClickHouse.
// MergeTree does not enforce uniqueness, so Insert checks the ID first.
type ActivityStore struct {
	conn *Conn
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(conn *Conn) *ActivityStore {
	return &ActivityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

// Insert appends an activity. Returns ErrDuplicateKey if the ID exists.
func (s *ActivityStore) Insert(ctx context.Context, a *domain.Activity) error {
	if a == nil || a.ID == "" || a.UserID == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	err := s.insert(ctx, a)
	observe("activity_insert", start, err)
	return err
}

func (s *ActivityStore) insert(ctx context.Context, a *domain.Activity) error {
	exists, err := s.exists(ctx, a.UserID, a.ID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO activities (id, user_id, type, metadata, created_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if err := batch.Append(a.ID, a.UserID, string(a.Type), metadata, uint64(a.CreatedAt)); err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByUser retrieves all activities of a user, ordered by created_at ASC.
func (s *ActivityStore) GetByUser(ctx context.Context, userID string) ([]*domain.Activity, error) {
	query := `
		SELECT id, user_id, type, metadata, created_at
		FROM activities
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`
	return s.query(ctx, "activity_by_user", query, userID)
}

// GetByTimeRange retrieves a user's activities within [start, end] (inclusive).
func (s *ActivityStore) GetByTimeRange(ctx context.Context, userID string, start, end int64) ([]*domain.Activity, error) {
	query := `
		SELECT id, user_id, type, metadata, created_at
		FROM activities
		WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC
	`
	return s.query(ctx, "activity_by_time_range", query, userID, uint64(start), uint64(end))
}

func (s *ActivityStore) query(ctx context.Context, operation, query string, args ...any) ([]*domain.Activity, error) {
	start := time.Now()
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		observe(operation, start, err)
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	activities, err := scanActivities(rows)
	observe(operation, start, err)
	return activities, err
}

// exists checks if an activity with the given ID exists for the user.
func (s *ActivityStore) exists(ctx context.Context, userID, id string) (bool, error) {
	query := `SELECT count(*) FROM activities WHERE user_id = ? AND id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, userID, id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanActivities scans multiple rows.
func scanActivities(rows chRows) ([]*domain.Activity, error) {
	var activities []*domain.Activity

	for rows.Next() {
		var a domain.Activity
		var activityType string
		var createdAt uint64

		if err := rows.Scan(&a.ID, &a.UserID, &activityType, &a.Metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}

		a.Type = domain.ActivityType(activityType)
		a.CreatedAt = int64(createdAt)
		activities = append(activities, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}

	return activities, nil
}
