package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

// ProfileStore implements storage.ProfileStore using PostgreSQL.
type ProfileStore struct {
	pool *Pool
}

// NewProfileStore creates a new ProfileStore.
func NewProfileStore(pool *Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProfileStore = (*ProfileStore)(nil)

const profileColumns = `id, display_name, age, gender, intent, distance_km, is_creator, is_verified, photo_url, bio, created_at`

// Insert adds a new profile. Returns ErrDuplicateKey if the ID exists.
func (s *ProfileStore) Insert(ctx context.Context, p *domain.Profile) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		p.ID,
		p.DisplayName,
		p.Age,
		string(p.Gender),
		string(p.Intent),
		p.DistanceKm,
		p.IsCreator,
		p.IsVerified,
		p.PhotoURL,
		p.Bio,
		p.CreatedAt,
	)
	observe("profile_insert", start, err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// GetByID retrieves a profile by its ID. Returns ErrNotFound if not exists.
func (s *ProfileStore) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	start := time.Now()
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(s.pool.QueryRow(ctx, query, id))
	observe("profile_get", start, err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get profile by id: %w", err)
	}
	return p, nil
}

// Query returns up to q.Limit matching profiles after q.AfterID, in ID order.
func (s *ProfileStore) Query(ctx context.Context, q storage.ProfileQuery) ([]*domain.Profile, error) {
	if q.Limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	start := time.Now()
	query, args := buildProfileQuery(q)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		observe("profile_query", start, err)
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	profiles, err := scanProfiles(rows)
	observe("profile_query", start, err)
	return profiles, err
}

// buildProfileQuery translates a ProfileQuery into SQL with positional args.
func buildProfileQuery(q storage.ProfileQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, "id > "+arg(q.AfterID))
	if len(q.ExcludeIDs) > 0 {
		where = append(where, "NOT (id = ANY("+arg(q.ExcludeIDs)+"))")
	}

	f := q.Fragment
	if f.MinAge > 0 {
		where = append(where, "age >= "+arg(f.MinAge))
	}
	if f.MaxAge > 0 {
		where = append(where, "age <= "+arg(f.MaxAge))
	}
	if f.MaxDistanceKm != nil {
		where = append(where, "distance_km <= "+arg(*f.MaxDistanceKm))
	}
	if len(f.Intents) > 0 {
		where = append(where, "intent = ANY("+arg(f.Intents)+")")
	}
	if len(f.Genders) > 0 {
		where = append(where, "gender = ANY("+arg(f.Genders)+")")
	}
	if f.CreatorsOnly {
		where = append(where, "is_creator")
	}
	if f.VerifiedOnly {
		where = append(where, "is_verified")
	}

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY id ASC LIMIT ` + arg(q.Limit)
	return query, args
}

// scanProfile scans a single row into a Profile.
func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var p domain.Profile
	var gender, intent string

	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Age,
		&gender,
		&intent,
		&p.DistanceKm,
		&p.IsCreator,
		&p.IsVerified,
		&p.PhotoURL,
		&p.Bio,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Gender = domain.Gender(gender)
	p.Intent = domain.Intent(intent)
	return &p, nil
}

// scanProfiles scans multiple rows into a slice of Profile.
func scanProfiles(rows pgx.Rows) ([]*domain.Profile, error) {
	var profiles []*domain.Profile

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile rows: %w", err)
	}

	return profiles, nil
}
