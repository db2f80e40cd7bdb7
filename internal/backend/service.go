// Package backend is the reference remote service for the discover engine:
// candidate queries, swipe mutations, engagement counts and the activity
// log, served over JSON-RPC on HTTP with WebSocket engagement push.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"discover-engine/internal/broker"
	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
	"discover-engine/internal/idhash"
	"discover-engine/internal/storage"
	"discover-engine/internal/wire"
)

// Service errors.
var (
	ErrInvalidCursor    = errors.New("invalid cursor")
	ErrUnknownCandidate = errors.New("unknown candidate")
	ErrSelfSwipe        = errors.New("cannot swipe on yourself")
	ErrInvalidDecision  = errors.New("invalid decision")
	ErrInvalidActivity  = errors.New("invalid activity")
	ErrConflict         = errors.New("swipe id reused with different content")
	ErrAlreadySwiped    = errors.New("candidate already swiped")
	ErrForbidden        = errors.New("forbidden")
)

// Defaults.
const (
	DefaultMaxPageSize = 100
	DefaultTopic       = "likes"
)

// engagementDecisions are the decisions counted as received engagement.
var engagementDecisions = []domain.Decision{domain.DecisionLike, domain.DecisionSuperlike}

// Options contains configuration for creating a Service.
type Options struct {
	Profiles   storage.ProfileStore
	Swipes     storage.SwipeStore
	Activities storage.ActivityStore
	Broker     broker.Broker
	// Topic is stamped on published engagement events.
	Topic       string
	MaxPageSize int
	Now         func() time.Time
	Logger      *log.Logger
}

// Service implements the remote contract against storage.
type Service struct {
	profiles    storage.ProfileStore
	swipes      storage.SwipeStore
	activities  storage.ActivityStore
	broker      broker.Broker
	topic       string
	maxPageSize int
	now         func() time.Time
	logger      *log.Logger
}

// NewService creates a Service. The stores and broker are required.
func NewService(opts Options) *Service {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[backend] ", log.LstdFlags)
	}

	return &Service{
		profiles:    opts.Profiles,
		swipes:      opts.Swipes,
		activities:  opts.Activities,
		broker:      opts.Broker,
		topic:       opts.Topic,
		maxPageSize: opts.MaxPageSize,
		now:         opts.Now,
		logger:      opts.Logger,
	}
}

// Profiles returns the profile store.
func (s *Service) Profiles() storage.ProfileStore {
	return s.profiles
}

// Broker returns the broker engagement events are published on.
func (s *Service) Broker() broker.Broker {
	return s.broker
}

// QueryCandidates returns the next page of profiles the viewer can swipe on.
// The viewer and profiles with a standing swipe by the viewer are excluded.
func (s *Service) QueryCandidates(ctx context.Context, viewer string, fragment filter.QueryFragment, cursor string, limit int) (*domain.Page, error) {
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	fingerprint := idhash.ComputeFilterFingerprint(fragment)
	afterID, err := decodeCursor(cursor, fingerprint)
	if err != nil {
		return nil, err
	}

	swiped, err := s.swipes.ListBySwiper(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("list swipes: %w", err)
	}
	exclude := make([]string, 0, len(swiped)+1)
	exclude = append(exclude, viewer)
	for _, sw := range swiped {
		exclude = append(exclude, sw.CandidateID)
	}

	// One extra row tells whether another page exists.
	profiles, err := s.profiles.Query(ctx, storage.ProfileQuery{
		Fragment:   fragment,
		ExcludeIDs: exclude,
		AfterID:    afterID,
		Limit:      limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}

	page := &domain.Page{HasMore: len(profiles) > limit}
	if page.HasMore {
		profiles = profiles[:limit]
	}
	for _, p := range profiles {
		page.Candidates = append(page.Candidates, wire.CandidateFromProfile(*p).ToDomain())
	}
	if page.HasMore {
		page.NextCursor = encodeCursor(profiles[len(profiles)-1].ID, fingerprint)
	}
	return page, nil
}

// SubmitSwipe persists a swipe. Resubmitting the same swipe ID with the same
// content succeeds without side effects.
func (s *Service) SubmitSwipe(ctx context.Context, viewer string, req domain.SwipeRequest) error {
	if !req.Decision.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, req.Decision)
	}
	if req.SwipeID == "" || req.CandidateID == "" {
		return storage.ErrInvalidInput
	}
	if req.CandidateID == viewer {
		return ErrSelfSwipe
	}

	if _, err := s.profiles.GetByID(ctx, req.CandidateID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownCandidate, req.CandidateID)
		}
		return fmt.Errorf("get candidate: %w", err)
	}

	createdAt := req.CreatedAt
	if createdAt == 0 {
		createdAt = s.now().UnixMilli()
	}
	sw := &domain.Swipe{
		ID:          req.SwipeID,
		SwiperID:    viewer,
		CandidateID: req.CandidateID,
		Decision:    req.Decision,
		CreatedAt:   createdAt,
	}

	err := s.swipes.Insert(ctx, sw)
	if errors.Is(err, storage.ErrDuplicateKey) || errors.Is(err, storage.ErrAlreadySwiped) {
		// A retry of the standing swipe may surface as either error.
		existing, getErr := s.swipes.GetByID(ctx, req.SwipeID)
		if errors.Is(getErr, storage.ErrNotFound) && errors.Is(err, storage.ErrAlreadySwiped) {
			return fmt.Errorf("%w: %s", ErrAlreadySwiped, req.CandidateID)
		}
		if getErr != nil {
			return fmt.Errorf("get existing swipe: %w", getErr)
		}
		if existing.SwiperID != viewer || existing.CandidateID != req.CandidateID || existing.Decision != req.Decision {
			return ErrConflict
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert swipe: %w", err)
	}

	if req.Decision.IsEngagement() {
		s.publish(ctx, req.CandidateID, "swipe")
	}
	return nil
}

// UndoSwipe reverts one of the viewer's swipes. Undoing an undone swipe succeeds.
func (s *Service) UndoSwipe(ctx context.Context, viewer, swipeID string) error {
	sw, err := s.swipes.GetByID(ctx, swipeID)
	if err != nil {
		return fmt.Errorf("get swipe: %w", err)
	}
	// Other users' swipes are reported as missing.
	if sw.SwiperID != viewer {
		return fmt.Errorf("get swipe: %w", storage.ErrNotFound)
	}
	if sw.UndoneAt != 0 {
		return nil
	}

	if err := s.swipes.MarkUndone(ctx, swipeID, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("undo swipe: %w", err)
	}

	if sw.Decision.IsEngagement() {
		s.publish(ctx, sw.CandidateID, "undo")
	}
	return nil
}

// ReceivedEngagementCount returns the number of standing likes and
// superlikes the user has received. Users may only read their own count.
func (s *Service) ReceivedEngagementCount(ctx context.Context, viewer, userID string) (int, error) {
	if userID == "" {
		userID = viewer
	}
	if userID != viewer {
		return 0, ErrForbidden
	}

	count, err := s.swipes.CountReceived(ctx, userID, engagementDecisions)
	if err != nil {
		return 0, fmt.Errorf("count received: %w", err)
	}
	return count, nil
}

// RecordActivity appends a gamification activity for the viewer.
func (s *Service) RecordActivity(ctx context.Context, viewer string, activity domain.ActivityType, metadata map[string]string) error {
	switch activity {
	case domain.ActivitySwipe, domain.ActivitySuperlike, domain.ActivityDailyLogin:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidActivity, activity)
	}

	err := s.activities.Insert(ctx, &domain.Activity{
		ID:        uuid.NewString(),
		UserID:    viewer,
		Type:      activity,
		Metadata:  metadata,
		CreatedAt: s.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// publish signals the target that their inbound engagement changed.
// Failures are logged only: clients re-pull the count on reconnect.
func (s *Service) publish(ctx context.Context, userID, kind string) {
	ev := wire.EngagementEvent{
		Topic:  s.topic,
		UserID: userID,
		Kind:   kind,
		At:     s.now().UnixMilli(),
	}
	if err := s.broker.Publish(ctx, ev); err != nil {
		s.logger.Printf("publish %s event for %s: %v", kind, userID, err)
	}
}

// encodeCursor builds the keyset cursor: base58(lastID|fingerprint).
func encodeCursor(lastID, fingerprint string) string {
	return base58.Encode([]byte(lastID + "|" + fingerprint))
}

// decodeCursor returns the keyset position of cursor, checking that it was
// issued for the same filters. An empty cursor starts from the beginning.
func decodeCursor(cursor, fingerprint string) (string, error) {
	if cursor == "" {
		return "", nil
	}

	raw, err := base58.Decode(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	sep := strings.LastIndexByte(string(raw), '|')
	if sep <= 0 {
		return "", fmt.Errorf("%w: malformed", ErrInvalidCursor)
	}
	if string(raw[sep+1:]) != fingerprint {
		return "", fmt.Errorf("%w: issued for different filters", ErrInvalidCursor)
	}
	return string(raw[:sep]), nil
}
