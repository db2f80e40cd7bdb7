// Package remote defines the collaborators the discover engine talks to and
// the JSON-RPC clients that reach them over HTTP and WebSocket.
package remote

import (
	"context"

	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
)

// CandidateQuerier fetches pages of candidates.
type CandidateQuerier interface {
	// QueryCandidates returns the page after cursor (empty for the first page).
	QueryCandidates(ctx context.Context, fragment filter.QueryFragment, cursor string, limit int) (*domain.Page, error)
}

// SwipeMutator persists swipe decisions.
// Both calls are idempotent on the swipe ID.
type SwipeMutator interface {
	SubmitSwipe(ctx context.Context, req domain.SwipeRequest) error
	UndoSwipe(ctx context.Context, swipeID, candidateID string) error
}

// EngagementCounter reads the authoritative inbound engagement count.
type EngagementCounter interface {
	GetReceivedEngagementCount(ctx context.Context, userID string) (int, error)
}

// Subscription is a live engagement subscription.
type Subscription interface {
	Unsubscribe() error
}

// EngagementSubscriber opens engagement change subscriptions.
// onEvent carries no payload and must not block.
type EngagementSubscriber interface {
	SubscribeEngagementEvents(ctx context.Context, topic, userID string, onEvent func()) (Subscription, error)
}

// ActivityRecorder records gamification side effects.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, activity domain.ActivityType, metadata map[string]string) error
}

// UserResolver resolves the signed-in user.
type UserResolver interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// StaticUser resolves to a fixed user ID.
type StaticUser string

// CurrentUserID returns the fixed user ID.
func (u StaticUser) CurrentUserID(_ context.Context) (string, error) {
	return string(u), nil
}
