package wire

import (
	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
)

// Candidate is the wire form of domain.Candidate.
type Candidate struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Age         int     `json:"age"`
	Gender      string  `json:"gender"`
	Intent      string  `json:"intent"`
	DistanceKm  int     `json:"distanceKm"`
	IsCreator   bool    `json:"isCreator"`
	IsVerified  bool    `json:"isVerified"`
	PhotoURL    string  `json:"photoUrl,omitempty"`
	Bio         string  `json:"bio,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// ToDomain converts the wire candidate to its domain form.
func (c Candidate) ToDomain() domain.Candidate {
	return domain.Candidate{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Age:         c.Age,
		Gender:      domain.Gender(c.Gender),
		Intent:      domain.Intent(c.Intent),
		DistanceKm:  c.DistanceKm,
		IsCreator:   c.IsCreator,
		IsVerified:  c.IsVerified,
		PhotoURL:    c.PhotoURL,
		Bio:         c.Bio,
		Score:       c.Score,
	}
}

// CandidateFromDomain converts a domain candidate to its wire form.
func CandidateFromDomain(c domain.Candidate) Candidate {
	return Candidate{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Age:         c.Age,
		Gender:      string(c.Gender),
		Intent:      string(c.Intent),
		DistanceKm:  c.DistanceKm,
		IsCreator:   c.IsCreator,
		IsVerified:  c.IsVerified,
		PhotoURL:    c.PhotoURL,
		Bio:         c.Bio,
		Score:       c.Score,
	}
}

// CandidateFromProfile projects a stored profile into a wire candidate.
func CandidateFromProfile(p domain.Profile) Candidate {
	return Candidate{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Age:         p.Age,
		Gender:      string(p.Gender),
		Intent:      string(p.Intent),
		DistanceKm:  p.DistanceKm,
		IsCreator:   p.IsCreator,
		IsVerified:  p.IsVerified,
		PhotoURL:    p.PhotoURL,
		Bio:         p.Bio,
	}
}

// QueryCandidatesParams are the params of queryCandidates.
type QueryCandidatesParams struct {
	Fragment filter.QueryFragment `json:"fragment"`
	Cursor   string               `json:"cursor,omitempty"`
	Limit    int                  `json:"limit"`
}

// QueryCandidatesResult is the result of queryCandidates.
type QueryCandidatesResult struct {
	Candidates []Candidate `json:"candidates"`
	NextCursor string      `json:"nextCursor,omitempty"`
	HasMore    bool        `json:"hasMore"`
}

// SubmitSwipeParams are the params of submitSwipe.
type SubmitSwipeParams struct {
	SwipeID     string `json:"swipeId"`
	CandidateID string `json:"candidateId"`
	Decision    string `json:"decision"`
	CreatedAt   int64  `json:"createdAt"`
}

// UndoSwipeParams are the params of undoSwipe.
type UndoSwipeParams struct {
	SwipeID     string `json:"swipeId"`
	CandidateID string `json:"candidateId,omitempty"`
}

// AckResult acknowledges a mutation.
type AckResult struct {
	OK bool `json:"ok"`
}

// CountParams are the params of getReceivedEngagementCount.
type CountParams struct {
	UserID string `json:"userId"`
}

// CountResult is the result of getReceivedEngagementCount.
type CountResult struct {
	Count int `json:"count"`
}

// RecordActivityParams are the params of recordActivity.
type RecordActivityParams struct {
	Activity string            `json:"activity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SubscribeParams are the params of engagementSubscribe.
// The result is the subscription ID (int64).
type SubscribeParams struct {
	Topic  string `json:"topic"`
	UserID string `json:"userId"`
}

// UnsubscribeParams are the params of engagementUnsubscribe.
type UnsubscribeParams struct {
	Subscription int64 `json:"subscription"`
}

// Notification is a server-pushed engagement notification.
type Notification struct {
	JSONRPC string              `json:"jsonrpc"`
	Method  string              `json:"method"`
	Params  *NotificationParams `json:"params"`
}

// NotificationParams identifies the subscription and carries the event.
type NotificationParams struct {
	Subscription int64           `json:"subscription"`
	Result       EngagementEvent `json:"result"`
}

// EngagementEvent describes a change to a user's inbound engagement.
// Clients treat it as a signal only and re-pull the authoritative count.
type EngagementEvent struct {
	Topic  string `json:"topic"`
	UserID string `json:"userId"`
	Kind   string `json:"kind"` // swipe | undo
	At     int64  `json:"at"`   // Unix timestamp in milliseconds
}
