// Package stub provides a scriptable in-memory remote for tests.
package stub

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
	"discover-engine/internal/remote"
)

// Remote implements every remote port in memory.
//
// Without hooks it serves Candidates in pages keyed by a decimal offset
// cursor, acknowledges every mutation and reports Count. Hooks replace the
// default behavior of a single call; they run outside the stub's lock and
// may block to control timing.
type Remote struct {
	// Candidates served by the default QueryCandidates.
	Candidates []domain.Candidate
	// Count returned by the default GetReceivedEngagementCount.
	Count int

	QueryHook  func(ctx context.Context, fragment filter.QueryFragment, cursor string, limit int) (*domain.Page, error)
	SubmitHook func(ctx context.Context, req domain.SwipeRequest) error
	UndoHook   func(ctx context.Context, swipeID, candidateID string) error
	CountHook  func(ctx context.Context, userID string) (int, error)
	RecordHook func(ctx context.Context, activity domain.ActivityType, metadata map[string]string) error
	// SubscribeErr fails SubscribeEngagementEvents when set.
	SubscribeErr error

	mu         sync.Mutex
	log        []string
	queries    []QueryCall
	submits    []domain.SwipeRequest
	undos      []string
	counts     int
	activities []ActivityCall
	subs       []*Subscription
}

// QueryCall records one QueryCandidates call.
type QueryCall struct {
	Fragment filter.QueryFragment
	Cursor   string
	Limit    int
}

// ActivityCall records one RecordActivity call.
type ActivityCall struct {
	Activity domain.ActivityType
	Metadata map[string]string
}

// Compile-time interface checks.
var (
	_ remote.CandidateQuerier     = (*Remote)(nil)
	_ remote.SwipeMutator         = (*Remote)(nil)
	_ remote.EngagementCounter    = (*Remote)(nil)
	_ remote.EngagementSubscriber = (*Remote)(nil)
	_ remote.ActivityRecorder     = (*Remote)(nil)
)

// New creates a stub serving candidates.
func New(candidates ...domain.Candidate) *Remote {
	return &Remote{Candidates: candidates}
}

func (r *Remote) record(entry string) {
	r.mu.Lock()
	r.log = append(r.log, entry)
	r.mu.Unlock()
}

// QueryCandidates serves a page.
func (r *Remote) QueryCandidates(ctx context.Context, fragment filter.QueryFragment, cursor string, limit int) (*domain.Page, error) {
	r.mu.Lock()
	r.queries = append(r.queries, QueryCall{Fragment: fragment, Cursor: cursor, Limit: limit})
	hook := r.QueryHook
	r.mu.Unlock()

	if hook != nil {
		return hook(ctx, fragment, cursor, limit)
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		offset = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if offset > len(r.Candidates) {
		offset = len(r.Candidates)
	}
	end := offset + limit
	if end > len(r.Candidates) {
		end = len(r.Candidates)
	}
	page := &domain.Page{
		Candidates: append([]domain.Candidate(nil), r.Candidates[offset:end]...),
		HasMore:    end < len(r.Candidates),
	}
	if page.HasMore {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// SubmitSwipe acknowledges a swipe.
func (r *Remote) SubmitSwipe(ctx context.Context, req domain.SwipeRequest) error {
	r.mu.Lock()
	r.submits = append(r.submits, req)
	r.log = append(r.log, "submit:start:"+req.SwipeID)
	hook := r.SubmitHook
	r.mu.Unlock()

	var err error
	if hook != nil {
		err = hook(ctx, req)
	}
	r.record("submit:done:" + req.SwipeID)
	return err
}

// UndoSwipe acknowledges an undo.
func (r *Remote) UndoSwipe(ctx context.Context, swipeID, candidateID string) error {
	r.mu.Lock()
	r.undos = append(r.undos, swipeID)
	r.log = append(r.log, "undo:"+swipeID)
	hook := r.UndoHook
	r.mu.Unlock()

	if hook != nil {
		return hook(ctx, swipeID, candidateID)
	}
	return nil
}

// GetReceivedEngagementCount returns Count.
func (r *Remote) GetReceivedEngagementCount(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	r.counts++
	hook := r.CountHook
	count := r.Count
	r.mu.Unlock()

	if hook != nil {
		return hook(ctx, userID)
	}
	return count, nil
}

// SetCount changes the value returned by the default count call.
func (r *Remote) SetCount(n int) {
	r.mu.Lock()
	r.Count = n
	r.mu.Unlock()
}

// RecordActivity records a side effect.
func (r *Remote) RecordActivity(ctx context.Context, activity domain.ActivityType, metadata map[string]string) error {
	r.mu.Lock()
	r.activities = append(r.activities, ActivityCall{Activity: activity, Metadata: metadata})
	hook := r.RecordHook
	r.mu.Unlock()

	if hook != nil {
		return hook(ctx, activity, metadata)
	}
	return nil
}

// Subscription is a stub engagement subscription.
type Subscription struct {
	Topic  string
	UserID string

	onEvent  func()
	closed   bool
	closedMu sync.Mutex
}

// Unsubscribe stops delivery.
func (s *Subscription) Unsubscribe() error {
	s.closedMu.Lock()
	s.closed = true
	s.closedMu.Unlock()
	return nil
}

// Closed reports whether Unsubscribe was called.
func (s *Subscription) Closed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closed
}

// SubscribeEngagementEvents registers onEvent.
func (r *Remote) SubscribeEngagementEvents(_ context.Context, topic, userID string, onEvent func()) (remote.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SubscribeErr != nil {
		return nil, r.SubscribeErr
	}
	sub := &Subscription{Topic: topic, UserID: userID, onEvent: onEvent}
	r.subs = append(r.subs, sub)
	return sub, nil
}

// Emit delivers an event to every open subscription.
func (r *Remote) Emit() {
	r.mu.Lock()
	subs := append([]*Subscription(nil), r.subs...)
	r.mu.Unlock()

	for _, sub := range subs {
		if !sub.Closed() {
			sub.onEvent()
		}
	}
}

// Log returns the ordered call log ("submit:start:<id>", "submit:done:<id>", "undo:<id>").
func (r *Remote) Log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// Queries returns all recorded QueryCandidates calls.
func (r *Remote) Queries() []QueryCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]QueryCall(nil), r.queries...)
}

// Submits returns all recorded SubmitSwipe calls.
func (r *Remote) Submits() []domain.SwipeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SwipeRequest(nil), r.submits...)
}

// Undos returns the swipe IDs of all recorded UndoSwipe calls.
func (r *Remote) Undos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.undos...)
}

// CountCalls returns the number of GetReceivedEngagementCount calls.
func (r *Remote) CountCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

// Activities returns all recorded RecordActivity calls.
func (r *Remote) Activities() []ActivityCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActivityCall(nil), r.activities...)
}

// Subscriptions returns all subscriptions opened so far.
func (r *Remote) Subscriptions() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Subscription(nil), r.subs...)
}
