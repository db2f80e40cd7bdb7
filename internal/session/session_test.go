package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discover-engine/internal/config"
	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
	"discover-engine/internal/remote"
	"discover-engine/internal/remote/stub"
)

var quiet = log.New(io.Discard, "", 0)

func candidates(n int) []domain.Candidate {
	out := make([]domain.Candidate, n)
	for i := range out {
		out[i] = domain.Candidate{ID: fmt.Sprintf("p%03d", i), DisplayName: fmt.Sprintf("P%d", i)}
	}
	return out
}

type errSink struct {
	mu   sync.Mutex
	errs []error
}

func (e *errSink) add(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *errSink) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func newSession(t *testing.T, r *stub.Remote, sink *errSink) *Session {
	t.Helper()
	s, err := New(Options{
		Config:     config.Default(),
		Remote:     r,
		Subscriber: r,
		Resolver:   remote.StaticUser("viewer"),
		OnError:    sink.add,
		Logger:     quiet,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_Start(t *testing.T) {
	r := stub.New(candidates(30)...)
	r.SetCount(3)
	s := newSession(t, r, &errSink{})

	require.NoError(t, s.Start(context.Background()))

	assert.Len(t, s.Candidates(), 20)
	assert.True(t, s.HasMore())
	require.Eventually(t, func() bool { return s.ReceivedEngagement().Count == 3 }, time.Second, 5*time.Millisecond)

	// Daily login fired once
	require.Eventually(t, func() bool { return len(r.Activities()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.ActivityDailyLogin, r.Activities()[0].Activity)
	assert.Equal(t, 0, s.ActiveFilterCount())
}

func TestSession_SentinelLoadsNextPage(t *testing.T) {
	r := stub.New(candidates(30)...)
	s := newSession(t, r, &errSink{})
	require.NoError(t, s.Start(context.Background()))

	assert.False(t, s.ObserveSentinel(0.2))
	assert.True(t, s.ObserveSentinel(0.95))
	require.Eventually(t, func() bool { return len(s.Candidates()) == 30 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.HasMore())
}

func TestSession_ApplyFiltersRestartsFeed(t *testing.T) {
	r := stub.New(candidates(30)...)
	s := newSession(t, r, &errSink{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	raw := filter.DefaultRaw()
	raw.Distance = 30
	raw.InterestedIn = []string{"dating"}

	state, err := s.ApplyFilters(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, 30, state.Distance)
	assert.Equal(t, 2, s.ActiveFilterCount())

	queries := r.Queries()
	last := queries[len(queries)-1]
	assert.Equal(t, "", last.Cursor)
	assert.Equal(t, []string{"dating"}, last.Fragment.Intents)

	// Same filters again: no new query
	n := len(r.Queries())
	_, err = s.ApplyFilters(ctx, raw)
	require.NoError(t, err)
	assert.Len(t, r.Queries(), n)
}

func TestSession_SwipeUndoFlow(t *testing.T) {
	r := stub.New(candidates(5)...)
	s := newSession(t, r, &errSink{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	rec, err := s.Swipe(ctx, "p002", domain.DecisionLike)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := s.Record(rec.ID)
		return got.Status == domain.StatusConfirmed
	}, time.Second, 5*time.Millisecond)

	current, ok := s.Undoable()
	require.True(t, ok)
	assert.Equal(t, rec.ID, current.ID)

	_, err = s.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p002", s.Candidates()[0].ID)
}

func TestSession_ReportsFailedSwipe(t *testing.T) {
	r := stub.New(candidates(3)...)
	r.SubmitHook = func(context.Context, domain.SwipeRequest) error { return errors.New("rejected") }
	sink := &errSink{}
	s := newSession(t, r, sink)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	_, err := s.Swipe(ctx, "p000", domain.DecisionPass)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "p000", s.Candidates()[0].ID)
}

// verifiedOnlyRemote serves p003 and p004 when the query asks for verified
// profiles and every candidate otherwise. Submits block until release.
func verifiedOnlyRemote() (*stub.Remote, chan error) {
	all := candidates(5)
	all[3].IsVerified = true
	all[4].IsVerified = true

	r := stub.New(all...)
	r.QueryHook = func(_ context.Context, fragment filter.QueryFragment, _ string, _ int) (*domain.Page, error) {
		var out []domain.Candidate
		for _, c := range all {
			if fragment.VerifiedOnly && !c.IsVerified {
				continue
			}
			out = append(out, c)
		}
		return &domain.Page{Candidates: out}, nil
	}
	release := make(chan error, 1)
	r.SubmitHook = func(context.Context, domain.SwipeRequest) error { return <-release }
	return r, release
}

func candidateIDs(cs []domain.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestSession_FailedSwipeAfterFilterChangeNotRestored(t *testing.T) {
	r, release := verifiedOnlyRemote()
	sink := &errSink{}
	s := newSession(t, r, sink)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	rec, err := s.Swipe(ctx, "p000", domain.DecisionLike)
	require.NoError(t, err)

	raw := filter.DefaultRaw()
	raw.ShowVerifiedOnly = true
	_, err = s.ApplyFilters(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"p003", "p004"}, candidateIDs(s.Candidates()))

	release <- errors.New("rejected")
	require.Eventually(t, func() bool {
		got, _ := s.Record(rec.ID)
		return got.Status == domain.StatusFailed
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"p003", "p004"}, candidateIDs(s.Candidates()))
}

func TestSession_UndoAfterFilterChangeNotRestored(t *testing.T) {
	r, release := verifiedOnlyRemote()
	release <- nil
	s := newSession(t, r, &errSink{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	rec, err := s.Swipe(ctx, "p001", domain.DecisionLike)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := s.Record(rec.ID)
		return got.Status == domain.StatusConfirmed
	}, time.Second, 5*time.Millisecond)

	raw := filter.DefaultRaw()
	raw.ShowVerifiedOnly = true
	_, err = s.ApplyFilters(ctx, raw)
	require.NoError(t, err)

	undone, err := s.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUndone, undone.Status)
	assert.Equal(t, []string{"p003", "p004"}, candidateIDs(s.Candidates()))

	// The compensator still reaches the remote
	require.Eventually(t, func() bool { return len(r.Undos()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_Close(t *testing.T) {
	r := stub.New(candidates(3)...)
	s := newSession(t, r, &errSink{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	for _, sub := range r.Subscriptions() {
		assert.True(t, sub.Closed())
	}
	_, err := s.Swipe(ctx, "p000", domain.DecisionLike)
	assert.Error(t, err)
	assert.False(t, s.ObserveSentinel(1))
}

func TestSession_WithoutSubscriber(t *testing.T) {
	r := stub.New(candidates(3)...)
	s, err := New(Options{Remote: r, Resolver: remote.StaticUser("viewer"), Logger: quiet})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, domain.CounterState{}, s.ReceivedEngagement())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Resolver: remote.StaticUser("u")})
	assert.Error(t, err)

	bad := config.Default()
	bad.PageSize = -1
	_, err = New(Options{Config: bad, Remote: stub.New(), Resolver: remote.StaticUser("u")})
	assert.Error(t, err)
}
