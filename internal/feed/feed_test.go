package feed

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

	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
	"discover-engine/internal/remote/stub"
)

var quiet = log.New(io.Discard, "", 0)

func makeCandidates(prefix string, n int) []domain.Candidate {
	out := make([]domain.Candidate, n)
	for i := range out {
		out[i] = domain.Candidate{
			ID:          fmt.Sprintf("%s%03d", prefix, i),
			DisplayName: fmt.Sprintf("Candidate %d", i),
			Age:         25,
			Gender:      domain.GenderFemale,
			Intent:      domain.IntentDating,
		}
	}
	return out
}

func ids(cs []domain.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func newFeed(r *stub.Remote, pageSize int) *Feed {
	return New(Options{
		Querier:  r,
		Fragment: filter.ToQueryFragment(domain.DefaultFilterState()),
		PageSize: pageSize,
		Logger:   quiet,
	})
}

func TestFeed_Pagination(t *testing.T) {
	// 20 on the first page with more, then a short page of 10
	r := stub.New(makeCandidates("p", 30)...)
	f := newFeed(r, 20)
	ctx := context.Background()

	started, err := f.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 20, f.Len())
	assert.True(t, f.HasMore())

	started, err = f.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 30, f.Len())
	assert.False(t, f.HasMore())

	queries := r.Queries()
	require.Len(t, queries, 2)
	assert.Equal(t, "", queries[0].Cursor)
	assert.Equal(t, "20", queries[1].Cursor)
	assert.Equal(t, 20, queries[1].Limit)

	// Order is preserved across pages
	candidates := f.Candidates()
	assert.Equal(t, "p000", candidates[0].ID)
	assert.Equal(t, "p029", candidates[29].ID)
}

func TestFeed_ExhaustedIsNoop(t *testing.T) {
	r := stub.New(makeCandidates("p", 5)...)
	f := newFeed(r, 20)
	ctx := context.Background()

	_, err := f.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, f.HasMore())

	for i := 0; i < 3; i++ {
		started, err := f.LoadMore(ctx)
		require.NoError(t, err)
		assert.False(t, started)
	}
	assert.Len(t, r.Queries(), 1)
}

func TestFeed_FullPageWithoutMoreEnds(t *testing.T) {
	r := stub.New()
	r.QueryHook = func(_ context.Context, _ filter.QueryFragment, _ string, limit int) (*domain.Page, error) {
		return &domain.Page{Candidates: makeCandidates("p", limit), NextCursor: "next", HasMore: false}, nil
	}
	f := newFeed(r, 10)

	_, err := f.LoadMore(context.Background())
	require.NoError(t, err)
	assert.False(t, f.HasMore())
}

func TestFeed_LoadMoreWhileLoading(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	r := stub.New()
	r.QueryHook = func(_ context.Context, _ filter.QueryFragment, _ string, limit int) (*domain.Page, error) {
		entered <- struct{}{}
		<-release
		return &domain.Page{Candidates: makeCandidates("p", limit), NextCursor: "c1", HasMore: true}, nil
	}
	f := newFeed(r, 20)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.LoadMore(ctx)
		done <- err
	}()
	<-entered
	assert.True(t, f.Loading())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started, err := f.LoadMore(ctx)
			assert.NoError(t, err)
			assert.False(t, started)
		}()
	}
	wg.Wait()

	close(release)
	require.NoError(t, <-done)

	assert.Len(t, r.Queries(), 1)
	assert.False(t, f.Loading())
	assert.Equal(t, 20, f.Len())
}

func TestFeed_FailureLeavesStateUnchanged(t *testing.T) {
	r := stub.New(makeCandidates("p", 40)...)
	f := newFeed(r, 20)
	ctx := context.Background()

	_, err := f.LoadMore(ctx)
	require.NoError(t, err)
	before := f.Snapshot()

	boom := errors.New("network down")
	r.QueryHook = func(context.Context, filter.QueryFragment, string, int) (*domain.Page, error) {
		return nil, boom
	}

	started, err := f.LoadMore(ctx)
	assert.True(t, started)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPageFetch)
	assert.ErrorIs(t, err, boom)

	after := f.Snapshot()
	assert.Equal(t, before.Candidates, after.Candidates)
	assert.Equal(t, before.Cursor, after.Cursor)
	assert.True(t, after.HasMore)
	assert.False(t, after.Loading)

	// Recoverable: the next load succeeds from the same cursor
	r.QueryHook = nil
	_, err = f.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, f.Len())
}

func TestFeed_MalformedPage(t *testing.T) {
	r := stub.New()
	r.QueryHook = func(context.Context, filter.QueryFragment, string, int) (*domain.Page, error) {
		return &domain.Page{Candidates: []domain.Candidate{{ID: "ok"}, {ID: ""}}, HasMore: true, NextCursor: "x"}, nil
	}
	f := newFeed(r, 2)

	_, err := f.LoadMore(context.Background())
	require.ErrorIs(t, err, ErrMalformedPage)
	assert.Equal(t, 0, f.Len())
	assert.True(t, f.HasMore())
	assert.False(t, f.Loading())
}

func TestFeed_SkipsDuplicateIDs(t *testing.T) {
	pages := [][]domain.Candidate{
		{{ID: "a"}, {ID: "b"}},
		{{ID: "b"}, {ID: "c"}},
	}
	call := 0
	r := stub.New()
	r.QueryHook = func(context.Context, filter.QueryFragment, string, int) (*domain.Page, error) {
		p := pages[call]
		call++
		return &domain.Page{Candidates: p, NextCursor: fmt.Sprint(call), HasMore: call < len(pages)}, nil
	}
	f := newFeed(r, 2)
	ctx := context.Background()

	_, err := f.LoadMore(ctx)
	require.NoError(t, err)
	_, err = f.LoadMore(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ids(f.Candidates()))
}

func TestFeed_ResetDiscardsInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	r := stub.New()
	r.QueryHook = func(ctx context.Context, _ filter.QueryFragment, _ string, limit int) (*domain.Page, error) {
		entered <- struct{}{}
		<-release
		return &domain.Page{Candidates: makeCandidates("old", limit), NextCursor: "c", HasMore: true}, nil
	}
	f := newFeed(r, 5)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.LoadMore(context.Background())
	}()
	<-entered

	distance := 10
	f.Reset(filter.QueryFragment{MaxDistanceKm: &distance})
	assert.False(t, f.Loading())
	close(release)
	<-done

	// The stale page was discarded
	assert.Equal(t, 0, f.Len())

	r.QueryHook = nil
	r.Candidates = makeCandidates("new", 3)
	_, err := f.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new000", "new001", "new002"}, ids(f.Candidates()))

	queries := r.Queries()
	last := queries[len(queries)-1]
	require.NotNil(t, last.Fragment.MaxDistanceKm)
	assert.Equal(t, 10, *last.Fragment.MaxDistanceKm)
	assert.Equal(t, "", last.Cursor)
}

func TestFeed_DeckOperations(t *testing.T) {
	r := stub.New(makeCandidates("p", 4)...)
	f := newFeed(r, 20)
	_, err := f.LoadMore(context.Background())
	require.NoError(t, err)

	gen, idx, c, ok := f.Remove("p002")
	require.True(t, ok)
	assert.Equal(t, 2, idx)
	assert.Equal(t, "p002", c.ID)
	assert.Equal(t, []string{"p000", "p001", "p003"}, ids(f.Candidates()))

	_, _, _, ok = f.Remove("missing")
	assert.False(t, ok)

	assert.True(t, f.InsertAt(gen, idx, c))
	assert.Equal(t, []string{"p000", "p001", "p002", "p003"}, ids(f.Candidates()))

	// Already present: no duplicate
	assert.False(t, f.PushFront(gen, c))
	assert.Equal(t, 4, f.Len())

	_, _, c, _ = f.Remove("p003")
	assert.True(t, f.PushFront(gen, c))
	assert.Equal(t, "p003", f.Candidates()[0].ID)

	// Clamped
	_, _, c, _ = f.Remove("p001")
	f.InsertAt(gen, 99, c)
	assert.Equal(t, "p001", f.Candidates()[3].ID)
}

func TestFeed_RestoreAfterResetIsSkipped(t *testing.T) {
	r := stub.New(makeCandidates("p", 4)...)
	f := newFeed(r, 20)
	_, err := f.LoadMore(context.Background())
	require.NoError(t, err)

	gen, idx, c, ok := f.Remove("p001")
	require.True(t, ok)

	f.Reset(filter.ToQueryFragment(domain.DefaultFilterState()))
	assert.NotEqual(t, gen, f.Generation())

	assert.False(t, f.InsertAt(gen, idx, c))
	assert.False(t, f.PushFront(gen, c))
	assert.Equal(t, 0, f.Len())
}

func TestSentinel_TriggersAboveThreshold(t *testing.T) {
	r := stub.New(makeCandidates("p", 50)...)
	f := newFeed(r, 20)
	s := NewSentinel(SentinelOptions{Loader: f, Logger: quiet})
	defer s.Close()

	assert.False(t, s.Observe(0.5))
	assert.True(t, s.Observe(0.8))

	assert.Eventually(t, func() bool { return f.Len() == 20 }, time.Second, 5*time.Millisecond)
	assert.Len(t, r.Queries(), 1)
}

func TestSentinel_CollapsesRapidEvents(t *testing.T) {
	release := make(chan struct{})
	r := stub.New()
	r.QueryHook = func(_ context.Context, _ filter.QueryFragment, _ string, limit int) (*domain.Page, error) {
		<-release
		return &domain.Page{Candidates: makeCandidates("p", limit), NextCursor: "c", HasMore: true}, nil
	}
	f := newFeed(r, 20)
	s := NewSentinel(SentinelOptions{Loader: f, Logger: quiet})

	assert.True(t, s.Observe(1))
	for i := 0; i < 20; i++ {
		assert.False(t, s.Observe(1))
	}
	close(release)
	s.Close()

	assert.Len(t, r.Queries(), 1)
}

func TestSentinel_ReportsErrors(t *testing.T) {
	r := stub.New()
	r.QueryHook = func(context.Context, filter.QueryFragment, string, int) (*domain.Page, error) {
		return nil, errors.New("offline")
	}
	f := newFeed(r, 20)

	errCh := make(chan error, 1)
	s := NewSentinel(SentinelOptions{
		Loader:  f,
		Logger:  quiet,
		OnError: func(err error) { errCh <- err },
	})
	defer s.Close()

	s.Observe(0.9)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPageFetch)
	case <-time.After(time.Second):
		t.Fatal("expected error callback")
	}
}

func TestSentinel_CloseIgnoresLaterObservations(t *testing.T) {
	r := stub.New(makeCandidates("p", 50)...)
	f := newFeed(r, 20)
	s := NewSentinel(SentinelOptions{Loader: f, Logger: quiet})

	s.Close()
	s.Close()
	assert.False(t, s.Observe(1))
	assert.Empty(t, r.Queries())
}
