// Package feed holds the paginated candidate deck and its load-more trigger.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"discover-engine/internal/config"
	"discover-engine/internal/domain"
	"discover-engine/internal/filter"
	"discover-engine/internal/observability"
	"discover-engine/internal/remote"
)

var (
	// ErrPageFetch wraps a failed remote page request. The feed is unchanged
	// and the load can be retried.
	ErrPageFetch = errors.New("page fetch failed")
	// ErrMalformedPage is returned when a page cannot be applied.
	ErrMalformedPage = errors.New("malformed page")
)

// Options contains configuration for creating a Feed.
type Options struct {
	Querier  remote.CandidateQuerier
	Fragment filter.QueryFragment
	PageSize int // Default: config.DefaultPageSize
	Logger   *log.Logger
}

// Feed is the ordered deck of candidates and its pagination state.
// At most one page request is in flight at a time.
type Feed struct {
	querier  remote.CandidateQuerier
	pageSize int
	logger   *log.Logger

	mu         sync.Mutex
	fragment   filter.QueryFragment
	candidates []domain.Candidate
	seen       map[string]struct{} // every ID loaded in this generation
	cursor     string
	hasMore    bool
	loading    bool
	generation uint64             // bumped by Reset
	cancel     context.CancelFunc // cancels the in-flight request
}

// State is a snapshot of the feed.
type State struct {
	Candidates []domain.Candidate
	Cursor     string
	HasMore    bool
	Loading    bool
}

// New creates an empty feed. Nothing is fetched until LoadMore.
func New(opts Options) *Feed {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}

	return &Feed{
		querier:  opts.Querier,
		pageSize: pageSize,
		logger:   logger,
		fragment: opts.Fragment,
		seen:     make(map[string]struct{}),
		hasMore:  true,
	}
}

// LoadMore fetches the next page and appends it.
//
// It is a no-op returning (false, nil) while a request is in flight or once
// the feed is exhausted. Otherwise it blocks until the page is applied or
// fails; callers that must not block run it on a goroutine (see Sentinel).
// A response for a generation superseded by Reset is discarded.
func (f *Feed) LoadMore(ctx context.Context) (bool, error) {
	f.mu.Lock()
	if f.loading || !f.hasMore {
		f.mu.Unlock()
		observability.RecordLoadMoreSuppressed()
		return false, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	f.loading = true
	f.cancel = cancel
	gen := f.generation
	fragment := f.fragment
	cursor := f.cursor
	f.mu.Unlock()
	defer cancel()

	start := time.Now()
	page, err := f.querier.QueryCandidates(ctx, fragment, cursor, f.pageSize)

	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.generation {
		// Reset already cleared loading for the new generation
		return true, nil
	}
	f.loading = false
	f.cancel = nil

	if err != nil {
		observability.RecordPageLoad("error", time.Since(start).Seconds())
		f.logger.Printf("page fetch failed (cursor=%q): %v", cursor, err)
		return true, fmt.Errorf("%w: %w", ErrPageFetch, err)
	}
	if err := validatePage(page); err != nil {
		observability.RecordPageLoad("malformed", time.Since(start).Seconds())
		f.logger.Printf("dropping page (cursor=%q): %v", cursor, err)
		return true, err
	}

	appended := 0
	for _, c := range page.Candidates {
		if _, dup := f.seen[c.ID]; dup {
			continue
		}
		f.seen[c.ID] = struct{}{}
		f.candidates = append(f.candidates, c)
		appended++
	}

	f.cursor = page.NextCursor
	// A short page or a page without a cursor ends the feed
	f.hasMore = page.HasMore && len(page.Candidates) == f.pageSize && page.NextCursor != ""

	observability.RecordPageLoad("ok", time.Since(start).Seconds())
	observability.UpdateDeckSize(len(f.candidates))
	f.logger.Printf("loaded %d candidates (%d new), hasMore=%v", len(page.Candidates), appended, f.hasMore)
	return true, nil
}

func validatePage(page *domain.Page) error {
	if page == nil {
		return fmt.Errorf("%w: nil page", ErrMalformedPage)
	}
	for i, c := range page.Candidates {
		if c.ID == "" {
			return fmt.Errorf("%w: candidate %d has no id", ErrMalformedPage, i)
		}
	}
	return nil
}

// Reset replaces the filter fragment and empties the feed.
// An in-flight request is cancelled and its response discarded.
func (f *Feed) Reset(fragment filter.QueryFragment) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.generation++
	f.fragment = fragment
	f.candidates = nil
	f.seen = make(map[string]struct{})
	f.cursor = ""
	f.hasMore = true
	f.loading = false
	observability.UpdateDeckSize(0)
}

// Remove takes the candidate out of the deck and returns the deck
// generation and its former index.
func (f *Feed) Remove(id string) (uint64, int, domain.Candidate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.indexOf(id)
	if i < 0 {
		return f.generation, -1, domain.Candidate{}, false
	}
	c := f.candidates[i]
	f.candidates = append(f.candidates[:i], f.candidates[i+1:]...)
	observability.UpdateDeckSize(len(f.candidates))
	return f.generation, i, c, true
}

// InsertAt puts c back at index, clamped to the deck bounds. It reports
// false and leaves the deck alone when gen is not the current generation
// (the deck was Reset since c was removed) or c is already in the deck.
func (f *Feed) InsertAt(gen uint64, index int, c domain.Candidate) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.generation || f.indexOf(c.ID) >= 0 {
		return false
	}
	if index < 0 {
		index = 0
	}
	if index > len(f.candidates) {
		index = len(f.candidates)
	}
	f.candidates = append(f.candidates, domain.Candidate{})
	copy(f.candidates[index+1:], f.candidates[index:])
	f.candidates[index] = c
	f.seen[c.ID] = struct{}{}
	observability.UpdateDeckSize(len(f.candidates))
	return true
}

// PushFront puts c at the front of the deck under the same rules as InsertAt.
func (f *Feed) PushFront(gen uint64, c domain.Candidate) bool {
	return f.InsertAt(gen, 0, c)
}

// Generation returns the current deck generation.
func (f *Feed) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

func (f *Feed) indexOf(id string) int {
	for i, c := range f.candidates {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Candidates returns a copy of the deck in display order.
func (f *Feed) Candidates() []domain.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Candidate(nil), f.candidates...)
}

// Len returns the number of candidates in the deck.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

// HasMore reports whether another page may exist.
func (f *Feed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore
}

// Loading reports whether a page request is in flight.
func (f *Feed) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Snapshot returns the full feed state.
func (f *Feed) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return State{
		Candidates: append([]domain.Candidate(nil), f.candidates...),
		Cursor:     f.cursor,
		HasMore:    f.hasMore,
		Loading:    f.loading,
	}
}
