// Package session wires the discover engine for one screen: filters, the
// candidate feed and its sentinel, the swipe engine, side effects and the
// live engagement counter.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"discover-engine/internal/config"
	"discover-engine/internal/counter"
	"discover-engine/internal/domain"
	"discover-engine/internal/engagement"
	"discover-engine/internal/feed"
	"discover-engine/internal/filter"
	"discover-engine/internal/idhash"
	"discover-engine/internal/markers"
	"discover-engine/internal/remote"
	"discover-engine/internal/swipe"
)

// Remote is everything a session needs from the remote service.
type Remote interface {
	remote.CandidateQuerier
	remote.SwipeMutator
	remote.EngagementCounter
	remote.ActivityRecorder
}

// Options contains configuration for creating a Session.
type Options struct {
	Config     config.Engine
	Remote     Remote
	Subscriber remote.EngagementSubscriber // Optional; without it there is no live counter
	Resolver   remote.UserResolver
	Markers    markers.Store // Default: in-memory
	Filters    *domain.FilterState

	// OnError receives user-visible failures: failed swipes, failed undos
	// and background page loads.
	OnError func(error)
	// OnCounterChange receives every applied counter state.
	OnCounterChange func(domain.CounterState)

	Now       func() time.Time
	Location  *time.Location
	AfterFunc swipe.AfterFunc
	Logger    *log.Logger
}

// Session is one Discover screen instance. It owns its state exclusively.
type Session struct {
	resolver remote.UserResolver
	onError  func(error)
	logger   *log.Logger

	feed       *feed.Feed
	sentinel   *feed.Sentinel
	engine     *swipe.Engine
	dispatcher *engagement.Dispatcher
	tracker    *engagement.DailyLoginTracker
	counter    *counter.Counter

	mu      sync.Mutex
	filters domain.FilterState
	closed  bool
}

// New creates a session. Nothing is fetched until Start.
func New(opts Options) (*Session, error) {
	if opts.Remote == nil {
		return nil, errors.New("remote is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("user resolver is required")
	}

	cfg := opts.Config
	if cfg == (config.Engine{}) {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}

	store := opts.Markers
	if store == nil {
		store = markers.NewMemoryStore()
	}

	filters := domain.DefaultFilterState()
	if opts.Filters != nil {
		filters = filter.Normalize(filter.FromState(*opts.Filters))
	}

	s := &Session{
		resolver: opts.Resolver,
		onError:  opts.OnError,
		logger:   logger,
		filters:  filters,
	}

	s.feed = feed.New(feed.Options{
		Querier:  opts.Remote,
		Fragment: filter.ToQueryFragment(filters),
		PageSize: cfg.PageSize,
		Logger:   logger,
	})
	s.sentinel = feed.NewSentinel(feed.SentinelOptions{
		Loader:    s.feed,
		Threshold: cfg.LoadMoreThreshold,
		OnError:   s.reportError,
		Logger:    logger,
	})
	s.dispatcher = engagement.NewDispatcher(engagement.DispatcherOptions{
		Recorder:    opts.Remote,
		Timeout:     cfg.SideEffectTimeout,
		MaxInFlight: cfg.MaxInFlightSideEffects,
		Logger:      logger,
	})
	s.engine = swipe.NewEngine(swipe.Options{
		Deck:       s.feed,
		Mutator:    opts.Remote,
		Notifier:   s.dispatcher,
		UndoWindow: cfg.UndoWindow,
		AfterFunc:  opts.AfterFunc,
		Now:        opts.Now,
		Logger:     logger,
		OnError: func(rec domain.SwipeRecord, err error) {
			s.reportError(fmt.Errorf("swipe %s on %s (%s): %w", rec.ID, rec.CandidateID, rec.Status, err))
		},
	})
	s.tracker = engagement.NewDailyLoginTracker(engagement.TrackerOptions{
		Store:    store,
		Notifier: s.dispatcher,
		Now:      opts.Now,
		Location: opts.Location,
		Logger:   logger,
	})
	if opts.Subscriber != nil {
		s.counter = counter.New(counter.Options{
			Resolver:   opts.Resolver,
			Counter:    opts.Remote,
			Subscriber: opts.Subscriber,
			Topic:      cfg.CounterTopic,
			Now:        opts.Now,
			OnChange:   opts.OnCounterChange,
			Logger:     logger,
		})
	}

	return s, nil
}

func (s *Session) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// Start fires the daily-login side effect, activates the live counter and
// loads the first page. Only the page load can fail Start.
func (s *Session) Start(ctx context.Context) error {
	if userID, err := s.resolver.CurrentUserID(ctx); err != nil {
		s.logger.Printf("resolve user: %v", err)
	} else if _, err := s.tracker.Track(ctx, userID); err != nil {
		s.logger.Printf("daily login: %v", err)
	}

	if s.counter != nil {
		if err := s.counter.Activate(ctx); err != nil {
			s.logger.Printf("live counter: %v", err)
		}
	}

	_, err := s.feed.LoadMore(ctx)
	return err
}

// Filters returns the applied filter state.
func (s *Session) Filters() domain.FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// ActiveFilterCount returns the number of filter fields changed from their defaults.
func (s *Session) ActiveFilterCount() int {
	return filter.ActiveCount(s.Filters())
}

// ApplyFilters normalizes raw and, if the query changes, restarts the feed
// from the first page. It returns the applied state.
func (s *Session) ApplyFilters(ctx context.Context, raw filter.Raw) (domain.FilterState, error) {
	next := filter.Normalize(raw)
	fragment := filter.ToQueryFragment(next)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.FilterState{}, swipe.ErrClosed
	}
	prev := filter.ToQueryFragment(s.filters)
	s.filters = next
	s.mu.Unlock()

	if idhash.ComputeFilterFingerprint(prev) == idhash.ComputeFilterFingerprint(fragment) {
		return next, nil
	}

	s.feed.Reset(fragment)
	_, err := s.feed.LoadMore(ctx)
	return next, err
}

// Candidates returns the visible deck.
func (s *Session) Candidates() []domain.Candidate {
	return s.feed.Candidates()
}

// HasMore reports whether the feed may have further pages.
func (s *Session) HasMore() bool {
	return s.feed.HasMore()
}

// LoadMore loads the next page synchronously.
func (s *Session) LoadMore(ctx context.Context) (bool, error) {
	return s.feed.LoadMore(ctx)
}

// ObserveSentinel reports the load-more sentinel's visibility ratio.
func (s *Session) ObserveSentinel(ratio float64) bool {
	return s.sentinel.Observe(ratio)
}

// Swipe applies a decision to a visible candidate.
func (s *Session) Swipe(ctx context.Context, candidateID string, decision domain.Decision) (domain.SwipeRecord, error) {
	return s.engine.Swipe(ctx, candidateID, decision)
}

// Undo reverts the latest swipe while its window is open.
func (s *Session) Undo(ctx context.Context) (domain.SwipeRecord, error) {
	return s.engine.Undo(ctx)
}

// Undoable returns the record that can currently be undone.
func (s *Session) Undoable() (domain.SwipeRecord, bool) {
	return s.engine.Current()
}

// Record returns a swipe record by ID.
func (s *Session) Record(id string) (domain.SwipeRecord, bool) {
	return s.engine.Record(id)
}

// ReceivedEngagement returns the live counter state. It stays zero when
// the session has no subscriber.
func (s *Session) ReceivedEngagement() domain.CounterState {
	if s.counter == nil {
		return domain.CounterState{}
	}
	return s.counter.State()
}

// Close tears the screen down: the sentinel is deregistered, the undo
// timer cancelled, the subscription closed, and in-flight remote work
// drained.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.sentinel.Close()
	s.engine.Close()
	var err error
	if s.counter != nil {
		err = s.counter.Deactivate()
	}
	s.dispatcher.Close()
	return err
}
