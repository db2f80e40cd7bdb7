package feed

import (
	"context"
	"log"
	"os"
	"sync"

	"discover-engine/internal/config"
)

// Loader loads the next page. *Feed implements it.
type Loader interface {
	LoadMore(ctx context.Context) (bool, error)
}

// SentinelOptions contains configuration for creating a Sentinel.
type SentinelOptions struct {
	Loader    Loader
	Threshold float64     // Default: config.DefaultLoadMoreThreshold
	OnError   func(error) // Receives load failures; may be nil
	Logger    *log.Logger
}

// Sentinel is the visibility observer at the end of the deck. Crossing the
// threshold triggers a background LoadMore; triggers that arrive while one
// is running collapse into it.
type Sentinel struct {
	loader    Loader
	threshold float64
	onError   func(error)
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	triggering bool
	wg         sync.WaitGroup
}

// NewSentinel creates a registered sentinel.
func NewSentinel(opts SentinelOptions) *Sentinel {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = config.DefaultLoadMoreThreshold
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sentinel] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sentinel{
		loader:    opts.Loader,
		threshold: threshold,
		onError:   opts.OnError,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Observe reports a visibility ratio in [0,1]. It returns true when a load
// was triggered. It never blocks on the network.
func (s *Sentinel) Observe(ratio float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || ratio < s.threshold || s.triggering {
		return false
	}
	s.triggering = true
	s.wg.Add(1)
	go s.trigger()
	return true
}

func (s *Sentinel) trigger() {
	defer s.wg.Done()

	_, err := s.loader.LoadMore(s.ctx)

	s.mu.Lock()
	s.triggering = false
	closed := s.closed
	s.mu.Unlock()

	if err != nil && !closed {
		s.logger.Printf("load more: %v", err)
		if s.onError != nil {
			s.onError(err)
		}
	}
}

// Close deregisters the sentinel, cancels its in-flight load and waits for it.
// Later observations are ignored.
func (s *Sentinel) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
