// Package counter keeps the live count of engagement the user received.
// The count is always re-pulled from the remote, never incremented locally.
package counter

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
	"discover-engine/internal/observability"
	"discover-engine/internal/remote"
)

// ErrNoUser is returned by Activate when no user is signed in.
var ErrNoUser = errors.New("no current user")

// Options contains configuration for creating a Counter.
type Options struct {
	Resolver   remote.UserResolver
	Counter    remote.EngagementCounter
	Subscriber remote.EngagementSubscriber
	Topic      string           // Default: config.DefaultCounterTopic
	Now        func() time.Time // Default: time.Now
	// OnChange receives every applied state. It runs on a background goroutine.
	OnChange func(domain.CounterState)
	Logger   *log.Logger
}

// Counter is the live received-engagement count.
//
// Every pull takes a sequence number; a response is applied only if its
// sequence is newer than the applied one, so a slow pull never overwrites
// a value fetched after it.
type Counter struct {
	resolver   remote.UserResolver
	counter    remote.EngagementCounter
	subscriber remote.EngagementSubscriber
	topic      string
	now        func() time.Time
	onChange   func(domain.CounterState)
	logger     *log.Logger

	mu      sync.Mutex
	state   domain.CounterState
	nextSeq uint64
	active  bool
	userID  string
	sub     remote.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an inactive counter.
func New(opts Options) *Counter {
	topic := opts.Topic
	if topic == "" {
		topic = config.DefaultCounterTopic
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[counter] ", log.LstdFlags)
	}

	return &Counter{
		resolver:   opts.Resolver,
		counter:    opts.Counter,
		subscriber: opts.Subscriber,
		topic:      topic,
		now:        now,
		onChange:   opts.OnChange,
		logger:     logger,
	}
}

// Activate resolves the current user, starts the initial pull and opens
// the subscription. Calling it while active is a no-op.
// A subscription failure is returned; the counter stays active with the
// initial pull so Deactivate must still be called.
func (c *Counter) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	userID, err := c.resolver.CurrentUserID(ctx)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	if userID == "" {
		return ErrNoUser
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = true
	c.userID = userID
	c.state.UserID = userID
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Unlock()

	c.Refresh()

	sub, err := c.subscriber.SubscribeEngagementEvents(ctx, c.topic, userID, c.Refresh)
	if err != nil {
		c.logger.Printf("subscribe %s for %s: %v", c.topic, userID, err)
		return fmt.Errorf("subscribe engagement events: %w", err)
	}

	c.mu.Lock()
	if !c.active || c.userID != userID {
		// Deactivated while subscribing
		c.mu.Unlock()
		return sub.Unsubscribe()
	}
	c.sub = sub
	c.mu.Unlock()

	c.logger.Printf("live counter active for %s", userID)
	return nil
}

// Refresh starts a pull of the authoritative count. It never blocks.
func (c *Counter) Refresh() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.nextSeq++
	seq := c.nextSeq
	userID := c.userID
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go c.pull(ctx, seq, userID)
}

func (c *Counter) pull(ctx context.Context, seq uint64, userID string) {
	defer c.wg.Done()

	count, err := c.counter.GetReceivedEngagementCount(ctx, userID)
	if err != nil {
		observability.RecordCounterRefresh("error")
		if ctx.Err() == nil {
			c.logger.Printf("pull %d for %s: %v", seq, userID, err)
		}
		return
	}
	if count < 0 {
		count = 0
	}

	c.mu.Lock()
	if !c.active || c.userID != userID || seq <= c.state.Sequence {
		c.mu.Unlock()
		observability.RecordCounterStale()
		return
	}
	c.state = domain.CounterState{
		UserID:   userID,
		Count:    count,
		SyncedAt: c.now().UnixMilli(),
		Sequence: seq,
	}
	snap := c.state
	onChange := c.onChange
	c.mu.Unlock()

	observability.RecordCounterRefresh("ok")
	if onChange != nil {
		onChange(snap)
	}
}

// Deactivate closes the subscription and waits for in-flight pulls.
// Calling it more than once is a no-op.
func (c *Counter) Deactivate() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	sub := c.sub
	c.sub = nil
	cancel := c.cancel
	c.mu.Unlock()

	var err error
	if sub != nil {
		if uerr := sub.Unsubscribe(); uerr != nil {
			err = fmt.Errorf("unsubscribe: %w", uerr)
		}
	}
	cancel()
	c.wg.Wait()
	return err
}

// State returns the applied counter state.
func (c *Counter) State() domain.CounterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Count returns the applied count.
func (c *Counter) Count() int {
	return c.State().Count
}
