// Package engagement fires best-effort gamification side effects.
// Nothing here ever fails or blocks the action that triggered it.
package engagement

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"discover-engine/internal/config"
	"discover-engine/internal/domain"
	"discover-engine/internal/observability"
	"discover-engine/internal/remote"
)

// DispatcherOptions contains configuration for creating a Dispatcher.
type DispatcherOptions struct {
	Recorder    remote.ActivityRecorder
	Timeout     time.Duration // Default: config.DefaultSideEffectTimeout
	MaxInFlight int           // Default: config.DefaultMaxInFlight
	Logger      *log.Logger
}

// Dispatcher sends side effects in the background, once each.
type Dispatcher struct {
	recorder remote.ActivityRecorder
	timeout  time.Duration
	slots    chan struct{}
	logger   *log.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.DefaultSideEffectTimeout
	}

	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = config.DefaultMaxInFlight
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engagement] ", log.LstdFlags)
	}

	return &Dispatcher{
		recorder: opts.Recorder,
		timeout:  timeout,
		slots:    make(chan struct{}, maxInFlight),
		logger:   logger,
	}
}

// Notify records activity in the background. It returns immediately and
// reports whether the notification was accepted. Failures are logged and
// counted, never returned or retried. When the in-flight limit is reached,
// or after Close, the notification is dropped and Notify returns false.
func (d *Dispatcher) Notify(ctx context.Context, activity domain.ActivityType, metadata map[string]string) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		observability.RecordSideEffect(string(activity), "dropped")
		d.logger.Printf("dropped %s: dispatcher closed", activity)
		return false
	}

	select {
	case d.slots <- struct{}{}:
	default:
		d.mu.Unlock()
		observability.RecordSideEffect(string(activity), "dropped")
		d.logger.Printf("dropped %s: %d side effects in flight", activity, cap(d.slots))
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	go d.send(context.WithoutCancel(ctx), activity, meta)
	return true
}

func (d *Dispatcher) send(ctx context.Context, activity domain.ActivityType, metadata map[string]string) {
	defer d.wg.Done()
	defer func() { <-d.slots }()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.recorder.RecordActivity(ctx, activity, metadata); err != nil {
		observability.RecordSideEffect(string(activity), "error")
		d.logger.Printf("record %s: %v", activity, err)
		return
	}
	observability.RecordSideEffect(string(activity), "ok")
}

// Close stops accepting notifications and waits for in-flight ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}
