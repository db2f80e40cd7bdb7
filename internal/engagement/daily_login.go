package engagement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"discover-engine/internal/domain"
	"discover-engine/internal/markers"
)

// ErrNoUser is returned by Track for an empty user ID.
var ErrNoUser = errors.New("no user")

// Notifier receives side effects and reports whether it accepted one.
// *Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, activity domain.ActivityType, metadata map[string]string) bool
}

// DateLayout is the calendar date format stored in daily-login markers.
const DateLayout = "2006-01-02"

// DailyLoginMarkerKey returns the marker key holding userID's last daily-login date.
func DailyLoginMarkerKey(userID string) string {
	return "daily_login:" + userID
}

// TrackerOptions contains configuration for creating a DailyLoginTracker.
type TrackerOptions struct {
	Store    markers.Store
	Notifier Notifier
	Now      func() time.Time // Default: time.Now
	Location *time.Location   // Calendar used for "today". Default: time.Local
	Logger   *log.Logger
}

// DailyLoginTracker fires the daily_login side effect at most once per user
// per calendar day.
type DailyLoginTracker struct {
	store    markers.Store
	notifier Notifier
	now      func() time.Time
	loc      *time.Location
	logger   *log.Logger

	// serializes get+set so concurrent calls fire at most once
	mu sync.Mutex
}

// NewDailyLoginTracker creates a tracker.
func NewDailyLoginTracker(opts TrackerOptions) *DailyLoginTracker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engagement] ", log.LstdFlags)
	}

	return &DailyLoginTracker{
		store:    opts.Store,
		notifier: opts.Notifier,
		now:      now,
		loc:      loc,
		logger:   logger,
	}
}

// Track fires daily_login for userID unless it already fired today.
// It reports whether the side effect fired. Marker store errors are
// returned for the caller to log; the side effect is skipped in that case.
// The marker is reserved before notifying and put back when the notifier
// drops the event, so a later call the same day can still fire.
func (t *DailyLoginTracker) Track(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, ErrNoUser
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	today := t.now().In(t.loc).Format(DateLayout)
	key := DailyLoginMarkerKey(userID)

	last, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get daily login marker: %w", err)
	}
	if ok && last == today {
		return false, nil
	}

	if err := t.store.Set(ctx, key, today); err != nil {
		return false, fmt.Errorf("set daily login marker: %w", err)
	}

	accepted := t.notifier.Notify(ctx, domain.ActivityDailyLogin, map[string]string{
		"userId": userID,
		"date":   today,
	})
	if !accepted {
		if err := t.store.Set(ctx, key, last); err != nil {
			return false, fmt.Errorf("restore daily login marker: %w", err)
		}
		t.logger.Printf("daily login for %s on %s dropped, marker restored", userID, today)
		return false, nil
	}
	t.logger.Printf("daily login for %s on %s", userID, today)
	return true, nil
}
