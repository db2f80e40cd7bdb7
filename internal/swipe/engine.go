// Package swipe implements the optimistic swipe engine: local deck mutation,
// asynchronous remote submission and a single-slot undo window.
package swipe

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"discover-engine/internal/config"
	"discover-engine/internal/domain"
	"discover-engine/internal/observability"
	"discover-engine/internal/remote"
)

var (
	ErrUnknownCandidate = errors.New("unknown candidate")
	ErrNothingToUndo    = errors.New("nothing to undo")
	ErrClosed           = errors.New("engine closed")
	ErrInvalidDecision  = errors.New("invalid decision")
)

// Deck is the visible candidate sequence. *feed.Feed implements it.
// Restores carry the generation returned by Remove and are dropped by the
// deck once it has been rebuilt for other filters.
type Deck interface {
	Remove(id string) (gen uint64, index int, c domain.Candidate, ok bool)
	InsertAt(gen uint64, index int, c domain.Candidate) bool
	PushFront(gen uint64, c domain.Candidate) bool
}

// Notifier receives confirmed actions. *engagement.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, activity domain.ActivityType, metadata map[string]string) bool
}

// Timer is a stoppable pending call.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options contains configuration for creating an Engine.
type Options struct {
	Deck       Deck
	Mutator    remote.SwipeMutator
	Notifier   Notifier      // Optional
	UndoWindow time.Duration // Default: config.DefaultUndoWindow
	AfterFunc  AfterFunc     // Default: time.AfterFunc
	Now        func() time.Time
	// OnError receives user-visible failures: a failed submission
	// (record status failed) or a failed compensating undo.
	OnError func(rec domain.SwipeRecord, err error)
	Logger  *log.Logger
}

// record is the engine-side state of a swipe.
type record struct {
	domain.SwipeRecord
	candidate domain.Candidate
	deckGen   uint64 // deck generation at removal
	index     int    // deck index before removal

	submitted bool          // submitSwipe has been issued
	cancelled bool          // undone before submitSwipe was issued
	done      chan struct{} // closed when the submission resolves or is cancelled
	submitErr error
}

// Engine applies swipe decisions optimistically and reconciles them with
// the remote store. Exactly one record is undoable at any time.
type Engine struct {
	deck       Deck
	mutator    remote.SwipeMutator
	notifier   Notifier
	undoWindow time.Duration
	afterFunc  AfterFunc
	now        func() time.Time
	onError    func(domain.SwipeRecord, error)
	logger     *log.Logger

	mu        sync.Mutex
	entropy   io.Reader
	records   map[string]*record
	current   *record // owner of the open undo window
	windowGen uint64
	timer     Timer
	closed    bool
	wg        sync.WaitGroup
}

// NewEngine creates a swipe engine.
func NewEngine(opts Options) *Engine {
	undoWindow := opts.UndoWindow
	if undoWindow <= 0 {
		undoWindow = config.DefaultUndoWindow
	}

	afterFunc := opts.AfterFunc
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[swipe] ", log.LstdFlags)
	}

	return &Engine{
		deck:       opts.Deck,
		mutator:    opts.Mutator,
		notifier:   opts.Notifier,
		undoWindow: undoWindow,
		afterFunc:  afterFunc,
		now:        now,
		onError:    opts.OnError,
		logger:     logger,
		entropy:    ulid.Monotonic(rand.Reader, 0),
		records:    make(map[string]*record),
	}
}

// Swipe applies decision to the candidate. The candidate leaves the deck
// immediately, the new record takes the undo window and the remote
// submission runs in the background.
func (e *Engine) Swipe(ctx context.Context, candidateID string, decision domain.Decision) (domain.SwipeRecord, error) {
	if !decision.IsValid() {
		return domain.SwipeRecord{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.SwipeRecord{}, ErrClosed
	}

	deckGen, index, candidate, ok := e.deck.Remove(candidateID)
	if !ok {
		e.mu.Unlock()
		return domain.SwipeRecord{}, fmt.Errorf("%w: %s", ErrUnknownCandidate, candidateID)
	}

	now := e.now()
	rec := &record{
		SwipeRecord: domain.SwipeRecord{
			ID:          ulid.MustNew(ulid.Timestamp(now), e.entropy).String(),
			CandidateID: candidateID,
			Decision:    decision,
			CreatedAt:   now.UnixMilli(),
			Status:      domain.StatusPending,
		},
		candidate: candidate,
		deckGen:   deckGen,
		index:     index,
		done:      make(chan struct{}),
	}
	e.records[rec.ID] = rec
	e.openWindow(rec)
	snap := e.snapshot(rec)

	e.wg.Add(1)
	e.mu.Unlock()

	observability.RecordSwipe(decision.String())
	go e.submit(context.WithoutCancel(ctx), rec)

	return snap, nil
}

// submit issues submitSwipe for rec unless it was undone first.
func (e *Engine) submit(ctx context.Context, rec *record) {
	defer e.wg.Done()
	defer close(rec.done)

	e.mu.Lock()
	if rec.cancelled {
		e.mu.Unlock()
		return
	}
	rec.submitted = true
	req := domain.SwipeRequest{
		SwipeID:     rec.ID,
		CandidateID: rec.CandidateID,
		Decision:    rec.Decision,
		CreatedAt:   rec.CreatedAt,
	}
	e.mu.Unlock()

	err := e.mutator.SubmitSwipe(ctx, req)

	e.mu.Lock()
	rec.submitErr = err

	if rec.Status == domain.StatusUndone {
		// Undo won the race; the compensator waits on rec.done
		e.mu.Unlock()
		if err != nil {
			e.logger.Printf("swipe %s failed after undo: %v", rec.ID, err)
		}
		return
	}

	if err != nil {
		rec.Status = domain.StatusFailed
		restored := e.deck.InsertAt(rec.deckGen, rec.index, rec.candidate)
		if e.current == rec {
			e.closeWindow()
		}
		snap := e.snapshot(rec)
		e.mu.Unlock()

		observability.RecordSwipeOutcome(string(domain.StatusFailed))
		if restored {
			e.logger.Printf("swipe %s on %s failed, candidate restored at %d: %v", rec.ID, rec.CandidateID, rec.index, err)
		} else {
			e.logger.Printf("swipe %s on %s failed, deck changed since swipe: %v", rec.ID, rec.CandidateID, err)
		}
		if e.onError != nil {
			e.onError(snap, err)
		}
		return
	}

	rec.Status = domain.StatusConfirmed
	e.mu.Unlock()

	observability.RecordSwipeOutcome(string(domain.StatusConfirmed))
	if e.notifier != nil {
		activity := domain.ActivitySwipe
		if rec.Decision == domain.DecisionSuperlike {
			activity = domain.ActivitySuperlike
		}
		e.notifier.Notify(ctx, activity, map[string]string{
			"swipeId":     rec.ID,
			"candidateId": rec.CandidateID,
			"decision":    rec.Decision.String(),
		})
	}
}

// Undo reverts the record owning the undo window. The candidate returns to
// the front of the deck at once; the compensating remote call is issued
// only after the original submission completes, and skipped when the
// submission never happened or failed.
func (e *Engine) Undo(ctx context.Context) (domain.SwipeRecord, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.SwipeRecord{}, ErrClosed
	}

	rec := e.current
	if rec == nil || (rec.Status != domain.StatusPending && rec.Status != domain.StatusConfirmed) {
		e.mu.Unlock()
		return domain.SwipeRecord{}, ErrNothingToUndo
	}

	rec.Status = domain.StatusUndone
	e.closeWindow()
	e.deck.PushFront(rec.deckGen, rec.candidate)

	compensate := rec.submitted
	if !compensate {
		rec.cancelled = true
	} else {
		e.wg.Add(1)
	}
	snap := e.snapshot(rec)
	e.mu.Unlock()

	observability.RecordUndo()
	if compensate {
		go e.compensate(context.WithoutCancel(ctx), rec)
	}
	return snap, nil
}

// compensate issues undoSwipe after the original submission resolves.
func (e *Engine) compensate(ctx context.Context, rec *record) {
	defer e.wg.Done()

	<-rec.done

	e.mu.Lock()
	submitErr := rec.submitErr
	e.mu.Unlock()

	if submitErr != nil {
		// Nothing was written remotely
		return
	}

	if err := e.mutator.UndoSwipe(ctx, rec.ID, rec.CandidateID); err != nil {
		observability.RecordCompensatorError()
		e.logger.Printf("undo %s: %v", rec.ID, err)
		if e.onError != nil {
			e.mu.Lock()
			snap := e.snapshot(rec)
			e.mu.Unlock()
			e.onError(snap, fmt.Errorf("undo swipe %s: %w", rec.ID, err))
		}
	}
}

// openWindow gives the undo window to rec, invalidating any previous one.
// Caller must hold e.mu.
func (e *Engine) openWindow(rec *record) {
	e.closeWindow()
	e.current = rec
	gen := e.windowGen
	e.timer = e.afterFunc(e.undoWindow, func() { e.expire(gen) })
}

// closeWindow stops the timer and closes the window. Caller must hold e.mu.
func (e *Engine) closeWindow() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.current = nil
	e.windowGen++
}

// expire closes the window opened as generation gen, if still open.
func (e *Engine) expire(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.windowGen || e.current == nil {
		return
	}
	e.logger.Printf("undo window for %s expired", e.current.ID)
	e.timer = nil
	e.current = nil
	e.windowGen++
}

// snapshot copies rec. Caller must hold e.mu.
func (e *Engine) snapshot(rec *record) domain.SwipeRecord {
	s := rec.SwipeRecord
	s.Undoable = e.current == rec
	return s
}

// Current returns the record that can be undone, if any.
func (e *Engine) Current() (domain.SwipeRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return domain.SwipeRecord{}, false
	}
	return e.snapshot(e.current), true
}

// Record returns the record with the given ID.
func (e *Engine) Record(id string) (domain.SwipeRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[id]
	if !ok {
		return domain.SwipeRecord{}, false
	}
	return e.snapshot(rec), true
}

// Close stops the undo timer, rejects further swipes and waits for
// in-flight remote work to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.closeWindow()
	e.mu.Unlock()

	e.wg.Wait()
}
