package domain

// RemoteStatus is the reconciliation state of a swipe record.
type RemoteStatus string

const (
	StatusPending   RemoteStatus = "pending"
	StatusConfirmed RemoteStatus = "confirmed"
	StatusFailed    RemoteStatus = "failed"
	StatusUndone    RemoteStatus = "undone"
)

// IsTerminal reports whether the status can no longer change.
// Confirmed is not terminal: a confirmed record may still be undone.
func (s RemoteStatus) IsTerminal() bool {
	return s == StatusFailed || s == StatusUndone
}

// SwipeRecord is a single swipe decision and its reconciliation state.
type SwipeRecord struct {
	ID          string // ULID, also the idempotency key of the remote mutation
	CandidateID string
	Decision    Decision
	CreatedAt   int64 // Unix timestamp in milliseconds
	Status      RemoteStatus
	Undoable    bool // true while this record owns the open undo window
}

// SwipeRequest is the remote mutation payload for a swipe.
type SwipeRequest struct {
	SwipeID     string
	CandidateID string
	Decision    Decision
	CreatedAt   int64 // Unix timestamp in milliseconds
}
