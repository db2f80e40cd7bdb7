package domain

// CounterState is the locally cached count of inbound engagement.
// It reflects what others did to the user, never the user's own swipes.
type CounterState struct {
	UserID   string
	Count    int
	SyncedAt int64  // Unix timestamp in milliseconds of the applied pull
	Sequence uint64 // fetch sequence number of the applied pull
}
