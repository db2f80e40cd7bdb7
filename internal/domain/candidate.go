package domain

// Candidate is a profile the viewer may swipe on.
// Candidates are immutable once fetched and belong to exactly one feed page.
type Candidate struct {
	ID          string  // opaque profile identifier
	DisplayName string  // name shown on the card
	Age         int     // years
	Gender      Gender  // male | female
	Intent      Intent  // what the profile is looking for
	DistanceKm  int     // distance from the viewer, rounded
	IsCreator   bool    // creator badge
	IsVerified  bool    // verified badge
	PhotoURL    string  // first photo, may be empty
	Bio         string  // short bio, may be empty
	Score       float64 // remote ranking score, informational only
}

// Page is one remote page of candidates.
type Page struct {
	Candidates []Candidate
	NextCursor string // opaque; empty when the remote has nothing further
	HasMore    bool
}
