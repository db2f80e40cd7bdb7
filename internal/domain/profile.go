package domain

// Profile is the remote service's view of a user profile.
// Candidates are projections of profiles relative to a viewer.
type Profile struct {
	ID          string
	DisplayName string
	Age         int
	Gender      Gender
	Intent      Intent
	DistanceKm  int
	IsCreator   bool
	IsVerified  bool
	PhotoURL    string
	Bio         string
	CreatedAt   int64 // Unix timestamp in milliseconds
}

// Swipe is a swipe as persisted by the remote service.
type Swipe struct {
	ID          string
	SwiperID    string
	CandidateID string
	Decision    Decision
	CreatedAt   int64 // Unix timestamp in milliseconds
	UndoneAt    int64 // Unix timestamp in milliseconds, 0 while the swipe stands
}
