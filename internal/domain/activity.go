package domain

// ActivityType identifies a gamification side effect.
type ActivityType string

const (
	ActivitySwipe      ActivityType = "swipe"
	ActivitySuperlike  ActivityType = "superlike"
	ActivityDailyLogin ActivityType = "daily_login"
)

// Activity is a recorded side effect, as stored by the remote service.
type Activity struct {
	ID        string
	UserID    string
	Type      ActivityType
	Metadata  map[string]string
	CreatedAt int64 // Unix timestamp in milliseconds
}
