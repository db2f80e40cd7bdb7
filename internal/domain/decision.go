package domain

// Decision is the user's swipe outcome for a candidate.
type Decision string

const (
	DecisionLike      Decision = "like"
	DecisionPass      Decision = "pass"
	DecisionSuperlike Decision = "superlike"
)

// String returns the string representation of Decision.
func (d Decision) String() string {
	return string(d)
}

// IsValid checks if the decision is a valid value.
func (d Decision) IsValid() bool {
	return d == DecisionLike || d == DecisionPass || d == DecisionSuperlike
}

// IsEngagement reports whether the decision counts as inbound engagement
// for the target profile (likes and superlikes, never passes).
func (d Decision) IsEngagement() bool {
	return d == DecisionLike || d == DecisionSuperlike
}
