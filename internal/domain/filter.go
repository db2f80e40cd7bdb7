package domain

// Intent is what a profile is looking for on the platform.
type Intent string

const (
	IntentDating     Intent = "dating"
	IntentFriendship Intent = "friendship"
	IntentNetworking Intent = "networking"
)

// AllIntents is the full intent set, in canonical order.
var AllIntents = []Intent{IntentDating, IntentFriendship, IntentNetworking}

// IsValid checks if the intent is a valid value.
func (i Intent) IsValid() bool {
	return i == IntentDating || i == IntentFriendship || i == IntentNetworking
}

// Gender of a profile as used by discovery filters.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// AllGenders is the full gender set, in canonical order.
var AllGenders = []Gender{GenderMale, GenderFemale}

// IsValid checks if the gender is a valid value.
func (g Gender) IsValid() bool {
	return g == GenderMale || g == GenderFemale
}

// Filter bounds and defaults.
const (
	MinAge          = 18
	MaxAge          = 99
	DefaultDistance = 50
)

// AgeRange is an inclusive age interval.
type AgeRange struct {
	Min int
	Max int
}

// FilterState is the normalized set of discovery filters.
// Invariant: MinAge <= AgeRange.Min <= AgeRange.Max <= MaxAge, Distance >= 0,
// sets are deduplicated and kept in canonical order.
type FilterState struct {
	AgeRange           AgeRange
	Distance           int // km
	InterestedIn       []Intent
	InterestedInGender []Gender
	ShowCreatorsOnly   bool
	ShowVerifiedOnly   bool
}

// DefaultFilterState returns the filters a new session starts with.
func DefaultFilterState() FilterState {
	intents := make([]Intent, len(AllIntents))
	copy(intents, AllIntents)
	genders := make([]Gender, len(AllGenders))
	copy(genders, AllGenders)

	return FilterState{
		AgeRange:           AgeRange{Min: MinAge, Max: MaxAge},
		Distance:           DefaultDistance,
		InterestedIn:       intents,
		InterestedInGender: genders,
	}
}
