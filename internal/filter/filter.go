// Package filter normalizes discovery filters and shapes them into the
// query fragment consumed by the candidate feed. Everything here is a pure
// transform: malformed input is corrected, never rejected.
package filter

import (
	"sort"

	"discover-engine/internal/domain"
)

// Raw is unvalidated filter input as it arrives from the filter sheet or CLI.
type Raw struct {
	MinAge             int
	MaxAge             int
	Distance           int
	InterestedIn       []string
	InterestedInGender []string
	ShowCreatorsOnly   bool
	ShowVerifiedOnly   bool
}

// DefaultRaw returns raw input equivalent to the default filters.
func DefaultRaw() Raw {
	return FromState(domain.DefaultFilterState())
}

// FromState converts a normalized state back to raw input.
func FromState(s domain.FilterState) Raw {
	raw := Raw{
		MinAge:           s.AgeRange.Min,
		MaxAge:           s.AgeRange.Max,
		Distance:         s.Distance,
		ShowCreatorsOnly: s.ShowCreatorsOnly,
		ShowVerifiedOnly: s.ShowVerifiedOnly,
	}
	for _, i := range s.InterestedIn {
		raw.InterestedIn = append(raw.InterestedIn, string(i))
	}
	for _, g := range s.InterestedInGender {
		raw.InterestedInGender = append(raw.InterestedInGender, string(g))
	}
	return raw
}

// Normalize clamps out-of-range values and deduplicates set members.
// A reversed age range is swapped. Unknown set members are dropped, and a
// set left empty falls back to the full set (no restriction).
func Normalize(raw Raw) domain.FilterState {
	minAge, maxAge := raw.MinAge, raw.MaxAge
	if minAge > maxAge {
		minAge, maxAge = maxAge, minAge
	}
	minAge = clamp(minAge, domain.MinAge, domain.MaxAge)
	maxAge = clamp(maxAge, domain.MinAge, domain.MaxAge)

	distance := raw.Distance
	if distance < 0 {
		distance = 0
	}

	return domain.FilterState{
		AgeRange:           domain.AgeRange{Min: minAge, Max: maxAge},
		Distance:           distance,
		InterestedIn:       normalizeIntents(raw.InterestedIn),
		InterestedInGender: normalizeGenders(raw.InterestedInGender),
		ShowCreatorsOnly:   raw.ShowCreatorsOnly,
		ShowVerifiedOnly:   raw.ShowVerifiedOnly,
	}
}

// ActiveCount returns the number of fields deviating from the defaults.
// Each field counts at most once regardless of how far it deviates.
func ActiveCount(s domain.FilterState) int {
	def := domain.DefaultFilterState()
	count := 0
	if s.AgeRange != def.AgeRange {
		count++
	}
	if s.Distance != def.Distance {
		count++
	}
	if len(s.InterestedIn) != len(def.InterestedIn) {
		count++
	}
	if len(s.InterestedInGender) != len(def.InterestedInGender) {
		count++
	}
	if s.ShowCreatorsOnly {
		count++
	}
	if s.ShowVerifiedOnly {
		count++
	}
	return count
}

// QueryFragment is the remote query descriptor derived from a FilterState.
// Only constraints that deviate from the defaults are set; a zero fragment
// means "no filtering".
type QueryFragment struct {
	MinAge        int      `json:"minAge,omitempty"`
	MaxAge        int      `json:"maxAge,omitempty"`
	MaxDistanceKm *int     `json:"maxDistanceKm,omitempty"`
	Intents       []string `json:"intents,omitempty"`
	Genders       []string `json:"genders,omitempty"`
	CreatorsOnly  bool     `json:"creatorsOnly,omitempty"`
	VerifiedOnly  bool     `json:"verifiedOnly,omitempty"`
}

// ToQueryFragment shapes a normalized state into a query fragment.
// The default distance is still sent: distance always bounds discovery.
func ToQueryFragment(s domain.FilterState) QueryFragment {
	def := domain.DefaultFilterState()
	frag := QueryFragment{
		CreatorsOnly: s.ShowCreatorsOnly,
		VerifiedOnly: s.ShowVerifiedOnly,
	}

	if s.AgeRange != def.AgeRange {
		frag.MinAge = s.AgeRange.Min
		frag.MaxAge = s.AgeRange.Max
	}

	distance := s.Distance
	frag.MaxDistanceKm = &distance

	if len(s.InterestedIn) != len(def.InterestedIn) {
		for _, i := range s.InterestedIn {
			frag.Intents = append(frag.Intents, string(i))
		}
		sort.Strings(frag.Intents)
	}
	if len(s.InterestedInGender) != len(def.InterestedInGender) {
		for _, g := range s.InterestedInGender {
			frag.Genders = append(frag.Genders, string(g))
		}
		sort.Strings(frag.Genders)
	}

	return frag
}

// Matches reports whether a profile satisfies the fragment.
// Used by the reference backend; the client never filters locally.
func (f QueryFragment) Matches(p domain.Profile) bool {
	if f.MinAge > 0 && p.Age < f.MinAge {
		return false
	}
	if f.MaxAge > 0 && p.Age > f.MaxAge {
		return false
	}
	if f.MaxDistanceKm != nil && p.DistanceKm > *f.MaxDistanceKm {
		return false
	}
	if len(f.Intents) > 0 && !containsString(f.Intents, string(p.Intent)) {
		return false
	}
	if len(f.Genders) > 0 && !containsString(f.Genders, string(p.Gender)) {
		return false
	}
	if f.CreatorsOnly && !p.IsCreator {
		return false
	}
	if f.VerifiedOnly && !p.IsVerified {
		return false
	}
	return true
}

func normalizeIntents(in []string) []domain.Intent {
	seen := make(map[domain.Intent]bool, len(in))
	for _, s := range in {
		i := domain.Intent(s)
		if i.IsValid() {
			seen[i] = true
		}
	}
	if len(seen) == 0 {
		return append([]domain.Intent(nil), domain.AllIntents...)
	}
	out := make([]domain.Intent, 0, len(seen))
	for _, i := range domain.AllIntents {
		if seen[i] {
			out = append(out, i)
		}
	}
	return out
}

func normalizeGenders(in []string) []domain.Gender {
	seen := make(map[domain.Gender]bool, len(in))
	for _, s := range in {
		g := domain.Gender(s)
		if g.IsValid() {
			seen[g] = true
		}
	}
	if len(seen) == 0 {
		return append([]domain.Gender(nil), domain.AllGenders...)
	}
	out := make([]domain.Gender, 0, len(seen))
	for _, g := range domain.AllGenders {
		if seen[g] {
			out = append(out, g)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
