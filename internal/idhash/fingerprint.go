package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"discover-engine/internal/filter"
)

// ComputeFilterFingerprint computes a deterministic fingerprint of a query fragment.
// Formula: SHA256(minAge|maxAge|maxDistance|intents|genders|creators|verified)
// with sets joined by "," in sorted order. Returns the first 16 hex characters.
func ComputeFilterFingerprint(f filter.QueryFragment) string {
	distance := "-"
	if f.MaxDistanceKm != nil {
		distance = fmt.Sprintf("%d", *f.MaxDistanceKm)
	}

	data := fmt.Sprintf("%d|%d|%s|%s|%s|%t|%t",
		f.MinAge,
		f.MaxAge,
		distance,
		strings.Join(f.Intents, ","),
		strings.Join(f.Genders, ","),
		f.CreatorsOnly,
		f.VerifiedOnly,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])[:16]
}
