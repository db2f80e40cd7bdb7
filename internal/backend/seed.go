package backend

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

var seedNames = []string{
	"Ada", "Bea", "Cal", "Dov", "Eli", "Fay", "Gus", "Hal", "Ivy", "Jo",
	"Kai", "Lea", "Max", "Nia", "Oz", "Pia", "Quin", "Rae", "Sol", "Tess",
}

var seedBios = []string{
	"", "coffee first", "weekend climber", "building things", "film nerd", "always outside",
}

// SeedProfiles inserts n deterministic demo profiles with IDs p0001..pNNNN.
// Profiles that already exist are skipped, so reseeding is harmless.
func SeedProfiles(ctx context.Context, store storage.ProfileStore, n int, seed uint64) (int, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	created := time.Now().UnixMilli()

	inserted := 0
	for i := 1; i <= n; i++ {
		p := &domain.Profile{
			ID:          fmt.Sprintf("p%04d", i),
			DisplayName: fmt.Sprintf("%s %d", seedNames[rng.IntN(len(seedNames))], i),
			Age:         domain.MinAge + rng.IntN(40),
			Gender:      domain.AllGenders[rng.IntN(len(domain.AllGenders))],
			Intent:      domain.AllIntents[rng.IntN(len(domain.AllIntents))],
			DistanceKm:  rng.IntN(120),
			IsCreator:   rng.IntN(5) == 0,
			IsVerified:  rng.IntN(3) == 0,
			PhotoURL:    fmt.Sprintf("https://picsum.photos/seed/p%04d/400/600", i),
			Bio:         seedBios[rng.IntN(len(seedBios))],
			CreatedAt:   created,
		}

		err := store.Insert(ctx, p)
		if errors.Is(err, storage.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return inserted, fmt.Errorf("seed profile %s: %w", p.ID, err)
		}
		inserted++
	}
	return inserted, nil
}
