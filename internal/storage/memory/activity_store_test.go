package memory

import (
	"context"
	"errors"
	"testing"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

func TestActivityStore_InsertAndQuery(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()

	activities := []*domain.Activity{
		{ID: "a2", UserID: "alice", Type: domain.ActivitySuperlike, CreatedAt: 2000, Metadata: map[string]string{"candidateId": "bob"}},
		{ID: "a1", UserID: "alice", Type: domain.ActivityDailyLogin, CreatedAt: 1000},
		{ID: "a3", UserID: "bob", Type: domain.ActivitySwipe, CreatedAt: 1500},
		{ID: "a4", UserID: "alice", Type: domain.ActivitySwipe, CreatedAt: 3000},
	}
	for _, a := range activities {
		if err := store.Insert(ctx, a); err != nil {
			t.Fatalf("Insert %s failed: %v", a.ID, err)
		}
	}

	got, err := store.GetByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a1" || got[2].ID != "a4" {
		t.Fatalf("GetByUser: unexpected order %+v", got)
	}
	if got[1].Metadata["candidateId"] != "bob" {
		t.Errorf("metadata lost: %+v", got[1].Metadata)
	}

	// Returned metadata is a copy
	got[1].Metadata["candidateId"] = "mallory"
	again, _ := store.GetByUser(ctx, "alice")
	if again[1].Metadata["candidateId"] != "bob" {
		t.Errorf("store was mutated through returned metadata")
	}

	ranged, err := store.GetByTimeRange(ctx, "alice", 1500, 3000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(ranged) != 2 {
		t.Errorf("GetByTimeRange: got %d activities, want 2", len(ranged))
	}
}

func TestActivityStore_Errors(t *testing.T) {
	store := NewActivityStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.Activity{ID: "a1"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}

	a := &domain.Activity{ID: "a1", UserID: "alice", Type: domain.ActivitySwipe}
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, a); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}
