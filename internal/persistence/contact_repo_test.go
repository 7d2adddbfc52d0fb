package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"meshbridge/internal/domain"
)

func openTestDB(t *testing.T) *ContactRepo {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewContactRepo(db)
}

func storedContact(id, name string, lastAdvert uint32) domain.Contact {
	c := domain.Contact{
		ID:           id,
		PublicKey:    make([]byte, 32),
		Name:         name,
		Type:         1,
		Flags:        2,
		LastAdvert:   lastAdvert,
		LastModified: lastAdvert + 1,
	}
	copy(c.Prefix[:], []byte(id)[1:7])
	copy(c.PublicKey, c.Prefix[:])

	return c
}

func TestContactRepoUpsertAndList(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	older := storedContact("!aabbccddee01", "Older", 100)
	newer := storedContact("!aabbccddee02", "Newer", 200)
	if err := repo.Upsert(ctx, older); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Upsert(ctx, newer); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A second upsert of the same id updates in place.
	older.Name = "Renamed"
	if err := repo.Upsert(ctx, older); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := repo.ListSortedByLastAdvert(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ID != "!aabbccddee02" {
		t.Fatalf("order = %q first, want newest advert first", got[0].ID)
	}
	if got[1].Name != "Renamed" {
		t.Fatalf("name = %q after re-upsert", got[1].Name)
	}
	if got[1].Prefix != older.Prefix || got[1].LastModified != older.LastModified {
		t.Fatalf("round trip mismatch: %+v", got[1])
	}
}

func TestContactRepoReplaceAll(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, storedContact("!aabbccddee01", "Stale", 1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fresh := []domain.Contact{
		storedContact("!aabbccddee02", "Fresh A", 10),
		storedContact("!aabbccddee03", "Fresh B", 20),
	}
	if err := repo.ReplaceAll(ctx, fresh); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := repo.ListSortedByLastAdvert(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	for _, c := range got {
		if c.ID == "!aabbccddee01" {
			t.Fatal("stale contact survived replace")
		}
	}
}
