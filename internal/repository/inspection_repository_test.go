package repository

import (
	"context"
	"testing"
	"time"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence/persistencetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupInspectionRepo(t *testing.T) (context.Context, *miniredis.Miniredis, *redis.Client, InspectionRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return context.Background(), mr, rdb, NewInspectionRepository(rdb, time.UTC)
}

func TestInspectionRepositoryContract(t *testing.T) {
	_, _, _, repo := setupInspectionRepo(t)
	persistencetest.Run(t, repo)
}

func TestInspectionRepositoryKeys(t *testing.T) {
	ctx, mr, _, repo := setupInspectionRepo(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &domain.InspectionRecord{
		ID:           "insp-1",
		Status:       domain.InspectionSucceeded,
		ArtifactName: "bracket.xlsx",
		CreatedAt:    now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if got := mr.HGet("gdtrelay:artifacts", "bracket.xlsx"); got != "insp-1" {
		t.Errorf("artifact index = %q, want insp-1", got)
	}
	score, err := mr.ZScore("gdtrelay:inspections:ttl", "insp-1")
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if int64(score) != now.Add(24*time.Hour).Unix() {
		t.Errorf("ttl score = %v", score)
	}

	if err := repo.Delete(ctx, "insp-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists("gdtrelay:artifacts") {
		t.Errorf("artifact index should be empty after delete")
	}
}

func TestInspectionRepositorySkipsDanglingIndex(t *testing.T) {
	ctx, _, rdb, repo := setupInspectionRepo(t)

	if err := rdb.ZAdd(ctx, "gdtrelay:inspections:created", &redis.Z{Score: 1, Member: "ghost"}).Err(); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	recs, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}

func TestInspectionRepositoryListExpiredPrunesDanglingEntries(t *testing.T) {
	ctx, mr, rdb, repo := setupInspectionRepo(t)

	for i, id := range []string{"ghost-1", "ghost-2", "ghost-3"} {
		z := &redis.Z{Score: float64(i + 1), Member: id}
		if err := rdb.ZAdd(ctx, "gdtrelay:inspections:ttl", z).Err(); err != nil {
			t.Fatalf("ZAdd ttl: %v", err)
		}
		if err := rdb.ZAdd(ctx, "gdtrelay:inspections:created", z).Err(); err != nil {
			t.Fatalf("ZAdd created: %v", err)
		}
	}
	expired := time.Unix(100, 0).UTC()
	old := &domain.InspectionRecord{ID: "insp-old", Status: domain.InspectionSucceeded, CreatedAt: expired, ExpiresAt: expired}
	if err := repo.Save(ctx, old); err != nil {
		t.Fatalf("Save: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// The first page holds only dangling ids; they must not block later pages.
	recs, err := repo.ListExpired(ctx, now, 2)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records on the dangling page, got %d", len(recs))
	}
	recs, err = repo.ListExpired(ctx, now, 2)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "insp-old" {
		t.Fatalf("expected insp-old behind the dangling entries, got %+v", recs)
	}

	members, err := mr.ZMembers("gdtrelay:inspections:ttl")
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 1 || members[0] != "insp-old" {
		t.Errorf("ttl index = %v, want only insp-old", members)
	}
	if _, err := mr.ZScore("gdtrelay:inspections:created", "ghost-1"); err == nil {
		t.Error("dangling id left in the created index")
	}
}
