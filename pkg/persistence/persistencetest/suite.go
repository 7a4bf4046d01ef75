// Package persistencetest holds the behaviour every InspectionStorage
// implementation is expected to share.
package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"
)

func record(id string, created time.Time, ttl time.Duration) *domain.InspectionRecord {
	return &domain.InspectionRecord{
		ID:           id,
		Status:       domain.InspectionProcessing,
		OriginalName: id + ".pdf",
		Size:         1024,
		CreatedAt:    created,
		ExpiresAt:    created.Add(ttl),
	}
}

// Run exercises s against the InspectionStorage contract. s must start empty.
func Run(t *testing.T, s persistence.InspectionStorage) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.FindByArtifact(ctx, "nope.xlsx"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for artifact, got %v", err)
		}
	})

	t.Run("save and update", func(t *testing.T) {
		rec := record("insp-a", base, time.Hour)
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}

		done := base.Add(3 * time.Second)
		rec.Status = domain.InspectionSucceeded
		rec.ArtifactName = "insp-a.xlsx"
		rec.ArtifactSheets = []string{"Summary", "Issues"}
		rec.ArtifactRows = 14
		rec.CompletedAt = &done
		rec.DurationMs = 3000
		rec.Summary = &domain.SummaryReport{
			TotalRules:        10,
			ApplicableRules:   8,
			Passed:            7,
			Failed:            1,
			OverallRisk:       "Low",
			CompliancePercent: 87.5,
			Issues:            []domain.Issue{{RuleID: "R1", Reason: "r", Recommendation: "fix"}},
		}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save update: %v", err)
		}

		got, err := s.Get(ctx, "insp-a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != domain.InspectionSucceeded || got.ArtifactName != "insp-a.xlsx" {
			t.Errorf("unexpected record: %+v", got)
		}
		if got.Summary == nil || got.Summary.CompliancePercent != 87.5 || len(got.Summary.Issues) != 1 {
			t.Errorf("summary not kept: %+v", got.Summary)
		}
		if got.Summary != nil && got.Summary.OverallRisk != "Low" {
			t.Errorf("risk should be kept verbatim, got %q", got.Summary.OverallRisk)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
			t.Errorf("completed_at not kept: %v", got.CompletedAt)
		}
		if len(got.ArtifactSheets) != 2 || got.ArtifactRows != 14 {
			t.Errorf("workbook info not kept: %v %d", got.ArtifactSheets, got.ArtifactRows)
		}

		byName, err := s.FindByArtifact(ctx, "insp-a.xlsx")
		if err != nil {
			t.Fatalf("FindByArtifact: %v", err)
		}
		if byName.ID != "insp-a" {
			t.Errorf("expected insp-a, got %s", byName.ID)
		}
	})

	t.Run("artifact index follows latest producer", func(t *testing.T) {
		rec := record("insp-b", base.Add(time.Minute), time.Hour)
		rec.ArtifactName = "insp-a.xlsx"
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
		byName, err := s.FindByArtifact(ctx, "insp-a.xlsx")
		if err != nil {
			t.Fatalf("FindByArtifact: %v", err)
		}
		if byName.ID != "insp-b" {
			t.Errorf("expected insp-b, got %s", byName.ID)
		}
		// deleting the older producer must not drop the newer index entry
		if err := s.Delete(ctx, "insp-a"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.FindByArtifact(ctx, "insp-a.xlsx"); err != nil {
			t.Errorf("index entry lost: %v", err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		for i, id := range []string{"insp-c", "insp-d"} {
			if err := s.Save(ctx, record(id, base.Add(time.Duration(i+2)*time.Minute), time.Hour)); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
		recs, err := s.List(ctx, 2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(recs) != 2 || recs[0].ID != "insp-d" || recs[1].ID != "insp-c" {
			t.Fatalf("unexpected order: %v", ids(recs))
		}
		all, err := s.List(ctx, 100)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 records, got %v", ids(all))
		}
	})

	t.Run("expired and delete", func(t *testing.T) {
		if err := s.Save(ctx, record("insp-old", base.Add(-48*time.Hour), time.Hour)); err != nil {
			t.Fatalf("Save: %v", err)
		}
		expired, err := s.ListExpired(ctx, base, 10)
		if err != nil {
			t.Fatalf("ListExpired: %v", err)
		}
		if len(expired) != 1 || expired[0].ID != "insp-old" {
			t.Fatalf("expected only insp-old, got %v", ids(expired))
		}
		if err := s.Delete(ctx, "insp-old"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, "insp-old"); !errors.Is(err, persistence.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, "insp-old"); err != nil {
			t.Errorf("second Delete should be a no-op, got %v", err)
		}
		later, err := s.ListExpired(ctx, base.Add(2*time.Hour), 10)
		if err != nil {
			t.Fatalf("ListExpired: %v", err)
		}
		if len(later) != 3 {
			t.Errorf("expected 3 expired records, got %v", ids(later))
		}
	})
}

func ids(recs []*domain.InspectionRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
