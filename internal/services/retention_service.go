package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/gdtrelay/internal/metrics"
	"github.com/osvaldoandrade/gdtrelay/internal/storage"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"
)

const retentionBatch = 500

type RetentionService interface {
	Start(ctx context.Context)
	// Sweep removes every inspection whose retention ended before now.
	Sweep(ctx context.Context) (int, error)
}

type retentionService struct {
	store     persistence.InspectionStorage
	artifacts *storage.ArtifactStore
	stager    *storage.Stager
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time
}

func NewRetentionService(store persistence.InspectionStorage, artifacts *storage.ArtifactStore, stager *storage.Stager, logger *slog.Logger, intervalSeconds int, now func() time.Time) RetentionService {
	if intervalSeconds <= 0 {
		intervalSeconds = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &retentionService{
		store:     store,
		artifacts: artifacts,
		stager:    stager,
		logger:    logger,
		interval:  time.Duration(intervalSeconds) * time.Second,
		now:       now,
	}
}

func (s *retentionService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warn("retention sweep failed", "err", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("retention sweep removed", "count", removed)
			}
		}
	}
}

func (s *retentionService) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for {
		expired, err := s.store.ListExpired(ctx, s.now(), retentionBatch)
		if err != nil {
			return removed, err
		}
		progressed := 0
		for _, rec := range expired {
			if err := s.artifacts.Remove(rec.ID); err != nil {
				s.logger.Warn("retention output removal failed", "inspection_id", rec.ID, "err", err)
				continue
			}
			if s.stager != nil {
				if err := s.stager.Remove(rec.ID); err != nil {
					s.logger.Warn("retention staging removal failed", "inspection_id", rec.ID, "err", err)
				}
			}
			if err := s.store.Delete(ctx, rec.ID); err != nil {
				s.logger.Warn("retention record removal failed", "inspection_id", rec.ID, "err", err)
				continue
			}
			progressed++
		}
		removed += progressed
		metrics.RetentionRemovedTotal.Add(float64(progressed))
		if len(expired) < retentionBatch || progressed == 0 {
			return removed, nil
		}
	}
}
