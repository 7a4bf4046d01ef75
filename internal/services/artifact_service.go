package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/osvaldoandrade/gdtrelay/internal/metrics"
	"github.com/osvaldoandrade/gdtrelay/internal/storage"
	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"
)

type ArtifactService interface {
	// Resolve maps a client supplied artifact name onto a file inside the
	// output directory.
	Resolve(ctx context.Context, name string) (string, error)
}

type artifactService struct {
	artifacts *storage.ArtifactStore
	store     persistence.InspectionStorage
	logger    *slog.Logger
}

func NewArtifactService(artifacts *storage.ArtifactStore, store persistence.InspectionStorage, logger *slog.Logger) ArtifactService {
	if logger == nil {
		logger = slog.Default()
	}
	return &artifactService{artifacts: artifacts, store: store, logger: logger}
}

func (s *artifactService) Resolve(ctx context.Context, name string) (string, error) {
	if err := storage.ValidateArtifactName(name); err != nil {
		metrics.DownloadsTotal.WithLabelValues("invalid_name").Inc()
		return "", &domain.InspectError{Kind: domain.KindInvalidArtifactName, Message: "Invalid file name", File: name, Err: err}
	}

	var inspectionID string
	if s.store != nil {
		rec, err := s.store.FindByArtifact(ctx, name)
		switch {
		case err == nil:
			inspectionID = rec.ID
		case errors.Is(err, persistence.ErrNotFound):
		default:
			// the flat output root is still searched
			s.logger.Warn("artifact index lookup failed", "artifact", name, "err", err)
		}
	}

	path, err := s.artifacts.Locate(inspectionID, name)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
		return "", &domain.InspectError{Kind: domain.KindArtifactNotFound, Message: "File not found", File: name, Err: err}
	}
	metrics.DownloadsTotal.WithLabelValues("success").Inc()
	return path, nil
}
