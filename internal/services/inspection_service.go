package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/osvaldoandrade/gdtrelay/internal/analyzer"
	"github.com/osvaldoandrade/gdtrelay/internal/metrics"
	"github.com/osvaldoandrade/gdtrelay/internal/storage"
	"github.com/osvaldoandrade/gdtrelay/internal/validation"
	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Analyzer runs the external analysis for one staged upload.
type Analyzer interface {
	Invoke(ctx context.Context, inv analyzer.Invocation) (analyzer.Result, error)
}

type InspectionService interface {
	// Inspect stages body, runs the analyzer and returns the combined result.
	// A nil body means the request carried no file.
	Inspect(ctx context.Context, originalName string, body io.Reader) (*domain.InspectResponse, error)
	Get(ctx context.Context, id string) (*domain.InspectionRecord, error)
	List(ctx context.Context, limit int) ([]*domain.InspectionRecord, error)
}

type InspectionOptions struct {
	KeepUploads bool
	ArtifactTTL time.Duration
	// SharedSummaryPath is set for analyzers that always write the same
	// summary file. Runs are then serialized and the files moved into the
	// request's output directory.
	SharedSummaryPath string
	// SharedQueueSize caps callers waiting for the serialized shared-summary
	// run; more are rejected as busy.
	SharedQueueSize int
}

type inspectionService struct {
	stager    *storage.Stager
	artifacts *storage.ArtifactStore
	analyzer  Analyzer
	store     persistence.InspectionStorage
	opts      InspectionOptions
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	shared    *sharedGate
	publishMu sync.Mutex
}

func NewInspectionService(
	stager *storage.Stager,
	artifacts *storage.ArtifactStore,
	an Analyzer,
	store persistence.InspectionStorage,
	opts InspectionOptions,
	logger *slog.Logger,
	now func() time.Time,
) InspectionService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if opts.ArtifactTTL <= 0 {
		opts.ArtifactTTL = 24 * time.Hour
	}
	var shared *sharedGate
	if opts.SharedSummaryPath != "" {
		shared = newSharedGate(opts.SharedQueueSize)
	}
	return &inspectionService{
		shared:    shared,
		stager:    stager,
		artifacts: artifacts,
		analyzer:  an,
		store:     store,
		opts:      opts,
		logger:    logger,
		now:       now,
		newID:     uuid.NewString,
	}
}

func (s *inspectionService) Inspect(ctx context.Context, originalName string, body io.Reader) (*domain.InspectResponse, error) {
	if body == nil {
		metrics.InspectionsTotal.WithLabelValues(string(domain.KindMissingInput)).Inc()
		return nil, &domain.InspectError{Kind: domain.KindMissingInput, Message: "PDF file required"}
	}

	id := s.newID()
	started := s.now()
	ctx, span := otel.Tracer("gdtrelay/inspect").Start(ctx, "gdtrelay.inspect",
		trace.WithAttributes(
			attribute.String("gdtrelay.inspection_id", id),
			attribute.String("gdtrelay.original_name", originalName),
		),
	)
	defer span.End()
	logger := s.logger.With("inspection_id", id)

	rec := &domain.InspectionRecord{
		ID:           id,
		Status:       domain.InspectionProcessing,
		OriginalName: originalName,
		CreatedAt:    started,
		ExpiresAt:    started.Add(s.opts.ArtifactTTL),
	}

	resp, err := s.run(ctx, rec, body, logger)
	if err != nil {
		var ie *domain.InspectError
		if !errors.As(err, &ie) {
			ie = domain.NewInspectError(domain.KindInternal, "Inspection failed", err)
		}
		ie.InspectionID = id
		s.finish(ctx, rec, ie, logger)
		span.RecordError(ie)
		span.SetStatus(codes.Error, string(ie.Kind))
		return nil, ie
	}
	s.finish(ctx, rec, nil, logger)
	return resp, nil
}

func (s *inspectionService) run(ctx context.Context, rec *domain.InspectionRecord, body io.Reader, logger *slog.Logger) (*domain.InspectResponse, error) {
	up, err := s.stage(ctx, rec.ID, rec.OriginalName, body)
	if err != nil {
		return nil, err
	}
	if !s.opts.KeepUploads {
		defer func() {
			if err := s.stager.Remove(rec.ID); err != nil {
				logger.Warn("staging cleanup failed", "err", err)
			}
		}()
	}
	rec.Size = up.Size
	metrics.UploadBytes.Observe(float64(up.Size))
	logger.Info("upload staged", "size", up.Size, "content_type", up.ContentType)
	s.save(ctx, rec, logger)

	outDir, err := s.artifacts.Prepare(rec.ID)
	if err != nil {
		return nil, err
	}
	inv := analyzer.Invocation{
		ID:          rec.ID,
		InputPath:   up.Path,
		OutputDir:   outDir,
		SummaryPath: s.artifacts.SummaryPath(rec.ID),
	}

	if s.shared != nil {
		// One run at a time owns the shared summary file.
		if err := s.shared.acquire(ctx); err != nil {
			return nil, s.gateError(err, logger)
		}
		defer s.shared.release()
	}

	res, err := s.invoke(ctx, inv, logger)
	if err != nil {
		return nil, err
	}

	desc, err := validation.Descriptor(bytes.TrimSpace(res.Stdout))
	if err != nil {
		return nil, &domain.InspectError{
			Kind:    domain.KindMalformedProcessOutput,
			Message: "Invalid analyzer output",
			Details: err.Error(),
			Raw:     string(res.Stdout),
			Err:     err,
		}
	}

	summary, err := s.readSummary(ctx, inv, logger)
	if err != nil {
		return nil, err
	}

	if desc.ExcelName == "" {
		return nil, &domain.InspectError{
			Kind:    domain.KindMissingFilenameField,
			Message: "Excel filename missing from analyzer output",
			Raw:     string(res.Stdout),
		}
	}
	if err := storage.ValidateArtifactName(desc.ExcelName); err != nil {
		return nil, &domain.InspectError{
			Kind:    domain.KindMalformedProcessOutput,
			Message: "Invalid analyzer output",
			Details: fmt.Sprintf("excel_name %q is not a plain file name", desc.ExcelName),
			Raw:     string(res.Stdout),
			Err:     err,
		}
	}
	name, err := s.publishArtifact(ctx, rec, desc.ExcelName, logger)
	if err != nil {
		return nil, err
	}
	rec.Summary = summary

	return &domain.InspectResponse{
		Status:           "success",
		Summary:          summary,
		ExcelDownloadURL: domain.DownloadURL(name),
		InspectionID:     rec.ID,
	}, nil
}

func (s *inspectionService) stage(ctx context.Context, id, name string, body io.Reader) (domain.UploadedFile, error) {
	ctx, span := otel.Tracer("gdtrelay/inspect").Start(ctx, "gdtrelay.stage")
	defer span.End()

	up, err := s.stager.Stage(ctx, id, name, body)
	if err != nil {
		span.RecordError(err)
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return up, &domain.InspectError{Kind: domain.KindPayloadTooLarge, Message: "PDF exceeds upload limit", Err: err}
		}
		return up, fmt.Errorf("stage upload: %w", err)
	}
	span.SetAttributes(attribute.Int64("gdtrelay.upload_bytes", up.Size))
	return up, nil
}

func (s *inspectionService) invoke(ctx context.Context, inv analyzer.Invocation, logger *slog.Logger) (analyzer.Result, error) {
	ctx, span := otel.Tracer("gdtrelay/inspect").Start(ctx, "gdtrelay.analyzer.invoke")
	defer span.End()

	res, err := s.analyzer.Invoke(ctx, inv)
	outcome := "success"
	defer func() {
		if !errors.Is(err, analyzer.ErrBusy) {
			metrics.AnalyzerDurationSeconds.WithLabelValues(outcome).Observe(res.Duration.Seconds())
		}
	}()
	span.SetAttributes(attribute.Int("gdtrelay.exit_code", res.ExitCode))
	if err == nil {
		logger.Info("analyzer finished", "duration_ms", res.Duration.Milliseconds(), "exit_code", res.ExitCode)
		return res, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, analyzer.ErrBusy) {
		outcome = "busy"
		return res, &domain.InspectError{Kind: domain.KindAnalyzerBusy, Message: "Analyzer busy, retry later", Err: err}
	}
	outcome = "failure"
	if errors.Is(err, analyzer.ErrTimeout) {
		outcome = "timeout"
	}
	details := string(bytes.TrimSpace(res.Stderr))
	if details == "" {
		details = err.Error()
	}
	logger.Warn("analyzer failed", "duration_ms", res.Duration.Milliseconds(), "exit_code", res.ExitCode, "err", err)
	return res, &domain.InspectError{
		Kind:    domain.KindProcessExecutionFailure,
		Message: "Processing failed",
		Details: details,
		Err:     err,
	}
}

// readSummary runs only after a zero exit.
func (s *inspectionService) readSummary(ctx context.Context, inv analyzer.Invocation, logger *slog.Logger) (*domain.SummaryReport, error) {
	_, span := otel.Tracer("gdtrelay/inspect").Start(ctx, "gdtrelay.summary.read")
	defer span.End()

	path := inv.SummaryPath
	if s.opts.SharedSummaryPath != "" {
		if err := s.adoptShared(inv, logger); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &domain.InspectError{Kind: domain.KindMissingSummaryArtifact, Message: "summary.json not generated", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	summary, err := validation.Summary(data)
	if err != nil {
		span.RecordError(err)
		return nil, &domain.InspectError{
			Kind:    domain.KindInvalidSummary,
			Message: "summary.json is invalid",
			Details: err.Error(),
			Err:     err,
		}
	}
	if !summary.Consistent() {
		logger.Warn("summary counters exceed applicable rules",
			"applicable_rules", summary.ApplicableRules,
			"passed", summary.Passed,
			"failed", summary.Failed,
			"not_applicable", summary.NotApplicable,
		)
	}
	return summary, nil
}

// adoptShared moves the fixed-path summary into the request directory.
func (s *inspectionService) adoptShared(inv analyzer.Invocation, logger *slog.Logger) error {
	if _, err := os.Stat(s.opts.SharedSummaryPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	moved, err := s.artifacts.Adopt(inv.ID, s.opts.SharedSummaryPath)
	if err != nil {
		return fmt.Errorf("adopt shared summary: %w", err)
	}
	if moved != inv.SummaryPath {
		if err := os.Rename(moved, inv.SummaryPath); err != nil {
			return fmt.Errorf("adopt shared summary: %w", err)
		}
	}
	logger.Debug("shared summary adopted", "from", s.opts.SharedSummaryPath)
	return nil
}

// publishArtifact makes name downloadable for rec alone. A file left in the
// flat output root is moved into the request directory, and a name another
// live inspection already published is replaced by one unique to rec.
func (s *inspectionService) publishArtifact(ctx context.Context, rec *domain.InspectionRecord, name string, logger *slog.Logger) (string, error) {
	path, err := s.artifacts.Locate(rec.ID, name)
	if err != nil {
		logger.Warn("artifact named by analyzer not found", "artifact", name)
		path = ""
	}
	if path != "" && filepath.Dir(path) == filepath.Clean(s.artifacts.Root()) {
		if moved, err := s.artifacts.Adopt(rec.ID, path); err == nil {
			path = moved
		} else {
			logger.Warn("artifact adopt failed", "artifact", name, "err", err)
		}
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if s.nameTaken(ctx, rec, name, logger) {
		unique := storage.UniqueName(name, rec.ID)
		if path != "" {
			renamed, err := s.artifacts.Rename(rec.ID, name, unique)
			if err != nil {
				return "", domain.NewInspectError(domain.KindInternal, "Cannot publish artifact", err)
			}
			path = renamed
		}
		logger.Info("artifact name in use by another inspection, renamed", "artifact", name, "published_as", unique)
		name = unique
	}
	rec.ArtifactName = name
	// Index the name before releasing the lock so the next claim sees it.
	s.save(ctx, rec, logger)

	if path != "" && filepath.Ext(path) == ".xlsx" {
		info, err := storage.ProbeWorkbook(path)
		if err != nil {
			logger.Warn("artifact workbook probe failed", "artifact", name, "err", err)
		} else {
			rec.ArtifactSheets = info.Sheets
			rec.ArtifactRows = info.Rows
		}
	}
	return name, nil
}

// nameTaken reports whether another unexpired inspection owns name. Lookup
// failures count as taken.
func (s *inspectionService) nameTaken(ctx context.Context, rec *domain.InspectionRecord, name string, logger *slog.Logger) bool {
	if s.store == nil {
		return false
	}
	owner, err := s.store.FindByArtifact(ctx, name)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return false
	case err != nil:
		logger.Warn("artifact index lookup failed", "artifact", name, "err", err)
		return true
	}
	return owner.ID != rec.ID && owner.ExpiresAt.After(s.now())
}

func (s *inspectionService) gateError(err error, logger *slog.Logger) error {
	if errors.Is(err, analyzer.ErrBusy) {
		return &domain.InspectError{Kind: domain.KindAnalyzerBusy, Message: "Analyzer busy, retry later", Err: err}
	}
	logger.Warn("gave up waiting for the shared analyzer", "err", err)
	return &domain.InspectError{Kind: domain.KindProcessExecutionFailure, Message: "Processing failed", Details: err.Error(), Err: err}
}

func (s *inspectionService) finish(ctx context.Context, rec *domain.InspectionRecord, ie *domain.InspectError, logger *slog.Logger) {
	done := s.now()
	rec.CompletedAt = &done
	rec.DurationMs = done.Sub(rec.CreatedAt).Milliseconds()
	outcome := "success"
	if ie != nil {
		rec.Status = domain.InspectionFailed
		rec.ErrorKind = ie.Kind
		rec.Error = ie.Message
		outcome = string(ie.Kind)
		logger.Warn("inspection failed", "kind", ie.Kind, "duration_ms", rec.DurationMs, "err", ie)
	} else {
		rec.Status = domain.InspectionSucceeded
		logger.Info("inspection succeeded", "artifact", rec.ArtifactName, "duration_ms", rec.DurationMs)
	}
	metrics.InspectionsTotal.WithLabelValues(outcome).Inc()
	// Detach from the request so a client disconnect does not drop the record.
	s.save(context.WithoutCancel(ctx), rec, logger)
}

func (s *inspectionService) save(ctx context.Context, rec *domain.InspectionRecord, logger *slog.Logger) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, rec); err != nil {
		logger.Warn("inspection record save failed", "status", rec.Status, "err", err)
	}
}

func (s *inspectionService) Get(ctx context.Context, id string) (*domain.InspectionRecord, error) {
	return s.store.Get(ctx, id)
}

func (s *inspectionService) List(ctx context.Context, limit int) ([]*domain.InspectionRecord, error) {
	return s.store.List(ctx, limit)
}
