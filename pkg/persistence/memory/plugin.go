package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"
)

// Plugin implements PluginPersistence for in-memory storage.
// Records are lost on restart; suitable for single-process deployments and tests.
type Plugin struct {
	mu          sync.RWMutex
	inspections map[string]*domain.InspectionRecord
	artifacts   map[string]string
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	return &Plugin{
		inspections: make(map[string]*domain.InspectionRecord),
		artifacts:   make(map[string]string),
	}, nil
}

func (p *Plugin) InspectionStorage() persistence.InspectionStorage {
	return &inspectionStorage{plugin: p}
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

type inspectionStorage struct {
	plugin *Plugin
}

func clone(rec *domain.InspectionRecord) *domain.InspectionRecord {
	c := *rec
	if rec.Summary != nil {
		s := *rec.Summary
		s.Issues = append([]domain.Issue(nil), rec.Summary.Issues...)
		c.Summary = &s
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		c.CompletedAt = &t
	}
	c.ArtifactSheets = append([]string(nil), rec.ArtifactSheets...)
	return &c
}

func (s *inspectionStorage) Save(ctx context.Context, rec *domain.InspectionRecord) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()

	s.plugin.inspections[rec.ID] = clone(rec)
	if rec.ArtifactName != "" {
		s.plugin.artifacts[rec.ArtifactName] = rec.ID
	}
	return nil
}

func (s *inspectionStorage) Get(ctx context.Context, id string) (*domain.InspectionRecord, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	rec, ok := s.plugin.inspections[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return clone(rec), nil
}

func (s *inspectionStorage) FindByArtifact(ctx context.Context, name string) (*domain.InspectionRecord, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	id, ok := s.plugin.artifacts[name]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	rec, ok := s.plugin.inspections[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return clone(rec), nil
}

func (s *inspectionStorage) List(ctx context.Context, limit int) ([]*domain.InspectionRecord, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	out := make([]*domain.InspectionRecord, 0, len(s.plugin.inspections))
	for _, rec := range s.plugin.inspections {
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inspectionStorage) ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.InspectionRecord, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	var out []*domain.InspectionRecord
	for _, rec := range s.plugin.inspections {
		if rec.ExpiresAt.Before(before) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inspectionStorage) Delete(ctx context.Context, id string) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()

	rec, ok := s.plugin.inspections[id]
	if !ok {
		return nil
	}
	if rec.ArtifactName != "" && s.plugin.artifacts[rec.ArtifactName] == id {
		delete(s.plugin.artifacts, rec.ArtifactName)
	}
	delete(s.plugin.inspections, id)
	return nil
}
