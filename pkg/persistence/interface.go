package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
)

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New("not found")
)

// PluginPersistence provides storage operations for persistence plugins.
// This is the main interface that all persistence backends must implement.
type PluginPersistence interface {
	// InspectionStorage returns the inspection record storage implementation
	InspectionStorage() InspectionStorage

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// InspectionStorage defines persistence operations for inspection records
type InspectionStorage interface {
	// Save inserts or replaces a record; a non-empty ArtifactName is indexed
	Save(ctx context.Context, rec *domain.InspectionRecord) error

	// Get retrieves a record by inspection ID
	Get(ctx context.Context, id string) (*domain.InspectionRecord, error)

	// FindByArtifact returns the record that last produced the named artifact
	FindByArtifact(ctx context.Context, name string) (*domain.InspectionRecord, error)

	// List returns up to limit records, newest first
	List(ctx context.Context, limit int) ([]*domain.InspectionRecord, error)

	// ListExpired returns up to limit records whose ExpiresAt is before the given time
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.InspectionRecord, error)

	// Delete removes a record and its artifact index entry
	Delete(ctx context.Context, id string) error
}
