package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Config holds SQLite-specific configuration
type Config struct {
	DSN string `json:"dsn"`
}

// inspectionRow keeps the indexed columns next to the JSON encoded record.
type inspectionRow struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Status       string    `gorm:"size:16"`
	ArtifactName string    `gorm:"size:255;index"`
	CreatedAt    time.Time `gorm:"index"`
	ExpiresAt    time.Time `gorm:"index"`
	Record       []byte
}

func (inspectionRow) TableName() string { return "inspections" }

// Plugin implements PluginPersistence on a local SQLite database
type Plugin struct {
	db *gorm.DB
	tz *time.Location
}

// NewPlugin opens (and migrates) the database named by Config.DSN.
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if err := json.Unmarshal(config.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		cfg.DSN = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.DSN, err)
	}
	if err := db.AutoMigrate(&inspectionRow{}); err != nil {
		return nil, fmt.Errorf("migrate inspections: %w", err)
	}
	tz := config.Timezone
	if tz == nil {
		tz = time.UTC
	}
	return &Plugin{db: db, tz: tz}, nil
}

func (p *Plugin) InspectionStorage() persistence.InspectionStorage {
	return &inspectionStorage{db: p.db, tz: p.tz}
}

func (p *Plugin) Health(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (p *Plugin) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func init() {
	persistence.RegisterProvider("sqlite", NewPlugin)
}

type inspectionStorage struct {
	db *gorm.DB
	tz *time.Location
}

func (s *inspectionStorage) Save(ctx context.Context, rec *domain.InspectionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal inspection: %w", err)
	}
	row := inspectionRow{
		ID:           rec.ID,
		Status:       string(rec.Status),
		ArtifactName: rec.ArtifactName,
		CreatedAt:    rec.CreatedAt.UTC(),
		ExpiresAt:    rec.ExpiresAt.UTC(),
		Record:       b,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save inspection: %w", err)
	}
	return nil
}

func (s *inspectionStorage) Get(ctx context.Context, id string) (*domain.InspectionRecord, error) {
	var row inspectionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inspection: %w", err)
	}
	return s.decode(row)
}

func (s *inspectionStorage) FindByArtifact(ctx context.Context, name string) (*domain.InspectionRecord, error) {
	var row inspectionRow
	err := s.db.WithContext(ctx).
		Where("artifact_name = ?", name).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find artifact: %w", err)
	}
	return s.decode(row)
}

func (s *inspectionStorage) List(ctx context.Context, limit int) ([]*domain.InspectionRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []inspectionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	return s.decodeAll(rows)
}

func (s *inspectionStorage) ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.InspectionRecord, error) {
	q := s.db.WithContext(ctx).Where("expires_at < ?", before.UTC()).Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []inspectionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list expired inspections: %w", err)
	}
	return s.decodeAll(rows)
}

func (s *inspectionStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&inspectionRow{}).Error; err != nil {
		return fmt.Errorf("delete inspection: %w", err)
	}
	return nil
}

func (s *inspectionStorage) decode(row inspectionRow) (*domain.InspectionRecord, error) {
	var rec domain.InspectionRecord
	if err := json.Unmarshal(row.Record, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal inspection %s: %w", row.ID, err)
	}
	rec.CreatedAt = rec.CreatedAt.In(s.tz)
	rec.ExpiresAt = rec.ExpiresAt.In(s.tz)
	return &rec, nil
}

func (s *inspectionStorage) decodeAll(rows []inspectionRow) ([]*domain.InspectionRecord, error) {
	out := make([]*domain.InspectionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := s.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
