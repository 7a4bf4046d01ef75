package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/require"
)

func openPlugin(t *testing.T, dsn string) persistence.PluginPersistence {
	t.Helper()
	p, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: "sqlite", Config: []byte(`{"dsn":"` + dsn + `"}`)},
		persistence.PluginConfig{Timezone: time.UTC},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSQLitePlugin(t *testing.T) {
	p := openPlugin(t, filepath.Join(t.TempDir(), "inspections.db"))
	require.NoError(t, p.Health(context.Background()))
	persistencetest.Run(t, p.InspectionStorage())
}

func TestSQLitePluginSurvivesReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "inspections.db")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first := openPlugin(t, dsn)
	require.NoError(t, first.InspectionStorage().Save(ctx, &domain.InspectionRecord{
		ID:           "insp-1",
		Status:       domain.InspectionSucceeded,
		ArtifactName: "flange.xlsx",
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}))
	require.NoError(t, first.Close())

	second := openPlugin(t, dsn)
	rec, err := second.InspectionStorage().FindByArtifact(ctx, "flange.xlsx")
	require.NoError(t, err)
	require.Equal(t, "insp-1", rec.ID)
}
