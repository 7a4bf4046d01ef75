package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/gdtrelay/internal/storage"
	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionService_Sweep(t *testing.T) {
	root := t.TempDir()
	artifacts := storage.NewArtifactStore(filepath.Join(root, "output"))
	stager := storage.NewStager(filepath.Join(root, "uploads"))
	plugin, _ := memory.NewPlugin(persistence.PluginConfig{})
	store := plugin.InspectionStorage()
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, r := range []struct {
		id      string
		expires time.Time
	}{
		{"old-1", now.Add(-time.Hour)},
		{"old-2", now.Add(-time.Minute)},
		{"fresh", now.Add(time.Hour)},
	} {
		dir, err := artifacts.Prepare(r.id)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, r.id+".xlsx"), []byte("PK"), 0o644))
		require.NoError(t, store.Save(ctx, &domain.InspectionRecord{
			ID:           r.id,
			ArtifactName: r.id + ".xlsx",
			CreatedAt:    r.expires.Add(-24 * time.Hour),
			ExpiresAt:    r.expires,
		}))
	}
	_, err := stager.Stage(ctx, "old-1", "kept.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)

	svc := NewRetentionService(store, artifacts, stager, nil, 60, func() time.Time { return now })
	removed, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, id := range []string{"old-1", "old-2"} {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, persistence.ErrNotFound)
		_, err = os.Stat(artifacts.Dir(id))
		assert.True(t, os.IsNotExist(err), "output dir of %s should be gone", id)
	}
	_, err = os.Stat(stager.Dir("old-1"))
	assert.True(t, os.IsNotExist(err))

	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = os.Stat(artifacts.Dir("fresh"))
	assert.NoError(t, err)

	removed, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestRetentionService_StartStopsOnCancel(t *testing.T) {
	plugin, _ := memory.NewPlugin(persistence.PluginConfig{})
	svc := NewRetentionService(plugin.InspectionStorage(), storage.NewArtifactStore(t.TempDir()), nil, nil, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
