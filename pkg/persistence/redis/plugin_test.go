package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence/persistencetest"
)

func TestRedisPlugin(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()

	plugin, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: "redis", Config: []byte(`{"addr":"` + mr.Addr() + `"}`)},
		persistence.PluginConfig{Timezone: time.UTC},
	)
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}
	defer plugin.Close()

	if err := plugin.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	persistencetest.Run(t, plugin.InspectionStorage())

	mr.Close()
	if err := plugin.Health(context.Background()); err == nil {
		t.Error("expected health failure after redis shutdown")
	}
}

func TestRedisPluginRequiresAddr(t *testing.T) {
	if _, err := NewPlugin(persistence.PluginConfig{Config: []byte(`{}`)}); err == nil {
		t.Fatal("expected error without addr")
	}
}

func TestRedisPluginKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	plugin, err := NewPlugin(persistence.PluginConfig{
		Config: []byte(`{"addr":"` + mr.Addr() + `","keyPrefix":"relay-b"}`),
	})
	if err != nil {
		t.Fatalf("NewPlugin: %v", err)
	}
	defer plugin.Close()

	now := time.Now().UTC()
	rec := &domain.InspectionRecord{ID: "insp-9", Status: domain.InspectionSucceeded, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := plugin.InspectionStorage().Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if mr.HGet("relay-b:inspections", "insp-9") == "" {
		t.Fatalf("record not stored under prefix, keys=%v", mr.Keys())
	}
	if mr.Exists("gdtrelay:inspections") {
		t.Error("default prefix used despite keyPrefix")
	}
}

func TestRedisPluginUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewPlugin(persistence.PluginConfig{Config: []byte(`{"addr":"` + addr + `","dialTimeoutMs":200}`)})
	if err == nil {
		t.Fatal("expected ping failure for a stopped server")
	}
}
