package settings_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/settings"
	"github.com/agentgate/agentgate/internal/store"
)

func newAccessor(t *testing.T) (*settings.Accessor, *store.SQLiteStore, *config.Config) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agentgate.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{MessagingMode: "supervised", SharedQueueVisible: false, AgentWithdrawOK: true}
	return settings.New(s, cfg), s, cfg
}

func TestConfigDefaults(t *testing.T) {
	a, _, _ := newAccessor(t)
	if a.MessagingMode() != "supervised" {
		t.Errorf("MessagingMode() = %q, want config default", a.MessagingMode())
	}
	if a.SharedQueueVisible() {
		t.Error("SharedQueueVisible() = true, want config default false")
	}
	if !a.AgentWithdrawEnabled() {
		t.Error("AgentWithdrawEnabled() = false, want config default true")
	}
}

func TestSetPersistsAndUpdatesReaders(t *testing.T) {
	a, s, _ := newAccessor(t)
	ctx := context.Background()

	if err := a.Set(ctx, settings.KeyMessagingMode, "open"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if a.MessagingMode() != "open" {
		t.Errorf("MessagingMode() = %q after Set", a.MessagingMode())
	}

	v, ok, err := s.GetSetting(ctx, settings.KeyMessagingMode)
	if err != nil || !ok || v != "open" {
		t.Errorf("persisted value = (%q, %v, %v)", v, ok, err)
	}
}

// An admin-written row survives a restart and overrides the config default.
func TestLoadPrefersStoredValues(t *testing.T) {
	a, s, cfg := newAccessor(t)
	ctx := context.Background()

	if err := a.Set(ctx, settings.KeySharedQueueVisible, "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	fresh := settings.New(s, cfg)
	if fresh.SharedQueueVisible() {
		t.Fatal("fresh accessor saw the stored value before Load()")
	}
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !fresh.SharedQueueVisible() {
		t.Error("Load() did not pick up the stored override")
	}
}
