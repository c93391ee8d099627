package resolver_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentgate/agentgate/internal/resolver"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/models"
)

func newResolver(t *testing.T) (*resolver.Resolver, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agentgate.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return resolver.New(s), s
}

func TestAllowDefaultsToAll(t *testing.T) {
	r, _ := newResolver(t)
	if err := r.Allow(context.Background(), "github", "personal", "anyone"); err != nil {
		t.Errorf("Allow() with no policy = %v, want nil", err)
	}
}

func TestAllowlistMode(t *testing.T) {
	r, s := newResolver(t)
	ctx := context.Background()
	if err := s.PutPolicy(ctx, &models.ServiceAccessPolicy{
		Service: "github", AccountName: "personal", Mode: models.PolicyAllowlist, AgentList: []string{"Helper"},
	}); err != nil {
		t.Fatalf("PutPolicy() error = %v", err)
	}

	if err := r.Allow(ctx, "github", "personal", "helper"); err != nil {
		t.Errorf("allowlisted agent denied (case-insensitive match): %v", err)
	}
	if err := r.Allow(ctx, "github", "personal", "stranger"); err == nil {
		t.Error("non-allowlisted agent permitted")
	}
}

func TestDenylistMode(t *testing.T) {
	r, s := newResolver(t)
	ctx := context.Background()
	if err := s.PutPolicy(ctx, &models.ServiceAccessPolicy{
		Service: "github", AccountName: "personal", Mode: models.PolicyDenylist, AgentList: []string{"troublemaker"},
	}); err != nil {
		t.Fatalf("PutPolicy() error = %v", err)
	}

	if err := r.Allow(ctx, "github", "personal", "TROUBLEMAKER"); err == nil {
		t.Error("denylisted agent permitted")
	}
	if err := r.Allow(ctx, "github", "personal", "helper"); err != nil {
		t.Errorf("unlisted agent denied: %v", err)
	}
}

func TestBypassFlag(t *testing.T) {
	r, s := newResolver(t)
	ctx := context.Background()

	got, err := r.Bypass(ctx, "bluesky", "alice", "helper")
	if err != nil || got {
		t.Errorf("Bypass() default = (%v, %v), want (false, nil)", got, err)
	}

	if err := s.PutBypass(ctx, &models.AgentBypass{Service: "bluesky", AccountName: "alice", AgentName: "helper", BypassAuth: true}); err != nil {
		t.Fatalf("PutBypass() error = %v", err)
	}
	got, err = r.Bypass(ctx, "bluesky", "alice", "HELPER")
	if err != nil || !got {
		t.Errorf("Bypass() = (%v, %v), want (true, nil)", got, err)
	}
}
