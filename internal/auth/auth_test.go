package auth_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/auth"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/google/uuid"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agentgate.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createAgent(t *testing.T, s *store.SQLiteStore, name string, enabled bool) string {
	t.Helper()
	key, prefix, hash, err := auth.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if err := s.CreateAgent(context.Background(), &models.Agent{
		ID: uuid.NewString(), Name: name, HashedKey: hash, KeyPrefix: prefix,
		Enabled: enabled, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	return key
}

func TestGenerateKeyShape(t *testing.T) {
	key, prefix, hash, err := auth.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key) < 20 || key[:4] != "agk_" {
		t.Errorf("key = %q, want agk_ prefix", key)
	}
	if prefix != key[:12] {
		t.Errorf("prefix = %q, want the key's first 12 chars", prefix)
	}
	if hash == "" || hash == key {
		t.Error("hash missing or equals the cleartext key")
	}
}

func TestAgentKeyAuthenticate(t *testing.T) {
	s := newStore(t)
	key := createAgent(t, s, "helper", true)
	p := auth.NewAgentKeyProvider(s)

	r := httptest.NewRequest("GET", "/api/queue/list", nil)
	r.Header.Set("Authorization", "Bearer "+key)

	id, err := p.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id == nil || id.AgentName != "helper" || id.Provider != "agentkey" {
		t.Errorf("identity = %+v", id)
	}
}

func TestAgentKeyAuthenticateRejections(t *testing.T) {
	s := newStore(t)
	key := createAgent(t, s, "helper", true)
	disabledKey := createAgent(t, s, "sleeper", false)
	p := auth.NewAgentKeyProvider(s)
	ctx := context.Background()

	// No bearer at all: not our concern, (nil, nil).
	r := httptest.NewRequest("GET", "/", nil)
	if id, err := p.Authenticate(ctx, r); id != nil || err != nil {
		t.Errorf("no-key request = (%v, %v), want (nil, nil)", id, err)
	}

	// Wrong secret under a valid prefix.
	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+key[:12]+"0000000000000000000000000000")
	if _, err := p.Authenticate(ctx, r); err == nil {
		t.Error("forged key accepted")
	}

	// Disabled agent.
	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+disabledKey)
	if _, err := p.Authenticate(ctx, r); err == nil {
		t.Error("disabled agent authenticated")
	}
}

func TestAdminTokenProvider(t *testing.T) {
	t.Setenv("AGENTGATE_ADMIN_TOKENS", "reviewer-token, second-token")
	p := auth.NewAdminTokenProvider()
	if !p.Enabled() {
		t.Fatal("provider disabled despite configured tokens")
	}
	ctx := context.Background()

	r := httptest.NewRequest("GET", "/api/admin/queue", nil)
	r.Header.Set("Authorization", "Bearer reviewer-token")
	id, err := p.Authenticate(ctx, r)
	if err != nil || id == nil || id.Provider != "admintoken" {
		t.Errorf("admin auth = (%+v, %v)", id, err)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	if _, err := p.Authenticate(ctx, r); err == nil {
		t.Error("wrong admin token accepted")
	}

	// Agent-shaped keys are left for the agent provider.
	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer agk_notmine")
	if id, err := p.Authenticate(ctx, r); id != nil || err != nil {
		t.Errorf("agent-shaped key = (%v, %v), want (nil, nil)", id, err)
	}
}

func TestChainOrder(t *testing.T) {
	t.Setenv("AGENTGATE_ADMIN_TOKENS", "reviewer-token")
	s := newStore(t)
	key := createAgent(t, s, "helper", true)

	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewAgentKeyProvider(s))
	chain.RegisterProvider(auth.NewAdminTokenProvider())

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+key)
	id, err := chain.Authenticate(context.Background(), r)
	if err != nil || id == nil || id.AgentName != "helper" {
		t.Errorf("agent via chain = (%+v, %v)", id, err)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer reviewer-token")
	id, err = chain.Authenticate(context.Background(), r)
	if err != nil || id == nil || id.Provider != "admintoken" {
		t.Errorf("admin via chain = (%+v, %v)", id, err)
	}

	// Anonymous request: no provider claims it.
	r = httptest.NewRequest("GET", "/", nil)
	id, err = chain.Authenticate(context.Background(), r)
	if id != nil || err != nil {
		t.Errorf("anonymous = (%v, %v), want (nil, nil)", id, err)
	}
}
