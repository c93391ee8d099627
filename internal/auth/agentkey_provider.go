package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/contracts"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 12

// AgentKeyProvider authenticates agent bearer keys against the store. Keys
// are never persisted in the clear: the row carries a bcrypt hash plus the
// key's printable prefix, which narrows the lookup to a single row before
// the hash comparison runs.
type AgentKeyProvider struct {
	agents store.AgentStore
}

// NewAgentKeyProvider creates the store-backed agent key provider.
func NewAgentKeyProvider(agents store.AgentStore) *AgentKeyProvider {
	return &AgentKeyProvider{agents: agents}
}

func (p *AgentKeyProvider) Name() string  { return "agentkey" }
func (p *AgentKeyProvider) Enabled() bool { return true }

// Authenticate validates the bearer key and returns the agent's Identity.
// Returns (nil, nil) if no bearer key is present (let next provider try).
// Returns (nil, error) if a key is present but invalid or the agent is disabled.
func (p *AgentKeyProvider) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	key := extractBearer(r)
	if key == "" {
		return nil, nil
	}
	if !strings.HasPrefix(key, "agk_") || len(key) < keyPrefixLen {
		// Not an agent key — not our concern, let next provider try
		return nil, nil
	}

	agent, err := p.agents.GetAgentByKeyPrefix(ctx, key[:keyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("invalid agent key")
	}
	if bcrypt.CompareHashAndPassword([]byte(agent.HashedKey), []byte(key)) != nil {
		return nil, fmt.Errorf("invalid agent key")
	}
	if !agent.Enabled {
		return nil, fmt.Errorf("agent %q is disabled", agent.Name)
	}

	return &contracts.Identity{
		Subject:   agent.ID,
		AgentName: agent.Name,
		Provider:  p.Name(),
	}, nil
}

// GenerateKey mints a fresh agent key and returns the cleartext key (shown
// to the admin exactly once), its prefix and its bcrypt hash.
func GenerateKey() (key, prefix, hash string, err error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", err
	}
	key = "agk_" + hex.EncodeToString(raw)
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return key, key[:keyPrefixLen], string(hashed), nil
}

func extractBearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
