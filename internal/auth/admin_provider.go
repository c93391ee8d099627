package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/agentgate/agentgate/pkg/contracts"
)

// AdminTokenProvider validates reviewer tokens for the approval endpoints.
// The HTML admin UI carries its own cookie login; this provider covers the
// headless path (curl, scripts, the test suite).
//
// Config: AGENTGATE_ADMIN_TOKENS env var (comma-separated list).
type AdminTokenProvider struct {
	mu      sync.RWMutex
	tokens  map[string]bool
	enabled bool
}

// NewAdminTokenProvider creates an admin token provider from environment config.
func NewAdminTokenProvider() *AdminTokenProvider {
	p := &AdminTokenProvider{tokens: make(map[string]bool)}
	for _, tok := range strings.Split(os.Getenv("AGENTGATE_ADMIN_TOKENS"), ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			p.tokens[tok] = true
			p.enabled = true
		}
	}
	return p
}

func (p *AdminTokenProvider) Name() string { return "admintoken" }

func (p *AdminTokenProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Authenticate validates the bearer token against the configured admin set.
// Returns (nil, nil) when the request carries no admin-shaped token, so the
// agent key provider still gets its turn.
func (p *AdminTokenProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	tok := extractBearer(r)
	if tok == "" || strings.HasPrefix(tok, "agk_") {
		return nil, nil
	}
	if !p.validate(tok) {
		return nil, fmt.Errorf("invalid admin token")
	}
	return &contracts.Identity{
		Subject:   "admin",
		AgentName: "admin",
		Provider:  p.Name(),
	}, nil
}

func (p *AdminTokenProvider) validate(candidate string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for tok := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(tok)) == 1 {
			return true
		}
	}
	return false
}

// AddToken adds an admin token at runtime.
func (p *AdminTokenProvider) AddToken(tok string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[tok] = true
	p.enabled = true
}
