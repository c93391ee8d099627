// Package auth authenticates inbound requests. Two mechanisms cover the
// gateway's callers today: agents present store-backed bearer keys
// (AgentKeyProvider) and human reviewers present env-configured tokens
// (AdminTokenProvider). A small chain keeps both — and any future
// mechanism, such as the admin UI's cookie login — behind one interface.
package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/agentgate/agentgate/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// ProviderChain implements contracts.AuthProviderChain: it asks each
// registered provider in turn until one claims the request.
//
// The distinction between "not mine" and "mine but invalid" matters here.
// A provider that does not recognize the credential's shape answers
// (nil, nil) and the chain moves on; one that recognizes it but fails
// validation answers with an error and the chain stops, so a bad agent key
// is never re-tried as an admin token. A request no provider claims comes
// back (nil, nil) and the middleware decides whether anonymous is
// acceptable for that path.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []contracts.AuthProvider
}

func NewProviderChain() *ProviderChain {
	return &ProviderChain{}
}

// RegisterProvider appends a provider. Order is significant: earlier
// providers get first claim on a credential.
func (c *ProviderChain) RegisterProvider(p contracts.AuthProvider) {
	c.mu.Lock()
	c.providers = append(c.providers, p)
	c.mu.Unlock()
	log.Info().Str("provider", p.Name()).Bool("enabled", p.Enabled()).Msg("🔑 Auth provider registered")
}

func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	c.mu.RLock()
	providers := append([]contracts.AuthProvider(nil), c.providers...)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		identity, err := p.Authenticate(ctx, r)
		if err != nil {
			log.Debug().Str("provider", p.Name()).Err(err).Msg("credential failed validation")
			return nil, err
		}
		if identity != nil {
			log.Debug().Str("provider", p.Name()).Str("agent", identity.AgentName).Msg("request authenticated")
			return identity, nil
		}
	}
	return nil, nil
}
