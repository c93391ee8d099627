// Package contracts defines the boundary types shared between the HTTP edge,
// the auth provider chain and the store, so no package needs to import the
// others' concrete implementations.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated Agent. Produced by an AuthProvider,
// consumed by the auth middleware and every handler downstream of it — no
// handler needs to know whether the caller came in via a bearer key or a
// future provider.
type Identity struct {
	// Subject is the agent's immutable id.
	Subject string `json:"subject"`

	// AgentName is the agent's unique, case-insensitive display name.
	AgentName string `json:"agent_name"`

	// Provider identifies which AuthProvider authenticated this identity.
	Provider string `json:"provider"`

	// ExpiresAt is non-zero only for providers that issue bounded credentials.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// Contract:
//   - (*Identity, nil) → authenticated, stop the chain
//   - (nil, nil)       → this provider doesn't handle this request, try next
//   - (nil, error)     → authentication was attempted but failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// ── AuthProviderChain ───────────────────────────────────────

// AuthProviderChain tries providers in priority order until one returns an Identity.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
