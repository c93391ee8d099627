// Package middleware holds small context helpers shared by the HTTP edge's
// middleware stack and its handlers.
package middleware

import (
	"context"

	"github.com/agentgate/agentgate/pkg/contracts"
)

type identityKey struct{}

// SetIdentity stores the authenticated Identity on the request context.
func SetIdentity(ctx context.Context, identity *contracts.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// GetIdentity returns the Identity stored on ctx, or nil for anonymous requests.
func GetIdentity(ctx context.Context) *contracts.Identity {
	v, _ := ctx.Value(identityKey{}).(*contracts.Identity)
	return v
}
