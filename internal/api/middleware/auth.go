package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentgate/agentgate/pkg/contracts"
	pkgmw "github.com/agentgate/agentgate/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware authenticates requests using the pluggable
// AuthProviderChain and stores the resulting Identity in context.
//
// Every /api and /mcp request must authenticate; /health, /version and the
// inbound webhook endpoints (which verify their own HMAC signature) are
// public.
type AuthMiddleware struct {
	chain contracts.AuthProviderChain
}

// NewAuthMiddleware creates the auth middleware.
func NewAuthMiddleware(chain contracts.AuthProviderChain) *AuthMiddleware {
	return &AuthMiddleware{chain: chain}
}

// Handler returns the HTTP handler middleware that authenticates requests.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			writeUnauthorized(w, "authentication_failed", err.Error())
			return
		}
		if identity == nil {
			writeUnauthorized(w, "unauthorized", "This endpoint requires authentication. Set Authorization: Bearer <key>.")
			return
		}

		ctx := pkgmw.SetIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="agentgate"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   kind,
		"message": message,
	})
}

// isAuthPublicPath returns true for paths that should skip bearer auth.
func isAuthPublicPath(path string) bool {
	publicPaths := []string{
		"/health",
		"/version",
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	// Inbound webhooks authenticate by HMAC signature over the raw body.
	return strings.HasPrefix(path, "/webhooks/")
}
