// Package api builds the HTTP edge: routing, middleware stack, CORS, and
// the small health/version handlers.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/agentgate/agentgate/internal/api/handlers"
	"github.com/agentgate/agentgate/internal/api/middleware"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authChain contracts.AuthProviderChain) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// CORS — configurable via AGENTGATE_CORS_ORIGINS env var. With wildcard
	// origins AllowCredentials must stay false to comply with the Fetch
	// specification. Runs before auth so preflight requests pass.
	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-Agentgate-Raw", "Mcp-Session-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Mcp-Session-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain)
		r.Use(authMW.Handler)
	}

	// Logging and tracing run downstream of auth so both can tag their
	// output with the authenticated agent.
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)

	r.Route("/api", func(r chi.Router) {
		// Write queue
		r.Route("/queue", func(r chi.Router) {
			r.Get("/list", h.QueueList)
			r.Route("/{service}/{account}", func(r chi.Router) {
				r.Post("/submit", h.SubmitQueue)
				r.Get("/list", h.QueueList)
				r.Route("/status/{id}", func(r chi.Router) {
					r.Get("/", h.QueueStatus)
					r.Delete("/", h.WithdrawQueue)
					r.Post("/warn", h.WarnQueue)
					r.Get("/warnings", h.QueueWarnings)
				})
			})
		})

		// Agent-to-agent messaging & mementos
		r.Route("/agents", func(r chi.Router) {
			r.Post("/message", h.SendMessage)
			r.Get("/messages", h.ListMessages)
			r.Post("/messages/{id}/read", h.MarkMessageRead)
			r.Get("/status", h.MessagingStatus)
			r.Get("/messageable", h.ListMessageable)
			r.Post("/broadcast", h.SendBroadcast)

			r.Post("/memento", h.SaveMemento)
			r.Get("/memento/keywords", h.MementoKeywords)
			r.Get("/memento/search", h.MementoSearch)
			r.Get("/memento/recent", h.MementoRecent)
			r.Get("/memento/{ids}", h.MementoByIDs)
		})

		// Admin review surface
		r.Route("/admin", func(r chi.Router) {
			r.Route("/agents", func(r chi.Router) {
				r.Get("/", h.ListAgents)
				r.Post("/", h.CreateAgent)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", h.GetAgent)
					r.Put("/", h.UpdateAgent)
					r.Delete("/", h.DeleteAgent)
					r.Post("/rotate-key", h.RotateAgentKey)
					r.Delete("/sessions", h.KillAgentSessions)
				})
			})
			r.Route("/credentials/{service}/{account}", func(r chi.Router) {
				r.Put("/", h.PutCredential)
				r.Delete("/", h.DeleteCredential)
			})
			r.Route("/policies/{service}/{account}", func(r chi.Router) {
				r.Put("/", h.PutPolicy)
				r.Put("/bypass/{agent}", h.PutBypass)
			})
			r.Route("/queue", func(r chi.Router) {
				r.Get("/", h.AdminQueueList)
				r.Post("/{id}/approve", h.ApproveQueue)
				r.Post("/{id}/reject", h.RejectQueue)
				r.Delete("/{id}", h.PurgeQueue)
			})
			r.Route("/messages", func(r chi.Router) {
				r.Get("/pending", h.PendingMessages)
				r.Post("/{id}/approve", h.ApproveMessage)
				r.Post("/{id}/reject", h.RejectMessage)
			})
			r.Route("/settings", func(r chi.Router) {
				r.Get("/", h.GetSettings)
				r.Put("/{key}", h.PutSetting)
			})
			r.Delete("/sessions/{id}", h.KillSession)
		})

		// Read proxy — GET only; chi answers 405 for anything else.
		r.Get("/{service}/{account}/*", h.ReadProxy)
	})

	// Inbound webhooks — authenticated by HMAC signature, not bearer key.
	r.Post("/webhooks/github", h.GitHubWebhook)

	// Tool dispatch endpoint
	r.Route("/mcp", func(r chi.Router) {
		r.Post("/", h.MCPEndpoint)
		r.Get("/", h.MCPSSEEndpoint)
		r.Delete("/", h.MCPDeleteEndpoint)
	})

	return r
}

// parseCORSOrigins reads allowed CORS origins from the environment.
// Default: wildcard (open access, no credentials).
func parseCORSOrigins() []string {
	originsEnv := os.Getenv("AGENTGATE_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "agentgate",
	})
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"version": "1.0.0",
		"service": "agentgate",
	})
}
