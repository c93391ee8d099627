// Package handlers implements the HTTP handlers for the gateway: the
// queue surface, the read proxy, agent messaging and mementos, the inbound
// webhook endpoint, the tool-dispatch transport, and the admin review
// surface.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/executor"
	"github.com/agentgate/agentgate/internal/mcpgw"
	"github.com/agentgate/agentgate/internal/memento"
	"github.com/agentgate/agentgate/internal/messaging"
	"github.com/agentgate/agentgate/internal/queue"
	"github.com/agentgate/agentgate/internal/resolver"
	"github.com/agentgate/agentgate/internal/sessions"
	"github.com/agentgate/agentgate/internal/settings"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/internal/webhookin"
	pkgmw "github.com/agentgate/agentgate/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store     store.Store
	Queue     *queue.Engine
	Messaging *messaging.Engine
	Memento   *memento.Engine
	Reader    *executor.Reader
	Resolver  *resolver.Resolver
	Webhook   *webhookin.Handler
	MCP       *mcpgw.Gateway
	Sessions  *sessions.Manager
	Settings  *settings.Accessor
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, q *queue.Engine, msg *messaging.Engine, mem *memento.Engine, rd *executor.Reader, res *resolver.Resolver, wh *webhookin.Handler, gw *mcpgw.Gateway, sm *sessions.Manager, set *settings.Accessor) *Handlers {
	return &Handlers{
		Store:     s,
		Queue:     q,
		Messaging: msg,
		Memento:   mem,
		Reader:    rd,
		Resolver:  res,
		Webhook:   wh,
		MCP:       gw,
		Sessions:  sm,
		Settings:  set,
	}
}

// agentName returns the authenticated agent behind r, or "" for admin and
// anonymous callers.
func agentName(r *http.Request) string {
	id := pkgmw.GetIdentity(r.Context())
	if id == nil || id.Provider == "admintoken" {
		return ""
	}
	return id.AgentName
}

// isAdmin reports whether r was authenticated by the admin token provider.
func isAdmin(r *http.Request) bool {
	id := pkgmw.GetIdentity(r.Context())
	return id != nil && id.Provider == "admintoken"
}

// requireAgent writes a 403 and returns "" when the caller is not an agent.
func (h *Handlers) requireAgent(w http.ResponseWriter, r *http.Request) string {
	name := agentName(r)
	if name == "" {
		respondError(w, http.StatusForbidden, "this endpoint requires an agent key")
	}
	return name
}

// requireAdmin writes a 403 and returns false when the caller is not admin.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !isAdmin(r) {
		respondError(w, http.StatusForbidden, "this endpoint requires an admin token")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Error().Err(err).Msg("failed to encode response")
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// respondErr renders err in the {error, message, ...context} shape, mapping
// typed errors to their HTTP status and everything else to 500.
func respondErr(w http.ResponseWriter, err error) {
	ae, ok := apierr.As(err)
	if !ok {
		log.Error().Err(err).Msg("internal error")
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "internal",
			"message": "internal error",
		})
		return
	}
	body := map[string]interface{}{
		"error":   string(ae.Kind),
		"message": ae.Message,
	}
	for k, v := range ae.Context {
		body[k] = v
	}
	respondJSON(w, ae.Status(), body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
