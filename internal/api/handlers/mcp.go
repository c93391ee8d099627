package handlers

import (
	"net/http"
)

// ══════════════════════════════════════════════════════════════
// ── Tool dispatch (MCP transport) ────────────────────────────
// ══════════════════════════════════════════════════════════════

// MCPEndpoint handles POST /mcp — JSON-RPC messages plus initialize.
func (h *Handlers) MCPEndpoint(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	h.MCP.HandlePost(w, r, agent)
}

// MCPSSEEndpoint handles GET /mcp — the server→client notification stream.
func (h *Handlers) MCPSSEEndpoint(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	h.MCP.HandleSSE(w, r, agent)
}

// MCPDeleteEndpoint handles DELETE /mcp — session termination.
func (h *Handlers) MCPDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	h.MCP.HandleDelete(w, r, agent)
}
