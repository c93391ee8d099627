package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ══════════════════════════════════════════════════════════════
// ── Read proxy ───────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// defaultBlockedPaths is the built-in per-service denylist of path prefixes
// the read proxy refuses to touch (direct messages and account/admin
// surfaces). An admin can widen or replace a service's list through the
// blocked_paths_{service} setting, comma-separated.
var defaultBlockedPaths = map[string][]string{
	"github":   {"/user/emails", "/user/settings"},
	"bluesky":  {"/xrpc/chat.bsky"},
	"reddit":   {"/api/v1/me/prefs", "/message"},
	"mastodon": {"/api/v1/conversations", "/api/v1/admin"},
	"linkedin": {"/messages"},
	"fitbit":   {"/user/-/profile.json/settings"},
}

func (h *Handlers) blockedPaths(r *http.Request, service string) []string {
	if raw, ok, err := h.Store.GetSetting(r.Context(), "blocked_paths_"+service); err == nil && ok && strings.TrimSpace(raw) != "" {
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultBlockedPaths[service]
}

// ReadProxy handles GET /api/{service}/{account}/{path...}. The upstream
// status and body pass through verbatim; only transport-level failures
// become a gateway error. The X-Agentgate-Raw header and the agent's
// raw-results flag both skip per-service response simplification, which
// lives outside this process — the proxy itself always forwards the raw
// upstream bytes.
func (h *Handlers) ReadProxy(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	service := chi.URLParam(r, "service")
	account := chi.URLParam(r, "account")

	path := "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	for _, blocked := range h.blockedPaths(r, service) {
		if strings.HasPrefix(path, blocked) {
			respondError(w, http.StatusForbidden, "path is blocked for this service")
			return
		}
	}

	if err := h.Resolver.Allow(r.Context(), service, account, agent); err != nil {
		respondErr(w, err)
		return
	}

	status, contentType, body, err := h.Reader.Read(r.Context(), service, account, path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(body)
}
