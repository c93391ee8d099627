package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/agentgate/agentgate/internal/auth"
	"github.com/agentgate/agentgate/internal/settings"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════
// ── Admin: agent management ──────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListAgents handles GET /api/admin/agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	agents, err := h.Store.ListAgents(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

type createAgentRequest struct {
	Name         string `json:"name"`
	Bio          string `json:"bio"`
	WebhookURL   string `json:"webhook_url"`
	WebhookToken string `json:"webhook_token"`
	RawResults   bool   `json:"raw_results"`
}

// CreateAgent handles POST /api/admin/agents. The cleartext key appears in
// this response and nowhere else.
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var body createAgentRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if existing, err := h.Store.GetAgent(r.Context(), body.Name); err == nil && existing != nil {
		respondError(w, http.StatusConflict, "an agent with this name already exists")
		return
	}

	key, prefix, hash, err := auth.GenerateKey()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "key generation failed")
		return
	}
	agent := &models.Agent{
		ID:         uuid.NewString(),
		Name:       body.Name,
		HashedKey:  hash,
		KeyPrefix:  prefix,
		Bio:        body.Bio,
		WebhookURL: body.WebhookURL,
		WebhookTok: body.WebhookToken,
		Enabled:    true,
		RawResults: body.RawResults,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.CreateAgent(r.Context(), agent); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"agent": agent, "key": key})
}

// GetAgent handles GET /api/admin/agents/{name}.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

type updateAgentRequest struct {
	Bio          *string `json:"bio"`
	WebhookURL   *string `json:"webhook_url"`
	WebhookToken *string `json:"webhook_token"`
	Enabled      *bool   `json:"enabled"`
	RawResults   *bool   `json:"raw_results"`
}

// UpdateAgent handles PUT /api/admin/agents/{name}. Only the provided
// fields change; the key is rotated through its own endpoint.
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondErr(w, err)
		return
	}
	var body updateAgentRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Bio != nil {
		agent.Bio = *body.Bio
	}
	if body.WebhookURL != nil {
		agent.WebhookURL = *body.WebhookURL
	}
	if body.WebhookToken != nil {
		agent.WebhookTok = *body.WebhookToken
	}
	if body.Enabled != nil {
		agent.Enabled = *body.Enabled
	}
	if body.RawResults != nil {
		agent.RawResults = *body.RawResults
	}
	if err := h.Store.UpdateAgent(r.Context(), agent); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

// RotateAgentKey handles POST /api/admin/agents/{name}/rotate-key.
func (h *Handlers) RotateAgentKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondErr(w, err)
		return
	}
	key, prefix, hash, err := auth.GenerateKey()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "key generation failed")
		return
	}
	agent.HashedKey = hash
	agent.KeyPrefix = prefix
	if err := h.Store.UpdateAgent(r.Context(), agent); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"name": agent.Name, "key": key})
}

// DeleteAgent handles DELETE /api/admin/agents/{name}. Soft: the agent is
// disabled and its sessions killed; history referencing it by name stays.
func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := h.Store.DeleteAgent(r.Context(), name); err != nil {
		respondErr(w, err)
		return
	}
	h.killAgentSessions(w, r, name, false)
	respondJSON(w, http.StatusOK, map[string]string{"name": name, "status": "disabled"})
}

// ══════════════════════════════════════════════════════════════
// ── Admin: credentials & access control ──────────────────────
// ══════════════════════════════════════════════════════════════

// PutCredential handles PUT /api/admin/credentials/{service}/{account}.
func (h *Handlers) PutCredential(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var data map[string]string
	if !decodeBody(w, r, &data) {
		return
	}
	cred := &models.Credential{
		Service:     chi.URLParam(r, "service"),
		AccountName: chi.URLParam(r, "account"),
		Data:        data,
	}
	if err := h.Store.PutCredential(r.Context(), cred); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"service": cred.Service, "account": cred.AccountName})
}

// DeleteCredential handles DELETE /api/admin/credentials/{service}/{account}.
func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.Store.DeleteCredential(r.Context(), chi.URLParam(r, "service"), chi.URLParam(r, "account")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type putPolicyRequest struct {
	Mode      models.PolicyMode `json:"mode"`
	AgentList []string          `json:"agent_list"`
}

// PutPolicy handles PUT /api/admin/policies/{service}/{account}.
func (h *Handlers) PutPolicy(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var body putPolicyRequest
	if !decodeBody(w, r, &body) {
		return
	}
	switch body.Mode {
	case models.PolicyAll, models.PolicyAllowlist, models.PolicyDenylist:
	default:
		respondError(w, http.StatusBadRequest, "mode must be all, allowlist or denylist")
		return
	}
	policy := &models.ServiceAccessPolicy{
		Service:     chi.URLParam(r, "service"),
		AccountName: chi.URLParam(r, "account"),
		Mode:        body.Mode,
		AgentList:   body.AgentList,
	}
	if err := h.Store.PutPolicy(r.Context(), policy); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

type putBypassRequest struct {
	BypassAuth bool `json:"bypass_auth"`
}

// PutBypass handles PUT /api/admin/policies/{service}/{account}/bypass/{agent}.
func (h *Handlers) PutBypass(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var body putBypassRequest
	if !decodeBody(w, r, &body) {
		return
	}
	bypass := &models.AgentBypass{
		Service:     chi.URLParam(r, "service"),
		AccountName: chi.URLParam(r, "account"),
		AgentName:   chi.URLParam(r, "agent"),
		BypassAuth:  body.BypassAuth,
	}
	if err := h.Store.PutBypass(r.Context(), bypass); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bypass)
}

// ══════════════════════════════════════════════════════════════
// ── Admin: queue review ──────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// AdminQueueList handles GET /api/admin/queue[?status=pending].
func (h *Handlers) AdminQueueList(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	entries, err := h.Store.ListQueueEntries(r.Context(), store.QueueFilter{})
	if err != nil {
		respondErr(w, err)
		return
	}
	if want := r.URL.Query().Get("status"); want != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if string(e.Status) == want {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ApproveQueue handles POST /api/admin/queue/{id}/approve.
func (h *Handlers) ApproveQueue(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.Queue.Approve(r.Context(), chi.URLParam(r, "id"), "admin"); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id"), "status": string(models.QueueExecuting)})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectQueue handles POST /api/admin/queue/{id}/reject.
func (h *Handlers) RejectQueue(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var body rejectRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.Queue.Reject(r.Context(), chi.URLParam(r, "id"), "admin", body.Reason); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id"), "status": string(models.QueueRejected)})
}

// PurgeQueue handles DELETE /api/admin/queue/{id}: removes a terminal entry
// and, by cascade, its warnings.
func (h *Handlers) PurgeQueue(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.Queue.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Admin: message review ────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// PendingMessages handles GET /api/admin/messages/pending.
func (h *Handlers) PendingMessages(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	msgs, err := h.Messaging.Pending(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.AgentMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// ApproveMessage handles POST /api/admin/messages/{id}/approve.
func (h *Handlers) ApproveMessage(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	msg, err := h.Messaging.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// RejectMessage handles POST /api/admin/messages/{id}/reject.
func (h *Handlers) RejectMessage(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var body rejectRequest
	if !decodeBody(w, r, &body) {
		return
	}
	msg, err := h.Messaging.Reject(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// ══════════════════════════════════════════════════════════════
// ── Admin: settings & sessions ───────────────────────────────
// ══════════════════════════════════════════════════════════════

// GetSettings handles GET /api/admin/settings.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		settings.KeyMessagingMode:      h.Settings.MessagingMode(),
		settings.KeySharedQueueVisible: h.Settings.SharedQueueVisible(),
		settings.KeyAgentWithdrawOK:    h.Settings.AgentWithdrawEnabled(),
	})
}

type putSettingRequest struct {
	Value string `json:"value"`
}

// PutSetting handles PUT /api/admin/settings/{key}.
func (h *Handlers) PutSetting(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	key := chi.URLParam(r, "key")
	var body putSettingRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if key == settings.KeyMessagingMode {
		switch body.Value {
		case "off", "supervised", "open":
		default:
			respondError(w, http.StatusBadRequest, "messaging_mode must be off, supervised or open")
			return
		}
	}
	if err := h.Settings.Set(r.Context(), key, body.Value); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}

// KillSession handles DELETE /api/admin/sessions/{id}.
func (h *Handlers) KillSession(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	h.MCP.Kill(r, chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// KillAgentSessions handles DELETE /api/admin/agents/{name}/sessions.
func (h *Handlers) KillAgentSessions(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	h.killAgentSessions(w, r, chi.URLParam(r, "name"), true)
}

func (h *Handlers) killAgentSessions(w http.ResponseWriter, r *http.Request, name string, respond bool) {
	sessionsList, err := h.Sessions.ListByAgent(r.Context(), name)
	if err != nil {
		if respond {
			respondErr(w, err)
		}
		return
	}
	for _, s := range sessionsList {
		h.MCP.Kill(r, s.ID)
	}
	if respond {
		respondJSON(w, http.StatusOK, map[string]interface{}{"killed": len(sessionsList)})
	}
}
