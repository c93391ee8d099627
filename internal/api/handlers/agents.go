package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/agentgate/agentgate/pkg/models"
	"github.com/go-chi/chi/v5"
)

// ══════════════════════════════════════════════════════════════
// ── Agent messaging ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type sendMessageRequest struct {
	ToAgent string `json:"to_agent"`
	Message string `json:"message"`
}

// SendMessage handles POST /api/agents/message.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	var body sendMessageRequest
	if !decodeBody(w, r, &body) {
		return
	}
	msg, err := h.Messaging.Send(r.Context(), agent, body.ToAgent, body.Message)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// ListMessages handles GET /api/agents/messages[?unread=true]. Only
// delivered messages addressed to the caller are visible.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	unreadOnly := strings.EqualFold(r.URL.Query().Get("unread"), "true")
	msgs, err := h.Messaging.Inbox(r.Context(), agent, unreadOnly)
	if err != nil {
		respondErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.AgentMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// MarkMessageRead handles POST /api/agents/messages/{id}/read.
func (h *Handlers) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	if err := h.Messaging.MarkRead(r.Context(), chi.URLParam(r, "id"), agent); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// MessagingStatus handles GET /api/agents/status.
func (h *Handlers) MessagingStatus(w http.ResponseWriter, r *http.Request) {
	if h.requireAgent(w, r) == "" {
		return
	}
	respondJSON(w, http.StatusOK, h.Messaging.Status(r.Context()))
}

// ListMessageable handles GET /api/agents/messageable: every enabled agent
// the caller could address, without key material.
func (h *Handlers) ListMessageable(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	agents, err := h.Messaging.ListAgents(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	type peer struct {
		Name string `json:"name"`
		Bio  string `json:"bio,omitempty"`
	}
	peers := []peer{}
	for _, a := range agents {
		if a.Enabled && !strings.EqualFold(a.Name, agent) {
			peers = append(peers, peer{Name: a.Name, Bio: a.Bio})
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"agents": peers})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

// SendBroadcast handles POST /api/agents/broadcast.
func (h *Handlers) SendBroadcast(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	var body broadcastRequest
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.Messaging.Broadcast(r.Context(), agent, body.Message)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════
// ── Mementos ─────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type saveMementoRequest struct {
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Model    string   `json:"model"`
	Role     string   `json:"role"`
}

// SaveMemento handles POST /api/agents/memento.
func (h *Handlers) SaveMemento(w http.ResponseWriter, r *http.Request) {
	agentID := h.agentID(w, r)
	if agentID == "" {
		return
	}
	var body saveMementoRequest
	if !decodeBody(w, r, &body) {
		return
	}
	m, err := h.Memento.Save(r.Context(), agentID, body.Model, body.Role, body.Content, body.Keywords)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// MementoKeywords handles GET /api/agents/memento/keywords.
func (h *Handlers) MementoKeywords(w http.ResponseWriter, r *http.Request) {
	agentID := h.agentID(w, r)
	if agentID == "" {
		return
	}
	keywords, err := h.Memento.Keywords(r.Context(), agentID)
	if err != nil {
		respondErr(w, err)
		return
	}
	if keywords == nil {
		keywords = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"keywords": keywords})
}

// MementoSearch handles GET /api/agents/memento/search?keywords=a,b&limit=n.
func (h *Handlers) MementoSearch(w http.ResponseWriter, r *http.Request) {
	agentID := h.agentID(w, r)
	if agentID == "" {
		return
	}
	keywords := splitCSV(r.URL.Query().Get("keywords"))
	limit := intQuery(r, "limit")
	matches, err := h.Memento.Search(r.Context(), agentID, keywords, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	if matches == nil {
		matches = []models.MementoMatch{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// MementoRecent handles GET /api/agents/memento/recent?limit=n.
func (h *Handlers) MementoRecent(w http.ResponseWriter, r *http.Request) {
	agentID := h.agentID(w, r)
	if agentID == "" {
		return
	}
	mementos, err := h.Memento.Recent(r.Context(), agentID, intQuery(r, "limit"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if mementos == nil {
		mementos = []models.Memento{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"mementos": mementos})
}

// MementoByIDs handles GET /api/agents/memento/{ids} where ids is a
// comma-separated list.
func (h *Handlers) MementoByIDs(w http.ResponseWriter, r *http.Request) {
	agentID := h.agentID(w, r)
	if agentID == "" {
		return
	}
	ids := splitCSV(chi.URLParam(r, "ids"))
	mementos, err := h.Memento.GetByIDs(r.Context(), agentID, ids)
	if err != nil {
		respondErr(w, err)
		return
	}
	if mementos == nil {
		mementos = []models.Memento{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"mementos": mementos})
}

// agentID resolves the caller to its immutable agent id, which scopes every
// memento query.
func (h *Handlers) agentID(w http.ResponseWriter, r *http.Request) string {
	name := h.requireAgent(w, r)
	if name == "" {
		return ""
	}
	agent, err := h.Store.GetAgent(r.Context(), name)
	if err != nil {
		respondErr(w, err)
		return ""
	}
	return agent.ID
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intQuery(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
