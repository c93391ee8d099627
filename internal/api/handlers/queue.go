package handlers

import (
	"net/http"

	"github.com/agentgate/agentgate/pkg/models"
	"github.com/go-chi/chi/v5"
)

// ══════════════════════════════════════════════════════════════
// ── Queue: agent surface ─────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type submitRequest struct {
	Requests []models.QueueRequest `json:"requests"`
	Comment  string                `json:"comment"`
}

// SubmitQueue handles POST /api/queue/{service}/{account}/submit.
// The response is {id, status} for the normal path, or the full terminal
// view (with bypassed: true) when the agent holds the bypass flag.
func (h *Handlers) SubmitQueue(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	var body submitRequest
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.Queue.Submit(r.Context(), agent, chi.URLParam(r, "service"), chi.URLParam(r, "account"), body.Requests, body.Comment)
	if err != nil {
		respondErr(w, err)
		return
	}
	status := http.StatusAccepted
	if result.Bypassed {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

// QueueStatus handles GET /api/queue/{service}/{account}/status/{id}.
func (h *Handlers) QueueStatus(w http.ResponseWriter, r *http.Request) {
	if h.requireAgent(w, r) == "" {
		return
	}
	entry, err := h.Queue.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// QueueList handles GET /api/queue/list and
// GET /api/queue/{service}/{account}/list. Visibility follows the
// shared-queue-visibility setting.
func (h *Handlers) QueueList(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	entries, err := h.Queue.List(r.Context(), agent, chi.URLParam(r, "service"), chi.URLParam(r, "account"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

type withdrawRequest struct {
	Reason string `json:"reason"`
}

// WithdrawQueue handles DELETE /api/queue/{service}/{account}/status/{id}.
func (h *Handlers) WithdrawQueue(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	var body withdrawRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &body) {
		return
	}
	if err := h.Queue.Withdraw(r.Context(), chi.URLParam(r, "id"), agent, body.Reason); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id"), "status": string(models.QueueWithdrawn)})
}

type warnRequest struct {
	Message string `json:"message"`
}

// WarnQueue handles POST /api/queue/{service}/{account}/status/{id}/warn.
func (h *Handlers) WarnQueue(w http.ResponseWriter, r *http.Request) {
	agent := h.requireAgent(w, r)
	if agent == "" {
		return
	}
	var body warnRequest
	if !decodeBody(w, r, &body) {
		return
	}
	warningID, err := h.Queue.Warn(r.Context(), chi.URLParam(r, "id"), agent, body.Message)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"warning_id": warningID})
}

// QueueWarnings handles GET /api/queue/{service}/{account}/status/{id}/warnings.
func (h *Handlers) QueueWarnings(w http.ResponseWriter, r *http.Request) {
	if h.requireAgent(w, r) == "" {
		return
	}
	warnings, err := h.Queue.Warnings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if warnings == nil {
		warnings = []models.QueueWarning{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"warnings": warnings})
}
