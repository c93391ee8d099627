package handlers

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ══════════════════════════════════════════════════════════════
// ── Inbound webhooks ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// GitHubWebhook handles POST /webhooks/github. The raw body is read before
// any parsing so the HMAC signature verifies over exactly the bytes GitHub
// signed. A ping is acknowledged without fan-out; every other event is
// normalized, filtered, and broadcast to agent webhooks.
func (h *Handlers) GitHubWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if !h.Webhook.VerifySignature(rawBody, signature) {
		respondError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")
	log.Info().Str("event", eventType).Str("delivery", delivery).Msg("github webhook received")

	if eventType == "ping" {
		ack, err := h.Webhook.HandlePing(rawBody)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid ping payload")
			return
		}
		respondJSON(w, http.StatusOK, ack)
		return
	}

	ev, err := h.Webhook.Normalize(eventType, rawBody)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	if !h.Webhook.ShouldFanout(r.Context(), ev.Event) {
		log.Info().Str("event", ev.Event).Msg("github webhook filtered, no fan-out")
		respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "filtered": true})
		return
	}

	result, err := h.Webhook.Fanout(r.Context(), ev)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"event":     ev.Event,
		"delivered": result.Delivered,
		"failed":    result.Failed,
	})
}
