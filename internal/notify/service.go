// Package notify implements the outbound notifier: a best-effort POST to an
// agent's configured webhook URL, bounded by a timeout. Failures are logged
// and reported to the caller but never roll back persisted state.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// Sign computes the hex-encoded HMAC-SHA256 of body under secret, in the
// "sha256=<hex>" form GitHub uses for its X-Hub-Signature-256 header.
// internal/webhookin uses VerifySignature (built on the same primitive) to
// check inbound deliveries.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature (as received in an
// X-Hub-Signature-256 header) matches body under secret, using a
// constant-time comparison.
func VerifySignature(secret, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

type Service struct {
	agents  store.AgentStore
	client  *http.Client
	timeout time.Duration
}

func New(agents store.AgentStore, timeout time.Duration) *Service {
	return &Service{agents: agents, client: &http.Client{}, timeout: timeout}
}

// Notify looks up agentName's webhook configuration and POSTs the event as
// JSON, bearing the agent's webhook-token if present. A missing webhook URL
// is a silent no-op — delivery is an abstract status, not a guarantee of
// recipient receipt. Transport failures and upstream rejections return an
// error so fan-outs can record the per-recipient outcome; callers on the
// fire-and-forget path simply drop it.
func (s *Service) Notify(ctx context.Context, agentName string, event contracts.NotificationEvent) error {
	agent, err := s.agents.GetAgent(ctx, agentName)
	if err != nil {
		log.Debug().Err(err).Str("agent", agentName).Msg("notify: agent lookup failed")
		return err
	}
	if agent.WebhookURL == "" {
		return nil
	}

	text := event.Text
	if len(text) > 500 {
		text = text[:500]
	}
	payload := map[string]interface{}{
		"type": event.Type,
		"text": text,
		"mode": "now",
	}
	for k, v := range event.Fields {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("notify: failed to encode event")
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, agent.WebhookURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("agent", agentName).Msg("notify: failed to build request")
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if agent.WebhookTok != "" {
		req.Header.Set("Authorization", "Bearer "+agent.WebhookTok)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("agent", agentName).Str("url", agent.WebhookURL).Msg("notify: webhook delivery failed")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Str("agent", agentName).Msg("notify: webhook rejected delivery")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
