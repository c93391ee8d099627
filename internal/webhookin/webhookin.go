// Package webhookin implements the inbound GitHub webhook endpoint. It
// verifies the HMAC-SHA256 signature GitHub attaches to every delivery,
// handles the ping handshake, and normalizes everything else into a single
// shape that gets broadcast to every agent with a webhook configured,
// subject to a per-source configurable event filter.
package webhookin

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/contracts"
	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog/log"
)

const eventFilterSettingKey = "github_webhook_event_filter"

// pingPayload mirrors GitHub's ping delivery, sent once when a webhook is
// registered.
type pingPayload struct {
	Zen    string `json:"zen"`
	HookID int    `json:"hook_id"`
}

// genericPayload captures the fields present on essentially every GitHub
// event type, enough to build the normalized {service, event, repo, data}
// shape without a per-event-type struct.
type genericPayload struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// NormalizedEvent is what downstream agents receive for any GitHub event
// other than ping.
type NormalizedEvent struct {
	Service string      `json:"service"`
	Event   string      `json:"event"`
	Repo    string      `json:"repo"`
	Data    interface{} `json:"data"`
}

// FanoutResult reports the outcome of broadcasting a normalized event.
type FanoutResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type Handler struct {
	secret   string
	agents   store.AgentStore
	settings store.SettingsStore
	notifier contracts.Notifier
}

func New(secret string, agents store.AgentStore, settings store.SettingsStore, notifier contracts.Notifier) *Handler {
	return &Handler{secret: secret, agents: agents, settings: settings, notifier: notifier}
}

// VerifySignature checks signature (the X-Hub-Signature-256 header value)
// against rawBody using the configured per-source secret. A missing
// signature when a secret is configured is itself a failure.
func (h *Handler) VerifySignature(rawBody []byte, signature string) bool {
	if h.secret == "" {
		return true
	}
	if signature == "" {
		return false
	}
	return github.ValidateSignature(signature, rawBody, []byte(h.secret)) == nil
}

// HandlePing records the delivery and returns the pong acknowledgement.
func (h *Handler) HandlePing(rawBody []byte) (map[string]string, error) {
	var p pingPayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return nil, err
	}
	log.Info().Str("zen", p.Zen).Int("hook_id", p.HookID).Msg("webhookin: github ping received")
	return map[string]string{"status": "pong", "zen": p.Zen}, nil
}

// Normalize builds the {service, event, repo, data} shape for any non-ping
// GitHub event. eventType is the X-GitHub-Event header value.
func (h *Handler) Normalize(eventType string, rawBody []byte) (*NormalizedEvent, error) {
	var g genericPayload
	if err := json.Unmarshal(rawBody, &g); err != nil {
		return nil, err
	}
	var data interface{}
	_ = json.Unmarshal(rawBody, &data)

	event := eventType
	if g.Action != "" {
		event = eventType + "." + g.Action
	}
	return &NormalizedEvent{
		Service: "github",
		Event:   event,
		Repo:    g.Repository.FullName,
		Data:    data,
	}, nil
}

// ShouldFanout consults the per-source event filter setting
// (github_webhook_event_filter, a comma-separated allowlist of event
// prefixes). An empty or missing filter allows every event through.
func (h *Handler) ShouldFanout(ctx context.Context, event string) bool {
	raw, ok, err := h.settings.GetSetting(ctx, eventFilterSettingKey)
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return true
	}
	for _, allowed := range strings.Split(raw, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed != "" && strings.HasPrefix(event, allowed) {
			return true
		}
	}
	return false
}

// Fanout delivers ev to every enabled agent with a webhook configured,
// accumulating delivered/failed counts. Targets are hit in parallel, each
// delivery bounded by the notifier's own timeout, so one slow webhook
// cannot stall the rest of the fan-out.
func (h *Handler) Fanout(ctx context.Context, ev *NormalizedEvent) (*FanoutResult, error) {
	agents, err := h.agents.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	result := &FanoutResult{}
	for _, a := range agents {
		if !a.Enabled || a.WebhookURL == "" {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := h.notifier.Notify(ctx, name, contracts.NotificationEvent{
				Type: "webhook." + ev.Event,
				Text: ev.Service + " " + ev.Event + " on " + ev.Repo,
				Fields: map[string]interface{}{
					"repo": ev.Repo,
					"data": ev.Data,
				},
				Mode: "now",
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				log.Warn().Err(err).Str("agent", name).Str("event", ev.Event).Msg("webhookin: fan-out delivery failed")
				return
			}
			result.Delivered++
			log.Debug().Str("agent", name).Str("event", ev.Event).Msg("webhookin: fan-out delivery accepted")
		}(a.Name)
	}
	wg.Wait()
	return result, nil
}
