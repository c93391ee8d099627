package contracts

import (
	"context"
	"time"
)

// ── Notifier ─────────────────────────────────────────────────

// NotificationEvent is the payload delivered to an agent's webhook.
// Kept in contracts so the dispatcher and the inbound webhook fan-out can
// both build events without importing internal/notify's concrete type.
type NotificationEvent struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text"`
	Fields    map[string]interface{} `json:"-"`
	Mode      string                 `json:"mode"`
	Timestamp time.Time              `json:"-"`
}

// Notifier delivers a best-effort notification to a single agent's webhook.
// Implemented by internal/notify.Service.
type Notifier interface {
	Notify(ctx context.Context, agentName string, event NotificationEvent) error
}

// CredentialRefresher exchanges a refresh token for a new access token for
// one OAuth-refreshable service. No type in this module implements it:
// internal/vault refreshes through its own unexported helpers.
type CredentialRefresher interface {
	Refresh(ctx context.Context, data map[string]string) (map[string]string, error)
}
