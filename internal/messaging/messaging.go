// Package messaging implements direct agent-to-agent messages and
// broadcasts, gated by a global messaging mode and delivered through the
// same best-effort notifier the write queue uses.
package messaging

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/contracts"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 10 * 1024

// Settings is the subset of internal/settings.Accessor messaging needs.
type Settings interface {
	MessagingMode() string
}

type Engine struct {
	store    store.MessagingStore
	agents   store.AgentStore
	notifier contracts.Notifier
	settings Settings
}

func New(s store.MessagingStore, agents store.AgentStore, notifier contracts.Notifier, settings Settings) *Engine {
	return &Engine{store: s, agents: agents, notifier: notifier, settings: settings}
}

// Send creates a message row whose status depends on the process-wide
// messaging mode: "off" rejects the send outright, "open" delivers
// immediately, "supervised" lands as pending awaiting human Approve/Reject.
func (e *Engine) Send(ctx context.Context, fromAgent, toAgent, body string) (*models.AgentMessage, error) {
	mode := e.settings.MessagingMode()
	if mode == "off" {
		return nil, apierr.New(apierr.Forbidden, "messaging-disabled")
	}
	if strings.EqualFold(fromAgent, toAgent) {
		return nil, apierr.New(apierr.BadRequest, "an agent cannot message itself")
	}
	if strings.TrimSpace(body) == "" {
		return nil, apierr.New(apierr.BadRequest, "body must not be empty")
	}
	if len(body) > maxBodyBytes {
		return nil, apierr.Newf(apierr.BadRequest, "body exceeds %d bytes", maxBodyBytes)
	}
	if _, err := e.agents.GetAgent(ctx, toAgent); err != nil {
		return nil, apierr.Wrap(apierr.NotFound, err, "recipient not found")
	}

	now := time.Now().UTC()
	msg := &models.AgentMessage{
		ID:        uuid.NewString(),
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		Body:      body,
		Status:    models.MessagePending,
		CreatedAt: now,
	}
	if mode == "open" {
		msg.Status = models.MessageDelivered
		msg.DeliveredAt = &now
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if msg.Status == models.MessageDelivered {
		e.notify(toAgent, fromAgent, msg.ID, body)
	}
	return msg, nil
}

// Approve transitions a pending message (supervised mode) to delivered and
// notifies the recipient.
func (e *Engine) Approve(ctx context.Context, messageID string) (*models.AgentMessage, error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, apierr.Wrap(apierr.NotFound, err, "message not found")
	}
	if msg.Status != models.MessagePending {
		return nil, apierr.New(apierr.IllegalState, "message is not pending")
	}
	now := time.Now().UTC()
	msg.Status = models.MessageDelivered
	msg.DeliveredAt = &now
	if err := e.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	e.notify(msg.ToAgent, msg.FromAgent, msg.ID, msg.Body)
	return msg, nil
}

func (e *Engine) Reject(ctx context.Context, messageID, reason string) (*models.AgentMessage, error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, apierr.Wrap(apierr.NotFound, err, "message not found")
	}
	if msg.Status != models.MessagePending {
		return nil, apierr.New(apierr.IllegalState, "message is not pending")
	}
	msg.Status = models.MessageRejected
	msg.RejectionReason = reason
	if err := e.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (e *Engine) Inbox(ctx context.Context, agentName string, unreadOnly bool) ([]models.AgentMessage, error) {
	return e.store.ListMessages(ctx, agentName, unreadOnly)
}

// Pending returns every message awaiting a supervised-mode decision.
func (e *Engine) Pending(ctx context.Context) ([]models.AgentMessage, error) {
	return e.store.ListPendingMessages(ctx)
}

func (e *Engine) Get(ctx context.Context, id string) (*models.AgentMessage, error) {
	msg, err := e.store.GetMessage(ctx, id)
	if err != nil {
		return nil, apierr.Wrap(apierr.NotFound, err, "message not found")
	}
	return msg, nil
}

func (e *Engine) GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error) {
	b, err := e.store.GetBroadcast(ctx, id)
	if err != nil {
		return nil, apierr.Wrap(apierr.NotFound, err, "broadcast not found")
	}
	return b, nil
}

// Status reports the process-wide messaging mode currently in effect.
func (e *Engine) Status(ctx context.Context) map[string]string {
	return map[string]string{"messaging_mode": e.settings.MessagingMode()}
}

func (e *Engine) ListAgents(ctx context.Context) ([]models.Agent, error) {
	return e.agents.ListAgents(ctx)
}

// MarkRead sets read-at on a delivered message addressed to agentName. A
// second call against an already-read (or nonexistent) message id returns
// a not-found error: repeats
// are rejected rather than silently re-accepted.
func (e *Engine) MarkRead(ctx context.Context, messageID, agentName string) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, err, "message not found or already read")
	}
	if !strings.EqualFold(msg.ToAgent, agentName) {
		return apierr.New(apierr.Forbidden, "only the recipient may mark this message read")
	}
	if msg.ReadAt != nil {
		return apierr.New(apierr.NotFound, "message not found or already read")
	}
	now := time.Now().UTC()
	msg.ReadAt = &now
	return e.store.UpdateMessage(ctx, msg)
}

func (e *Engine) notify(toAgent, fromAgent, messageID, body string) {
	if e.notifier == nil {
		return
	}
	go func() {
		_ = e.notifier.Notify(context.Background(), toAgent, contracts.NotificationEvent{
			Type: "message.received",
			Text: fromAgent + ": " + truncate(body, 200),
			Fields: map[string]interface{}{
				"message_id": messageID,
				"from_agent": fromAgent,
			},
			Mode:      "now",
			Timestamp: time.Now().UTC(),
		})
	}()
}

// BroadcastResult mirrors the per-recipient outcome back to the caller.
type BroadcastResult struct {
	BroadcastID     string   `json:"broadcast_id"`
	TotalRecipients int      `json:"total_recipients"`
	Delivered       []string `json:"delivered"`
	Failed          []string `json:"failed"`
}

// Broadcast fans a message out in parallel to every enabled agent with a
// webhook configured, except the sender. Each delivery is individually
// bounded by the notifier's own timeout, and each recipient's outcome is
// persisted as a child row of the broadcast.
func (e *Engine) Broadcast(ctx context.Context, fromAgent, body string) (*BroadcastResult, error) {
	if e.settings.MessagingMode() == "off" {
		return nil, apierr.New(apierr.Forbidden, "messaging-disabled")
	}
	if strings.TrimSpace(body) == "" {
		return nil, apierr.New(apierr.BadRequest, "body must not be empty")
	}
	if len(body) > maxBodyBytes {
		return nil, apierr.Newf(apierr.BadRequest, "body exceeds %d bytes", maxBodyBytes)
	}

	agents, err := e.agents.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	recipients := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.Enabled && a.WebhookURL != "" && !strings.EqualFold(a.Name, fromAgent) {
			recipients = append(recipients, a.Name)
		}
	}

	b := &models.Broadcast{
		ID:              uuid.NewString(),
		FromAgent:       fromAgent,
		Body:            body,
		TotalRecipients: len(recipients),
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.store.CreateBroadcast(ctx, b); err != nil {
		return nil, err
	}

	var (
		wg                sync.WaitGroup
		mu                sync.Mutex
		delivered, failed []string
	)
	for _, name := range recipients {
		wg.Add(1)
		go func(toAgent string) {
			defer wg.Done()
			rec := &models.BroadcastRecipient{BroadcastID: b.ID, ToAgent: toAgent, Status: models.RecipientDelivered}
			if e.notifier != nil {
				if err := e.notifier.Notify(ctx, toAgent, contracts.NotificationEvent{
					Type: "broadcast.received",
					Text: fromAgent + " (broadcast): " + truncate(body, 200),
					Fields: map[string]interface{}{
						"broadcast_id": b.ID,
						"from_agent":   fromAgent,
					},
					Mode:      "now",
					Timestamp: time.Now().UTC(),
				}); err != nil {
					rec.Status = models.RecipientFailed
					rec.Error = err.Error()
				}
			}
			if err := e.store.CreateBroadcastRecipient(ctx, rec); err != nil {
				log.Error().Err(err).Str("broadcast_id", b.ID).Str("to", toAgent).Msg("failed to persist broadcast recipient")
			}
			mu.Lock()
			if rec.Status == models.RecipientDelivered {
				delivered = append(delivered, toAgent)
			} else {
				failed = append(failed, toAgent)
			}
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	return &BroadcastResult{
		BroadcastID:     b.ID,
		TotalRecipients: b.TotalRecipients,
		Delivered:       delivered,
		Failed:          failed,
	}, nil
}

func (e *Engine) ListBroadcasts(ctx context.Context, fromAgent string) ([]models.Broadcast, error) {
	return e.store.ListBroadcasts(ctx, fromAgent)
}

func (e *Engine) BroadcastRecipients(ctx context.Context, broadcastID string) ([]models.BroadcastRecipient, error) {
	return e.store.ListBroadcastRecipients(ctx, broadcastID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
