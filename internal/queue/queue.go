// Package queue implements the write-queue state machine: submit,
// approve, reject, withdraw, warn, list and status, including the
// bypass-auth fast path that runs an entry to completion inline.
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/resolver"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/contracts"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// writeCapableServices is the fixed registry of write-capable service
// keys; brave and google_search are read-only.
var writeCapableServices = map[string]bool{
	"github":          true,
	"bluesky":         true,
	"reddit":          true,
	"mastodon":        true,
	"calendar":        true,
	"google_calendar": true,
	"youtube":         true,
	"linkedin":        true,
	"jira":            true,
	"fitbit":          true,
}

var writeMethods = map[string]bool{
	"POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// Executor runs an approved entry's batch against upstream APIs.
// Implemented by internal/executor.Executor.
type Executor interface {
	Execute(ctx context.Context, entry *models.QueueEntry) ([]models.QueueResult, models.QueueStatus)
}

// Settings is the subset of internal/settings.Accessor the queue needs.
type Settings interface {
	SharedQueueVisible() bool
	AgentWithdrawEnabled() bool
}

type Engine struct {
	store    store.QueueStore
	creds    store.CredentialStore
	resolver *resolver.Resolver
	executor Executor
	notifier contracts.Notifier
	settings Settings
}

func New(s store.QueueStore, creds store.CredentialStore, r *resolver.Resolver, exec Executor, notifier contracts.Notifier, settings Settings) *Engine {
	return &Engine{store: s, creds: creds, resolver: r, executor: exec, notifier: notifier, settings: settings}
}

// SubmitResult is the response shape of a queue submission.
type SubmitResult struct {
	ID       string               `json:"id"`
	Status   models.QueueStatus   `json:"status"`
	Bypassed bool                 `json:"bypassed,omitempty"`
	Results  []models.QueueResult `json:"results,omitempty"`
}

// Submit validates and persists a write batch, taking the bypass-auth fast
// path to immediate execution when the submitting agent has it set for
// (service, account).
func (e *Engine) Submit(ctx context.Context, agentName, service, account string, requests []models.QueueRequest, comment string) (*SubmitResult, error) {
	if !writeCapableServices[service] {
		return nil, apierr.Newf(apierr.BadRequest, "invalid-service: %s is not write-capable", service)
	}
	if _, err := e.creds.GetCredential(ctx, service, account); err != nil {
		return nil, apierr.Wrap(apierr.BadRequest, err, "account-not-configured")
	}
	if err := e.resolver.Allow(ctx, service, account, agentName); err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, apierr.New(apierr.BadRequest, "requests must not be empty")
	}
	if strings.TrimSpace(comment) == "" {
		return nil, apierr.New(apierr.BadRequest, "comment is required")
	}
	for i, req := range requests {
		if strings.TrimSpace(req.Path) == "" {
			return nil, apierr.Newf(apierr.BadRequest, "requests[%d].path is required", i)
		}
		method := strings.ToUpper(req.Method)
		if !writeMethods[method] {
			return nil, apierr.Newf(apierr.BadRequest, "requests[%d].method %q is not a write method", i, req.Method)
		}
		requests[i].Method = method
	}

	entry := &models.QueueEntry{
		ID:          uuid.NewString(),
		Service:     service,
		AccountName: account,
		Requests:    requests,
		Comment:     comment,
		SubmittedBy: agentName,
		SubmittedAt: time.Now().UTC(),
		Status:      models.QueuePending,
	}
	if err := e.store.CreateQueueEntry(ctx, entry); err != nil {
		return nil, err
	}

	bypass, err := e.resolver.Bypass(ctx, service, account, agentName)
	if err != nil {
		return nil, err
	}
	if !bypass {
		return &SubmitResult{ID: entry.ID, Status: entry.Status}, nil
	}

	entry.AutoApproved = true
	entry.ReviewedBy = agentName
	if err := e.advanceToExecuting(ctx, entry); err != nil {
		return nil, err
	}
	e.run(ctx, entry)
	return &SubmitResult{ID: entry.ID, Status: entry.Status, Bypassed: true, Results: entry.Results}, nil
}

// StatusView is the response shape of the status/poll operation.
type StatusView = models.QueueEntry

func (e *Engine) Status(ctx context.Context, id string) (*StatusView, error) {
	entry, err := e.store.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, apierr.Wrap(apierr.NotFound, err, "queue entry not found")
	}
	return entry, nil
}

// List respects the shared-queue-visibility setting: when false, only the
// requesting agent's own entries are returned.
func (e *Engine) List(ctx context.Context, agentName, service, account string) ([]models.QueueEntry, error) {
	filter := store.QueueFilter{Service: service, AccountName: account}
	if !e.settings.SharedQueueVisible() {
		filter.SubmittedBy = agentName
	}
	return e.store.ListQueueEntries(ctx, filter)
}

func (e *Engine) Approve(ctx context.Context, id, approver string) error {
	entry, err := e.store.GetQueueEntry(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, err, "queue entry not found")
	}
	if entry.Status != models.QueuePending {
		return apierr.New(apierr.IllegalState, "entry is not pending")
	}
	now := time.Now().UTC()
	entry.ReviewedAt = &now
	entry.ReviewedBy = approver
	if err := e.advanceToExecuting(ctx, entry); err != nil {
		return err
	}
	go e.run(context.WithoutCancel(ctx), entry)
	return nil
}

func (e *Engine) Reject(ctx context.Context, id, approver, reason string) error {
	entry, err := e.store.GetQueueEntry(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, err, "queue entry not found")
	}
	now := time.Now().UTC()
	entry.Status = models.QueueRejected
	entry.ReviewedAt = &now
	entry.ReviewedBy = approver
	entry.RejectionReason = reason
	if err := e.store.UpdateQueueEntry(ctx, entry, models.QueuePending); err != nil {
		if _, ok := err.(*store.ErrIllegalState); ok {
			return apierr.New(apierr.IllegalState, "entry is not pending")
		}
		return err
	}
	return nil
}

func (e *Engine) Withdraw(ctx context.Context, id, agentName, reason string) error {
	if !e.settings.AgentWithdrawEnabled() {
		return apierr.New(apierr.Forbidden, "agent withdrawal is disabled")
	}
	entry, err := e.store.GetQueueEntry(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, err, "queue entry not found")
	}
	if !strings.EqualFold(entry.SubmittedBy, agentName) {
		return apierr.New(apierr.Forbidden, "only the submitting agent may withdraw this entry")
	}
	now := time.Now().UTC()
	entry.Status = models.QueueWithdrawn
	entry.ReviewedAt = &now
	entry.ReviewedBy = entry.SubmittedBy
	entry.RejectionReason = reason
	if err := e.store.UpdateQueueEntry(ctx, entry, models.QueuePending); err != nil {
		if _, ok := err.(*store.ErrIllegalState); ok {
			return apierr.New(apierr.IllegalState, "entry is not pending")
		}
		return err
	}
	return nil
}

// Warn records a peer warning on a pending entry and best-effort notifies
// the submitter. Only permitted while pending and from an agent other than
// the submitter.
func (e *Engine) Warn(ctx context.Context, id, agentName, text string) (string, error) {
	entry, err := e.store.GetQueueEntry(ctx, id)
	if err != nil {
		return "", apierr.Wrap(apierr.NotFound, err, "queue entry not found")
	}
	if entry.Status != models.QueuePending {
		return "", apierr.New(apierr.IllegalState, "entry is not pending")
	}
	if strings.EqualFold(entry.SubmittedBy, agentName) {
		return "", apierr.New(apierr.BadRequest, "an agent cannot warn its own submission")
	}

	warning := &models.QueueWarning{
		ID:        uuid.NewString(),
		QueueID:   id,
		WarnedBy:  agentName,
		Message:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateQueueWarning(ctx, warning); err != nil {
		return "", err
	}

	if e.notifier != nil {
		go func() {
			_ = e.notifier.Notify(context.Background(), entry.SubmittedBy, contracts.NotificationEvent{
				Type:      "queue.warning",
				Text:      "Warning on queue entry " + id + ": " + text,
				Mode:      "now",
				Timestamp: time.Now().UTC(),
			})
		}()
	}
	return warning.ID, nil
}

func (e *Engine) Warnings(ctx context.Context, id string) ([]models.QueueWarning, error) {
	return e.store.ListQueueWarnings(ctx, id)
}

// Purge removes a terminal entry (and its warnings, by cascade). The
// runtime never deletes entries on its own; this is the admin's cleanup.
func (e *Engine) Purge(ctx context.Context, id string) error {
	entry, err := e.store.GetQueueEntry(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, err, "queue entry not found")
	}
	switch entry.Status {
	case models.QueueRejected, models.QueueWithdrawn, models.QueueCompleted, models.QueueFailed:
		return e.store.DeleteQueueEntry(ctx, id)
	default:
		return apierr.New(apierr.IllegalState, "only terminal entries may be purged")
	}
}

func (e *Engine) advanceToExecuting(ctx context.Context, entry *models.QueueEntry) error {
	entry.Status = models.QueueExecuting
	if err := e.store.UpdateQueueEntry(ctx, entry, models.QueuePending); err != nil {
		return err
	}
	return nil
}

// run executes an entry and persists its terminal status. Within a single
// entry, requests execute strictly in order and the executor stops on the
// first failure; across entries there is no ordering guarantee, so callers
// invoke run without holding any cross-entry lock.
func (e *Engine) run(ctx context.Context, entry *models.QueueEntry) {
	results, terminal := e.executor.Execute(ctx, entry)
	entry.Results = results
	entry.Status = terminal
	now := time.Now().UTC()
	entry.CompletedAt = &now
	if err := e.store.UpdateQueueEntry(ctx, entry, models.QueueExecuting); err != nil {
		log.Error().Err(err).Str("queue_id", entry.ID).Msg("failed to persist terminal queue status")
	}
}
