// Package store provides the storage interface and the sqlite-backed
// implementation for the gateway: a single embedded-relational-DB file
// holding one table per entity in the data model, exactly as required by
// the design's persisted-layout section.
package store

import (
	"context"
	"time"

	"github.com/agentgate/agentgate/pkg/models"
)

// Store is the sole shared mutable resource in the process: every
// subsystem depends on this interface rather than holding its own state.
type Store interface {
	AgentStore
	CredentialStore
	PolicyStore
	QueueStore
	MessagingStore
	MementoStore
	SessionStore
	SettingsStore

	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	ListAgents(ctx context.Context) ([]models.Agent, error)
	GetAgent(ctx context.Context, name string) (*models.Agent, error)
	GetAgentByID(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByKeyPrefix(ctx context.Context, prefix string) (*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	// DeleteAgent is a soft administrative operation: the row is marked
	// disabled, never removed, since queue entries and messages reference
	// the agent by name without a foreign key.
	DeleteAgent(ctx context.Context, name string) error
}

// ── Credential Store ────────────────────────────────────────

type CredentialStore interface {
	GetCredential(ctx context.Context, service, account string) (*models.Credential, error)
	PutCredential(ctx context.Context, cred *models.Credential) error
	DeleteCredential(ctx context.Context, service, account string) error
}

// ── Access-control / policy store ───────────────────────────

type PolicyStore interface {
	GetPolicy(ctx context.Context, service, account string) (*models.ServiceAccessPolicy, error)
	PutPolicy(ctx context.Context, policy *models.ServiceAccessPolicy) error
	GetBypass(ctx context.Context, service, account, agent string) (*models.AgentBypass, error)
	PutBypass(ctx context.Context, bypass *models.AgentBypass) error
}

// ── Queue store ──────────────────────────────────────────────

type QueueFilter struct {
	SubmittedBy string
	Service     string
	AccountName string
}

type QueueStore interface {
	CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error
	GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	// UpdateQueueEntry performs a compare-and-swap on status: it fails with
	// *ErrIllegalState unless the row currently has fromStatus.
	UpdateQueueEntry(ctx context.Context, entry *models.QueueEntry, fromStatus models.QueueStatus) error
	ListQueueEntries(ctx context.Context, filter QueueFilter) ([]models.QueueEntry, error)
	// DeleteQueueEntry removes a row outright; warnings cascade. The queue
	// engine only calls this for terminal entries.
	DeleteQueueEntry(ctx context.Context, id string) error

	CreateQueueWarning(ctx context.Context, warning *models.QueueWarning) error
	ListQueueWarnings(ctx context.Context, queueID string) ([]models.QueueWarning, error)
}

// ── Messaging store ──────────────────────────────────────────

type MessagingStore interface {
	CreateMessage(ctx context.Context, msg *models.AgentMessage) error
	GetMessage(ctx context.Context, id string) (*models.AgentMessage, error)
	UpdateMessage(ctx context.Context, msg *models.AgentMessage) error
	ListMessages(ctx context.Context, toAgent string, unreadOnly bool) ([]models.AgentMessage, error)
	ListPendingMessages(ctx context.Context) ([]models.AgentMessage, error)

	CreateBroadcast(ctx context.Context, b *models.Broadcast) error
	GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error)
	ListBroadcasts(ctx context.Context, fromAgent string) ([]models.Broadcast, error)
	CreateBroadcastRecipient(ctx context.Context, r *models.BroadcastRecipient) error
	ListBroadcastRecipients(ctx context.Context, broadcastID string) ([]models.BroadcastRecipient, error)
}

// ── Memento store ────────────────────────────────────────────

type MementoStore interface {
	CreateMemento(ctx context.Context, m *models.Memento, stems []string) error
	GetMementosByIDs(ctx context.Context, agentID string, ids []string) ([]models.Memento, error)
	ListRecentMementos(ctx context.Context, agentID string, limit int) ([]models.Memento, error)
	SearchMementosByStems(ctx context.Context, agentID string, stems []string, limit int) ([]models.MementoMatch, error)
	ListKeywords(ctx context.Context, agentID string) ([]string, error)
}

// ── Session store ────────────────────────────────────────────

type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	CreateSession(ctx context.Context, session *models.Session) error
	TouchSession(ctx context.Context, id string, lastSeen time.Time) error
	DeleteSession(ctx context.Context, id string) error
	ListExpiredSessions(ctx context.Context, olderThan time.Time) ([]models.Session, error)
	ListAgentSessions(ctx context.Context, agentName string) ([]models.Session, error)
}

// ── Settings store ───────────────────────────────────────────

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrIllegalState is returned by UpdateQueueEntry when the row's current
// status does not match the expected fromStatus.
type ErrIllegalState struct {
	Entity  string
	Wanted  string
	Current string
}

func (e *ErrIllegalState) Error() string {
	return e.Entity + ": expected status " + e.Wanted + ", found " + e.Current
}

// ListFilter provides common pagination options.
type ListFilter struct {
	Limit  int
	Offset int
	Since  *time.Time
}
