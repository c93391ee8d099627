// Package models holds the persistent entities of the gateway, one struct
// per table in the embedded store. Field tags follow the `db:"..."` and
// `json:"..."` convention used throughout this module's store layer.
package models

import "time"

// ── Agent ────────────────────────────────────────────────────

type Agent struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	HashedKey   string    `json:"-" db:"hashed_key"`
	KeyPrefix   string    `json:"key_prefix" db:"key_prefix"`
	Bio         string    `json:"bio,omitempty" db:"bio"`
	WebhookURL  string    `json:"webhook_url,omitempty" db:"webhook_url"`
	WebhookTok  string    `json:"-" db:"webhook_token"`
	Enabled     bool      `json:"enabled" db:"enabled"`
	RawResults  bool      `json:"raw_results" db:"raw_results"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ── Credential vault ─────────────────────────────────────────

// Credential is one row per (service, account). Data is an opaque bag
// holding whatever lifecycle fields that service's auth scheme needs
// (access_token, refresh_token, expires_at, client_id, client_secret,
// instance, domain, ...).
type Credential struct {
	Service     string            `json:"service" db:"service"`
	AccountName string            `json:"account_name" db:"account_name"`
	Data        map[string]string `json:"data"`
}

// ── Access control ───────────────────────────────────────────

type PolicyMode string

const (
	PolicyAll       PolicyMode = "all"
	PolicyAllowlist PolicyMode = "allowlist"
	PolicyDenylist  PolicyMode = "denylist"
)

// ServiceAccessPolicy gates which agents may touch a (service, account) pair.
type ServiceAccessPolicy struct {
	Service     string     `json:"service" db:"service"`
	AccountName string     `json:"account_name" db:"account_name"`
	Mode        PolicyMode `json:"mode" db:"mode"`
	AgentList   []string   `json:"agent_list"`
}

// AgentBypass is a per-(service, account, agent) flag that turns queue
// submission into immediate execution.
type AgentBypass struct {
	Service     string `json:"service" db:"service"`
	AccountName string `json:"account_name" db:"account_name"`
	AgentName   string `json:"agent_name" db:"agent_name"`
	BypassAuth  bool   `json:"bypass_auth" db:"bypass_auth"`
}

// ── Queue ────────────────────────────────────────────────────

type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueApproved  QueueStatus = "approved"
	QueueExecuting QueueStatus = "executing"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
	QueueRejected  QueueStatus = "rejected"
	QueueWithdrawn QueueStatus = "withdrawn"
)

// QueueRequest is one element of a submitted write batch.
type QueueRequest struct {
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	Body         interface{}       `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BinaryBase64 bool              `json:"binaryBase64,omitempty"`
}

// QueueResult is the aligned outcome of one QueueRequest.
type QueueResult struct {
	OK     bool        `json:"ok"`
	Status int         `json:"status"`
	Body   interface{} `json:"body,omitempty"`
}

// QueueEntry is the persistent record of a batch of write requests awaiting
// human decision.
type QueueEntry struct {
	ID              string         `json:"id" db:"id"`
	Service         string         `json:"service" db:"service"`
	AccountName     string         `json:"account_name" db:"account_name"`
	Requests        []QueueRequest `json:"requests"`
	Comment         string         `json:"comment" db:"comment"`
	SubmittedBy     string         `json:"submitted_by" db:"submitted_by"`
	SubmittedAt     time.Time      `json:"submitted_at" db:"submitted_at"`
	Status          QueueStatus    `json:"status" db:"status"`
	ReviewedAt      *time.Time     `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewedBy      string         `json:"reviewed_by,omitempty" db:"reviewed_by"`
	RejectionReason string         `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Results         []QueueResult  `json:"results,omitempty"`
	AutoApproved    bool           `json:"auto_approved" db:"auto_approved"`
}

// QueueWarning is a child of QueueEntry; cascades on entry deletion.
type QueueWarning struct {
	ID        string    `json:"id" db:"id"`
	QueueID   string    `json:"queue_id" db:"queue_id"`
	WarnedBy  string    `json:"warned_by" db:"warned_by"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ── Messaging ────────────────────────────────────────────────

type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageDelivered MessageStatus = "delivered"
	MessageRejected  MessageStatus = "rejected"
)

type AgentMessage struct {
	ID              string        `json:"id" db:"id"`
	FromAgent       string        `json:"from_agent" db:"from_agent"`
	ToAgent         string        `json:"to_agent" db:"to_agent"`
	Body            string        `json:"body" db:"body"`
	Status          MessageStatus `json:"status" db:"status"`
	RejectionReason string        `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	DeliveredAt     *time.Time    `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt          *time.Time    `json:"read_at,omitempty" db:"read_at"`
}

type Broadcast struct {
	ID              string    `json:"id" db:"id"`
	FromAgent       string    `json:"from_agent" db:"from_agent"`
	Body            string    `json:"body" db:"body"`
	TotalRecipients int       `json:"total_recipients" db:"total_recipients"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type RecipientStatus string

const (
	RecipientDelivered RecipientStatus = "delivered"
	RecipientFailed    RecipientStatus = "failed"
)

type BroadcastRecipient struct {
	BroadcastID string          `json:"broadcast_id" db:"broadcast_id"`
	ToAgent     string          `json:"to_agent" db:"to_agent"`
	Status      RecipientStatus `json:"status" db:"status"`
	Error       string          `json:"error,omitempty" db:"error"`
}

// ── Mementos ─────────────────────────────────────────────────

type Memento struct {
	ID        string    `json:"id" db:"id"`
	AgentID   string    `json:"agent_id" db:"agent_id"`
	Model     string    `json:"model,omitempty" db:"model"`
	Role      string    `json:"role,omitempty" db:"role"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MementoKeyword is a (memento, stem) pair; set semantics per memento.
type MementoKeyword struct {
	MementoID string `json:"memento_id" db:"memento_id"`
	Stem      string `json:"stem" db:"stem"`
}

// MementoMatch is a search result: a Memento plus how many distinct stems matched.
type MementoMatch struct {
	Memento    Memento `json:"memento"`
	Preview    string  `json:"preview"`
	MatchCount int     `json:"match_count"`
}

// ── Sessions ─────────────────────────────────────────────────

type Session struct {
	ID         string    `json:"session_id" db:"id"`
	AgentName  string    `json:"agent_name" db:"agent_name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	LastSeenAt time.Time `json:"last_seen" db:"last_seen"`
}

// ── Settings ─────────────────────────────────────────────────

// Setting is a singleton key/value row; the settings accessor interprets
// well-known keys (messaging mode, shared-queue-visibility, ...).
type Setting struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}
