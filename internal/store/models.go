// Package store provides SQLite persistence for automation rules, the chat
// mirror, and execution history.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Chat is the engine's mirror of a conversation: identity, tag set, and the
// timestamps trigger evaluation depends on.
type Chat struct {
	JID         string    `json:"jid"`
	Name        string    `json:"name"`
	IsGroup     bool      `json:"is_group"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	UnreadCount int       `json:"unread_count"`
	Archived    bool      `json:"archived"`
	Blocked     bool      `json:"blocked"`

	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastInboundAt  time.Time `json:"last_inbound_at,omitempty"`
	LastOutboundAt time.Time `json:"last_outbound_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Execution statuses.
const (
	ExecutionSucceeded = "succeeded"
	ExecutionFailed    = "failed"
)

// Execution is the audit record of one terminal rule execution.
type Execution struct {
	ID               uuid.UUID `json:"id"`
	RuleID           uuid.UUID `json:"rule_id"`
	ChatJID          string    `json:"chat_jid"`
	EventKind        string    `json:"event_kind"`
	Status           string    `json:"status"`
	ActionsTotal     int       `json:"actions_total"`
	ActionsSucceeded int       `json:"actions_succeeded"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
}
