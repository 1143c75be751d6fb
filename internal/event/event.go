// Package event defines the canonical conversation events the automation
// engine consumes, and the normalizer that produces them from raw channel
// events.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a conversation event variant.
type Kind string

const (
	// KindMessage is an inbound message in a chat.
	KindMessage Kind = "message"
	// KindNewChat is emitted once, before the first message event of a chat
	// never seen before.
	KindNewChat Kind = "newChat"
	// KindTick is a synthetic scheduler event that drives time-based
	// triggers through the same per-chat pipeline as live events.
	KindTick Kind = "tick"
)

// ConversationEvent is the canonical form every trigger is evaluated
// against. Body is the normalized message text; it is empty for newChat and
// tick events.
type ConversationEvent struct {
	Kind      Kind
	ChatID    string
	Body      string
	IsGroup   bool
	Tags      []string
	Timestamp time.Time

	// DueRules carries, on tick events only, the scheduled rules whose fire
	// instant the scheduler claimed for this tick.
	DueRules []uuid.UUID
}

// DueFor reports whether a scheduled rule's fire instant was claimed for
// this tick.
func (e ConversationEvent) DueFor(ruleID uuid.UUID) bool {
	for _, id := range e.DueRules {
		if id == ruleID {
			return true
		}
	}
	return false
}

// NormalizeBody lowercases and trims message text into the form keyword
// matching runs on.
func NormalizeBody(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
