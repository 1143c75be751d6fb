package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zapdesk/autoflow/internal/event"
	"github.com/zapdesk/autoflow/internal/rule"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// RuleRepository defines operations for automation rule persistence.
type RuleRepository interface {
	Create(ctx context.Context, r *rule.Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*rule.Rule, error)
	List(ctx context.Context) ([]*rule.Rule, error)
	ListEnabled(ctx context.Context) ([]*rule.Rule, error)
	Update(ctx context.Context, r *rule.Rule) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error

	// RecordExecution bumps the rule's counters for one terminal execution
	// in a single atomic update.
	RecordExecution(ctx context.Context, id uuid.UUID, success bool, at time.Time) error

	// NextFire returns the rule's persisted next fire instant. The zero time
	// means the schedule never fires again.
	NextFire(ctx context.Context, id uuid.UUID) (time.Time, error)
	// ClaimFire advances the next fire instant from prev to next only if it
	// still equals prev, and reports whether this caller won the claim.
	ClaimFire(ctx context.Context, id uuid.UUID, prev, next time.Time) (bool, error)
}

// ChatRepository defines operations for the chat mirror.
type ChatRepository interface {
	Upsert(ctx context.Context, chat *Chat) error
	GetByJID(ctx context.Context, jid string) (*Chat, error)
	List(ctx context.Context, limit int) ([]Chat, error)
	AddTag(ctx context.Context, jid, tag string) error
	RemoveTag(ctx context.Context, jid, tag string) error
	Tags(ctx context.Context, jid string) ([]string, error)
	Observe(ctx context.Context, obs event.ChatObservation) (bool, error)
	Delete(ctx context.Context, jid string) error
	Count(ctx context.Context) (int, error)
}

// ExecutionRepository defines operations for the execution audit log.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *Execution) error
	ListByRule(ctx context.Context, ruleID uuid.UUID, limit int) ([]Execution, error)
}

// SilenceRepository tracks which noReply silence windows already fired. A
// window is keyed by (rule, chat, last inbound timestamp) so one silence
// fires at most once, across restarts.
type SilenceRepository interface {
	Fired(ctx context.Context, ruleID uuid.UUID, chatJID string, inboundAt time.Time) (bool, error)
	MarkFired(ctx context.Context, ruleID uuid.UUID, chatJID string, inboundAt, firedAt time.Time) error
}
