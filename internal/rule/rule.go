// Package rule contains the automation rule domain model: triggers, actions,
// chat filters, and per-rule statistics.
package rule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors for automation rules.
var (
	ErrRuleNotFound = errors.New("automation rule not found")
	ErrInvalidRule  = errors.New("invalid automation rule")
)

// TriggerKind identifies the condition class that activates a rule.
type TriggerKind string

const (
	TriggerKeyword   TriggerKind = "keyword"
	TriggerNewChat   TriggerKind = "newChat"
	TriggerScheduled TriggerKind = "scheduled"
	TriggerNoReply   TriggerKind = "noReply"
	TriggerCustom    TriggerKind = "custom"
)

// Trigger is the closed set of rule activation conditions. Exactly one
// concrete kind is configured per rule.
type Trigger interface {
	Kind() TriggerKind
	validate() error
}

// KeywordTrigger activates when an inbound message contains any of the
// configured keywords. Matching is case-insensitive substring containment.
type KeywordTrigger struct {
	Keywords []string
}

func (t KeywordTrigger) Kind() TriggerKind { return TriggerKeyword }

func (t KeywordTrigger) validate() error {
	for _, k := range t.Keywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: keyword trigger contains an empty keyword", ErrInvalidRule)
		}
	}
	return nil
}

// Normalized returns the keywords lowercased and trimmed, the form the
// matcher compares against.
func (t KeywordTrigger) Normalized() []string {
	out := make([]string, 0, len(t.Keywords))
	for _, k := range t.Keywords {
		out = append(out, strings.ToLower(strings.TrimSpace(k)))
	}
	return out
}

// NewChatTrigger activates on the first message ever received from a chat.
type NewChatTrigger struct{}

func (t NewChatTrigger) Kind() TriggerKind { return TriggerNewChat }
func (t NewChatTrigger) validate() error   { return nil }

// ScheduledTrigger activates at the instants described by its schedule.
type ScheduledTrigger struct {
	Schedule Schedule
}

func (t ScheduledTrigger) Kind() TriggerKind { return TriggerScheduled }
func (t ScheduledTrigger) validate() error   { return t.Schedule.validate() }

// NoReplyTrigger activates when an inbound message has gone unanswered for
// the configured duration.
type NoReplyTrigger struct {
	Timeout time.Duration
}

func (t NoReplyTrigger) Kind() TriggerKind { return TriggerNoReply }

func (t NoReplyTrigger) validate() error {
	if t.Timeout <= 0 {
		return fmt.Errorf("%w: noReply timeout must be positive", ErrInvalidRule)
	}
	return nil
}

// CustomTrigger activates when an integrator-supplied predicate evaluates the
// condition expression to true for an event.
type CustomTrigger struct {
	Condition string
}

func (t CustomTrigger) Kind() TriggerKind { return TriggerCustom }

func (t CustomTrigger) validate() error {
	if strings.TrimSpace(t.Condition) == "" {
		return fmt.Errorf("%w: custom trigger requires a condition expression", ErrInvalidRule)
	}
	return nil
}

// ActionKind identifies an action variant.
type ActionKind string

const (
	ActionSendMessage ActionKind = "sendMessage"
	ActionSendMedia   ActionKind = "sendMedia"
	ActionAddTag      ActionKind = "addTag"
	ActionRemoveTag   ActionKind = "removeTag"
	ActionWebhook     ActionKind = "webhook"
	ActionDelay       ActionKind = "delay"
)

// MediaType classifies outbound media attachments.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

func (m MediaType) valid() bool {
	switch m {
	case MediaImage, MediaVideo, MediaAudio, MediaDocument:
		return true
	}
	return false
}

// Action is the closed set of effects a rule performs when it fires. Actions
// run in list order.
type Action interface {
	Kind() ActionKind
	validate() error
}

// SendMessageAction sends a text message into the triggering chat. The text
// may contain {{chat_id}} and {{message}} placeholders.
type SendMessageAction struct {
	Text string
}

func (a SendMessageAction) Kind() ActionKind { return ActionSendMessage }

func (a SendMessageAction) validate() error {
	if a.Text == "" {
		return fmt.Errorf("%w: sendMessage action requires text", ErrInvalidRule)
	}
	return nil
}

// SendMediaAction sends a media attachment fetched from a URL.
type SendMediaAction struct {
	URL     string
	Type    MediaType
	Caption string
}

func (a SendMediaAction) Kind() ActionKind { return ActionSendMedia }

func (a SendMediaAction) validate() error {
	if a.URL == "" {
		return fmt.Errorf("%w: sendMedia action requires a media URL", ErrInvalidRule)
	}
	if !a.Type.valid() {
		return fmt.Errorf("%w: sendMedia action has unknown media type %q", ErrInvalidRule, a.Type)
	}
	return nil
}

// AddTagAction adds a tag to the triggering chat.
type AddTagAction struct {
	Tag string
}

func (a AddTagAction) Kind() ActionKind { return ActionAddTag }

func (a AddTagAction) validate() error {
	if a.Tag == "" {
		return fmt.Errorf("%w: addTag action requires a tag", ErrInvalidRule)
	}
	return nil
}

// RemoveTagAction removes a tag from the triggering chat.
type RemoveTagAction struct {
	Tag string
}

func (a RemoveTagAction) Kind() ActionKind { return ActionRemoveTag }

func (a RemoveTagAction) validate() error {
	if a.Tag == "" {
		return fmt.Errorf("%w: removeTag action requires a tag", ErrInvalidRule)
	}
	return nil
}

// WebhookAction posts the execution context as JSON to an external URL.
type WebhookAction struct {
	URL string
}

func (a WebhookAction) Kind() ActionKind { return ActionWebhook }

func (a WebhookAction) validate() error {
	if a.URL == "" {
		return fmt.Errorf("%w: webhook action requires a URL", ErrInvalidRule)
	}
	return nil
}

// DelayAction pauses this execution before the next action runs. Other chats
// and other rules are unaffected.
type DelayAction struct {
	Duration time.Duration
}

func (a DelayAction) Kind() ActionKind { return ActionDelay }

func (a DelayAction) validate() error {
	if a.Duration < 0 {
		return fmt.Errorf("%w: delay action duration must not be negative", ErrInvalidRule)
	}
	return nil
}

// ChatType distinguishes direct conversations from groups.
type ChatType string

const (
	ChatIndividual ChatType = "individual"
	ChatGroup      ChatType = "group"
)

func (c ChatType) valid() bool {
	return c == ChatIndividual || c == ChatGroup
}

// Filter narrows the chats a rule applies to. Empty slices mean
// "no restriction" for that dimension.
type Filter struct {
	ChatTypes   []ChatType `json:"chatTypes,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	ExcludeTags []string   `json:"excludeTags,omitempty"`
}

func (f Filter) validate() error {
	for _, ct := range f.ChatTypes {
		if !ct.valid() {
			return fmt.Errorf("%w: unknown chat type %q in filter", ErrInvalidRule, ct)
		}
	}
	return nil
}

// Stats tracks rule execution outcomes. One terminal execution updates the
// counters exactly once.
type Stats struct {
	TimesTriggered int
	LastTriggered  *time.Time
	SuccessCount   int
	FailureCount   int
}

// Rule is an automation rule: a trigger, an ordered action list, chat
// filters, and running statistics.
type Rule struct {
	ID          uuid.UUID
	CreatedBy   string
	Name        string
	Description string
	Enabled     bool

	Trigger Trigger
	Actions []Action
	Filter  Filter
	Stats   Stats

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an enabled rule and validates its configuration. A rule with no
// actions is legal; an admitted match still updates its statistics.
func New(createdBy, name string, trigger Trigger, actions []Action) (*Rule, error) {
	now := time.Now()
	r := &Rule{
		ID:        uuid.New(),
		CreatedBy: createdBy,
		Name:      name,
		Enabled:   true,
		Trigger:   trigger,
		Actions:   actions,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the rule configuration. A rule that fails validation is
// skipped by the engine, never executed.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Trigger == nil {
		return fmt.Errorf("%w: trigger is required", ErrInvalidRule)
	}
	if err := r.Trigger.validate(); err != nil {
		return err
	}
	for i, a := range r.Actions {
		if a == nil {
			return fmt.Errorf("%w: action %d is nil", ErrInvalidRule, i)
		}
		if err := a.validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return r.Filter.validate()
}

// Enable enables the rule.
func (r *Rule) Enable() {
	r.Enabled = true
	r.UpdatedAt = time.Now()
}

// Disable disables the rule. Disabled rules are never admitted.
func (r *Rule) Disable() {
	r.Enabled = false
	r.UpdatedAt = time.Now()
}
