package rule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zapdesk/autoflow/internal/event"
)

// ChatState is the snapshot of a chat the matcher and filter evaluate
// against.
type ChatState struct {
	ID             string
	IsGroup        bool
	Tags           []string
	LastInboundAt  time.Time
	LastOutboundAt time.Time
}

// MatchState carries the per-rule and per-chat state a trigger needs beyond
// the event itself. The engine assembles it; the matcher stays pure.
type MatchState struct {
	Chat ChatState
	// ScheduleDue is set when the scheduler claimed a fire instant for this
	// rule on the current tick.
	ScheduleDue bool
	// SilenceFired is set when the current silence window already fired for
	// this rule and chat.
	SilenceFired bool
	Now          time.Time
}

// PredicateError reports a custom condition evaluator failure. The matcher
// treats it as a non-match.
type PredicateError struct {
	Condition string
	Err       error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("predicate %q: %v", e.Condition, e.Err)
}

func (e *PredicateError) Unwrap() error { return e.Err }

// Predicate evaluates custom trigger conditions. Implementations are
// supplied by the integrator.
type Predicate interface {
	Evaluate(ctx context.Context, condition string, evt event.ConversationEvent) (bool, error)
}

type alwaysFalse struct{}

func (alwaysFalse) Evaluate(context.Context, string, event.ConversationEvent) (bool, error) {
	return false, nil
}

// DefaultPredicate returns the built-in predicate, which matches nothing.
func DefaultPredicate() Predicate { return alwaysFalse{} }

// Matcher evaluates triggers against conversation events. Evaluation is
// side-effect-free; any state advancement happens after admission.
type Matcher struct {
	predicate Predicate
}

// NewMatcher creates a matcher. A nil predicate falls back to the default
// always-false one.
func NewMatcher(p Predicate) *Matcher {
	if p == nil {
		p = DefaultPredicate()
	}
	return &Matcher{predicate: p}
}

// Evaluate reports whether the trigger matches the event given the supplied
// state. A returned error means the trigger could not be evaluated and the
// rule must not fire.
func (m *Matcher) Evaluate(ctx context.Context, t Trigger, evt event.ConversationEvent, st MatchState) (bool, error) {
	switch tr := t.(type) {
	case KeywordTrigger:
		if evt.Kind != event.KindMessage || len(tr.Keywords) == 0 {
			return false, nil
		}
		body := event.NormalizeBody(evt.Body)
		if body == "" {
			return false, nil
		}
		for _, k := range tr.Normalized() {
			if k != "" && strings.Contains(body, k) {
				return true, nil
			}
		}
		return false, nil

	case NewChatTrigger:
		return evt.Kind == event.KindNewChat, nil

	case ScheduledTrigger:
		return evt.Kind == event.KindTick && st.ScheduleDue, nil

	case NoReplyTrigger:
		if evt.Kind != event.KindTick || st.SilenceFired {
			return false, nil
		}
		inbound := st.Chat.LastInboundAt
		if inbound.IsZero() {
			return false, nil
		}
		// An outbound message at or after the last inbound one closes the
		// silence window.
		if !st.Chat.LastOutboundAt.Before(inbound) {
			return false, nil
		}
		return st.Now.Sub(inbound) >= tr.Timeout, nil

	case CustomTrigger:
		ok, err := m.predicate.Evaluate(ctx, tr.Condition, evt)
		if err != nil {
			return false, &PredicateError{Condition: tr.Condition, Err: err}
		}
		return ok, nil

	default:
		return false, fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidRule, t.Kind())
	}
}
