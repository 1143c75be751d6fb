package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zapdesk/autoflow/internal/channel"
	"github.com/zapdesk/autoflow/internal/event"
	"github.com/zapdesk/autoflow/internal/rule"
)

// ActionResult records the outcome of one action in a sequence.
type ActionResult struct {
	Kind rule.ActionKind
	Err  error
}

// ExecutionResult summarizes one rule-execution. The execution as a whole
// failed if any action failed, no matter how many succeeded.
type ExecutionResult struct {
	Succeeded int
	FirstErr  error
	Actions   []ActionResult
}

// Failed reports whether any action in the execution failed.
func (r ExecutionResult) Failed() bool { return r.FirstErr != nil }

// TagStore is the chat-store capability tag actions need.
type TagStore interface {
	AddTag(ctx context.Context, jid, tag string) error
	RemoveTag(ctx context.Context, jid, tag string) error
}

// Executor runs a rule's ordered action list against the message channel.
type Executor struct {
	channel  channel.MessageChannel
	tags     TagStore
	webhooks channel.WebhookCaller
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor over the given capabilities.
func NewExecutor(ch channel.MessageChannel, tags TagStore, webhooks channel.WebhookCaller, log *slog.Logger) *Executor {
	return &Executor{
		channel:  ch,
		tags:     tags,
		webhooks: webhooks,
		log:      log.With("component", "executor"),
		sleep:    sleepCtx,
	}
}

// Run executes the rule's actions in order. A failed action is recorded and
// the remaining actions still run; a delay suspends only this execution.
func (x *Executor) Run(ctx context.Context, r *rule.Rule, evt event.ConversationEvent) ExecutionResult {
	var res ExecutionResult
	for _, a := range r.Actions {
		err := x.runAction(ctx, a, r, evt)
		res.Actions = append(res.Actions, ActionResult{Kind: a.Kind(), Err: err})
		if err != nil {
			if res.FirstErr == nil {
				res.FirstErr = err
			}
			x.log.Warn("action failed",
				"rule_id", r.ID, "chat_id", evt.ChatID, "action", a.Kind(), "error", err)
			continue
		}
		res.Succeeded++
	}
	return res
}

func (x *Executor) runAction(ctx context.Context, a rule.Action, r *rule.Rule, evt event.ConversationEvent) error {
	switch act := a.(type) {
	case rule.SendMessageAction:
		_, err := x.channel.SendText(ctx, evt.ChatID, expandTemplate(act.Text, evt))
		if err != nil {
			return &channel.TransientError{Err: err}
		}
		return nil

	case rule.SendMediaAction:
		_, err := x.channel.SendMedia(ctx, evt.ChatID, act.URL, act.Type, act.Caption)
		if err != nil {
			return &channel.TransientError{Err: err}
		}
		return nil

	case rule.AddTagAction:
		return x.tags.AddTag(ctx, evt.ChatID, act.Tag)

	case rule.RemoveTagAction:
		return x.tags.RemoveTag(ctx, evt.ChatID, act.Tag)

	case rule.WebhookAction:
		_, err := x.webhooks.Post(ctx, act.URL, webhookPayload(r, evt))
		return err

	case rule.DelayAction:
		return x.sleep(ctx, act.Duration)

	default:
		return fmt.Errorf("unknown action kind %q", a.Kind())
	}
}

// webhookPayload is the execution context posted by webhook actions.
func webhookPayload(r *rule.Rule, evt event.ConversationEvent) map[string]any {
	return map[string]any{
		"rule_id":   r.ID.String(),
		"rule_name": r.Name,
		"chat_id":   evt.ChatID,
		"event":     string(evt.Kind),
		"message":   evt.Body,
		"timestamp": evt.Timestamp,
	}
}

// expandTemplate substitutes {{chat_id}} and {{message}} placeholders in
// outgoing text.
func expandTemplate(text string, evt event.ConversationEvent) string {
	text = strings.ReplaceAll(text, "{{chat_id}}", evt.ChatID)
	text = strings.ReplaceAll(text, "{{message}}", evt.Body)
	return text
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
