package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapdesk/autoflow/internal/event"
	"github.com/zapdesk/autoflow/internal/rule"
	"github.com/zapdesk/autoflow/internal/store"
)

// chatQueueSize bounds each chat's pending events. Overflow drops the event
// with a warning rather than blocking the producer.
const chatQueueSize = 64

// workerIdleTimeout is how long a chat's worker lingers with an empty queue
// before it is torn down. One-off chats must not leak goroutines forever.
const workerIdleTimeout = 5 * time.Minute

// Observer receives engine activity counters.
type Observer interface {
	RecordEvent()
	RecordExecution(success bool)
}

// Engine evaluates conversation events against the rule store and executes
// matching rules. Events for different chats are processed concurrently;
// events for the same chat strictly in arrival order.
type Engine struct {
	rules      store.RuleRepository
	chats      store.ChatRepository
	silences   store.SilenceRepository
	executions store.ExecutionRepository
	matcher    *rule.Matcher
	executor   *Executor
	observer   Observer
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	workerIdle time.Duration

	mu      sync.Mutex
	workers map[string]chan event.ConversationEvent
}

// Config wires the engine's collaborators.
type Config struct {
	Rules      store.RuleRepository
	Chats      store.ChatRepository
	Silences   store.SilenceRepository
	Executions store.ExecutionRepository
	Matcher    *rule.Matcher
	Executor   *Executor
	Observer   Observer
	Log        *slog.Logger
}

// New creates an engine. Call Start before handing it events.
func New(cfg Config) *Engine {
	return &Engine{
		rules:      cfg.Rules,
		chats:      cfg.Chats,
		silences:   cfg.Silences,
		executions: cfg.Executions,
		matcher:    cfg.Matcher,
		executor:   cfg.Executor,
		observer:   cfg.Observer,
		log:        cfg.Log.With("component", "engine"),
		workerIdle: workerIdleTimeout,
		workers:    make(map[string]chan event.ConversationEvent),
	}
}

// Start makes the engine accept events.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.log.Info("engine started")
}

// Stop shuts the engine down and waits for in-flight executions.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.log.Info("engine stopped")
}

// HandleEvent enqueues an event on its chat's ordering queue. Each chat gets
// one worker goroutine, so two events in the same chat can never execute
// rules concurrently.
func (e *Engine) HandleEvent(evt event.ConversationEvent) {
	if e.ctx == nil || e.ctx.Err() != nil {
		return
	}

	// Enqueueing under the lock keeps teardown safe: a worker only removes
	// itself after seeing an empty queue while holding the same lock.
	e.mu.Lock()
	w, ok := e.workers[evt.ChatID]
	if !ok {
		w = make(chan event.ConversationEvent, chatQueueSize)
		e.workers[evt.ChatID] = w
		e.wg.Add(1)
		go e.runWorker(evt.ChatID, w)
	}
	select {
	case w <- evt:
	default:
		e.log.Warn("chat queue full, dropping event", "chat_id", evt.ChatID, "kind", evt.Kind)
	}
	e.mu.Unlock()
}

func (e *Engine) runWorker(chatID string, ch chan event.ConversationEvent) {
	defer e.wg.Done()
	idle := time.NewTimer(e.workerIdle)
	defer idle.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-ch:
			e.processEvent(evt)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.workerIdle)
		case <-idle.C:
			e.mu.Lock()
			if len(ch) > 0 {
				e.mu.Unlock()
				idle.Reset(e.workerIdle)
				continue
			}
			delete(e.workers, chatID)
			e.mu.Unlock()
			e.log.Debug("idle chat worker stopped", "chat_id", chatID)
			return
		}
	}
}

// processEvent runs one event through match, admission, and execution while
// holding the chat's serialization slot.
func (e *Engine) processEvent(evt event.ConversationEvent) {
	ctx := e.ctx
	if e.observer != nil {
		e.observer.RecordEvent()
	}

	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		e.log.Error("failed to load rules", "error", err)
		return
	}
	if len(rules) == 0 {
		return
	}

	st := e.matchState(ctx, evt)

	// Trigger evaluation is read-only, so all rules are matched in
	// parallel. Execution below stays sequential per chat.
	admitted := make([]bool, len(rules))
	var wg sync.WaitGroup
	for i, r := range rules {
		wg.Add(1)
		go func(i int, r *rule.Rule) {
			defer wg.Done()
			admitted[i] = e.admit(ctx, r, evt, st)
		}(i, r)
	}
	wg.Wait()

	for i, r := range rules {
		if admitted[i] {
			e.execute(ctx, r, evt, st)
		}
	}
}

// admit reports whether the rule matches the event and passes its filters.
// Any evaluation error means the rule does not fire.
func (e *Engine) admit(ctx context.Context, r *rule.Rule, evt event.ConversationEvent, st rule.MatchState) bool {
	if err := r.Validate(); err != nil {
		e.log.Warn("skipping invalid rule", "rule_id", r.ID, "error", err)
		return false
	}

	ms := st
	ms.ScheduleDue = evt.DueFor(r.ID)
	if _, ok := r.Trigger.(rule.NoReplyTrigger); ok && !ms.Chat.LastInboundAt.IsZero() {
		fired, err := e.silences.Fired(ctx, r.ID, evt.ChatID, ms.Chat.LastInboundAt)
		if err != nil {
			e.log.Warn("failed to check silence marker", "rule_id", r.ID, "error", err)
			return false
		}
		ms.SilenceFired = fired
	}

	matched, err := e.matcher.Evaluate(ctx, r.Trigger, evt, ms)
	if err != nil {
		e.log.Warn("trigger evaluation failed", "rule_id", r.ID, "chat_id", evt.ChatID, "error", err)
		return false
	}
	return matched && r.Filter.Admit(ms.Chat)
}

// matchState snapshots the chat for this event. The store is authoritative;
// the event's own fields cover chats not yet mirrored.
func (e *Engine) matchState(ctx context.Context, evt event.ConversationEvent) rule.MatchState {
	cs := rule.ChatState{
		ID:      evt.ChatID,
		IsGroup: evt.IsGroup,
		Tags:    evt.Tags,
	}
	if chat, err := e.chats.GetByJID(ctx, evt.ChatID); err == nil {
		cs.IsGroup = chat.IsGroup
		cs.Tags = chat.Tags
		cs.LastInboundAt = chat.LastInboundAt
		cs.LastOutboundAt = chat.LastOutboundAt
	}
	return rule.MatchState{Chat: cs, Now: time.Now()}
}

// execute runs one admitted rule and records exactly one stats update for
// the terminal state.
func (e *Engine) execute(ctx context.Context, r *rule.Rule, evt event.ConversationEvent, st rule.MatchState) {
	lc := newLifecycle()
	if err := lc.admit(ctx); err != nil {
		e.log.Error("lifecycle admit failed", "rule_id", r.ID, "error", err)
		return
	}

	started := time.Now()
	if err := lc.execute(ctx); err != nil {
		e.log.Error("lifecycle execute failed", "rule_id", r.ID, "error", err)
		return
	}

	res := e.executor.Run(ctx, r, evt)
	success := !res.Failed()
	if err := lc.finish(ctx, success); err != nil {
		e.log.Error("lifecycle finish failed", "rule_id", r.ID, "error", err)
	}

	now := time.Now()
	if err := e.rules.RecordExecution(ctx, r.ID, success, now); err != nil {
		e.log.Error("failed to record execution stats", "rule_id", r.ID, "error", err)
	}

	if _, ok := r.Trigger.(rule.NoReplyTrigger); ok && !st.Chat.LastInboundAt.IsZero() {
		if err := e.silences.MarkFired(ctx, r.ID, evt.ChatID, st.Chat.LastInboundAt, now); err != nil {
			e.log.Error("failed to mark silence window", "rule_id", r.ID, "error", err)
		}
	}

	exec := &store.Execution{
		ID:               uuid.New(),
		RuleID:           r.ID,
		ChatJID:          evt.ChatID,
		EventKind:        string(evt.Kind),
		Status:           string(lc.state()),
		ActionsTotal:     len(r.Actions),
		ActionsSucceeded: res.Succeeded,
		Error:            errString(res.FirstErr),
		StartedAt:        started,
		CompletedAt:      now,
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		e.log.Error("failed to record execution", "rule_id", r.ID, "error", err)
	}

	if e.observer != nil {
		e.observer.RecordExecution(success)
	}
	e.log.Info("rule executed",
		"rule_id", r.ID, "rule_name", r.Name, "chat_id", evt.ChatID,
		"status", lc.state(), "actions", len(r.Actions), "succeeded", res.Succeeded)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
