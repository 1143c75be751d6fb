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

// Scheduler drives time-based triggers. On every tick it claims the fire
// instants that have come due and injects synthetic tick events into the
// same per-chat pipeline live events use.
type Scheduler struct {
	rules    store.RuleRepository
	chats    store.ChatRepository
	sink     func(event.ConversationEvent)
	interval time.Duration
	log      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that feeds tick events into sink.
func NewScheduler(rules store.RuleRepository, chats store.ChatRepository, sink func(event.ConversationEvent), interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		rules:    rules,
		chats:    chats,
		sink:     sink,
		interval: interval,
		log:      log.With("component", "scheduler"),
	}
}

// Start begins ticking until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Tick(ctx, now)
			}
		}
	}()
	s.log.Info("scheduler started", "interval", s.interval)
}

// Stop halts ticking.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Tick claims due fire instants and emits one tick event per known chat.
// Claiming advances each rule's next instant past everything that was
// missed, so downtime never produces a backlog of firings.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		s.log.Error("failed to load rules", "error", err)
		return
	}

	var due []uuid.UUID
	timeBased := false
	for _, r := range rules {
		switch tr := r.Trigger.(type) {
		case rule.ScheduledTrigger:
			timeBased = true
			if id, claimed := s.claim(ctx, r, tr, now); claimed {
				due = append(due, id)
			}
		case rule.NoReplyTrigger:
			timeBased = true
		}
	}
	if !timeBased {
		return
	}

	chats, err := s.chats.List(ctx, 0)
	if err != nil {
		s.log.Error("failed to list chats", "error", err)
		return
	}
	for _, c := range chats {
		s.sink(event.ConversationEvent{
			Kind:      event.KindTick,
			ChatID:    c.JID,
			IsGroup:   c.IsGroup,
			Tags:      c.Tags,
			Timestamp: now,
			DueRules:  due,
		})
	}
}

// claim atomically takes the rule's due fire instant, if any. At most one
// claimant wins each instant, across processes and restarts.
func (s *Scheduler) claim(ctx context.Context, r *rule.Rule, tr rule.ScheduledTrigger, now time.Time) (uuid.UUID, bool) {
	next, err := s.rules.NextFire(ctx, r.ID)
	if err != nil {
		s.log.Warn("failed to read next fire instant", "rule_id", r.ID, "error", err)
		return uuid.Nil, false
	}
	if next.IsZero() || now.Before(next) {
		return uuid.Nil, false
	}

	claimed, err := s.rules.ClaimFire(ctx, r.ID, next, tr.Schedule.NextAfter(now))
	if err != nil {
		s.log.Warn("failed to claim fire instant", "rule_id", r.ID, "error", err)
		return uuid.Nil, false
	}
	if !claimed {
		return uuid.Nil, false
	}
	s.log.Debug("claimed scheduled fire", "rule_id", r.ID, "instant", next)
	return r.ID, true
}
