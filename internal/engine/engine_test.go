package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk/autoflow/internal/channel"
	"github.com/zapdesk/autoflow/internal/event"
	"github.com/zapdesk/autoflow/internal/rule"
	"github.com/zapdesk/autoflow/internal/store"
)

func newTestEngine(t *testing.T, ch *fakeChannel, hooks *fakeWebhook) (*Engine, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng := New(Config{
		Rules:      st.Rules,
		Chats:      st.Chats,
		Silences:   st.Silences,
		Executions: st.Executions,
		Matcher:    rule.NewMatcher(nil),
		Executor:   NewExecutor(ch, st.Chats, hooks, testLogger()),
		Log:        testLogger(),
	})
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	return eng, st
}

func observeChat(t *testing.T, st *store.SQLiteStore, jid string, at time.Time) {
	t.Helper()
	_, err := st.Chats.Observe(context.Background(), event.ChatObservation{ChatID: jid, Timestamp: at})
	require.NoError(t, err)
}

func TestEngineExecutesMatchingRule(t *testing.T) {
	ch := &fakeChannel{}
	eng, st := newTestEngine(t, ch, &fakeWebhook{})
	ctx := context.Background()

	r, err := rule.New("tester", "promo reply", rule.KeywordTrigger{Keywords: []string{"promo"}}, []rule.Action{
		rule.SendMessageAction{Text: "Thanks for asking about the promo!"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Rules.Create(ctx, r))

	eng.HandleEvent(msgEvent("1@s.whatsapp.net", "big PROMO today"))

	require.Eventually(t, func() bool {
		return len(ch.sentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := st.Rules.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stats.TimesTriggered)
	assert.Equal(t, 1, got.Stats.SuccessCount)
	assert.Zero(t, got.Stats.FailureCount)
	require.NotNil(t, got.Stats.LastTriggered)

	execs, err := st.Executions.ListByRule(ctx, r.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, store.ExecutionSucceeded, execs[0].Status)
	assert.Equal(t, 1, execs[0].ActionsSucceeded)
}

func TestEngineSkipsDisabledRules(t *testing.T) {
	ch := &fakeChannel{}
	eng, st := newTestEngine(t, ch, &fakeWebhook{})
	ctx := context.Background()

	enabled, err := rule.New("tester", "enabled", rule.KeywordTrigger{Keywords: []string{"hi"}}, []rule.Action{
		rule.SendMessageAction{Text: "from enabled"},
	})
	require.NoError(t, err)
	disabled, err := rule.New("tester", "disabled", rule.KeywordTrigger{Keywords: []string{"hi"}}, []rule.Action{
		rule.SendMessageAction{Text: "from disabled"},
	})
	require.NoError(t, err)
	disabled.Disable()
	require.NoError(t, st.Rules.Create(ctx, enabled))
	require.NoError(t, st.Rules.Create(ctx, disabled))

	eng.HandleEvent(msgEvent("1@s.whatsapp.net", "hi"))

	require.Eventually(t, func() bool {
		return len(ch.sentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "from enabled", ch.sentMessages()[0].Text)

	got, err := st.Rules.GetByID(ctx, disabled.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Stats.TimesTriggered)
}

func TestEngineFilterRejectsExcludedTag(t *testing.T) {
	ch := &fakeChannel{}
	eng, st := newTestEngine(t, ch, &fakeWebhook{})
	ctx := context.Background()

	observeChat(t, st, "vip@s.whatsapp.net", time.Now())
	require.NoError(t, st.Chats.AddTag(ctx, "vip@s.whatsapp.net", "vip"))

	filtered, err := rule.New("tester", "not for vips", rule.KeywordTrigger{Keywords: []string{"promo"}}, []rule.Action{
		rule.SendMessageAction{Text: "standard offer"},
	})
	require.NoError(t, err)
	filtered.Filter = rule.Filter{ExcludeTags: []string{"vip"}}
	require.NoError(t, st.Rules.Create(ctx, filtered))

	unfiltered, err := rule.New("tester", "for everyone", rule.KeywordTrigger{Keywords: []string{"promo"}}, []rule.Action{
		rule.SendMessageAction{Text: "general offer"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Rules.Create(ctx, unfiltered))

	eng.HandleEvent(msgEvent("vip@s.whatsapp.net", "promo?"))

	require.Eventually(t, func() bool {
		return len(ch.sentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "general offer", ch.sentMessages()[0].Text)

	got, err := st.Rules.GetByID(ctx, filtered.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Stats.TimesTriggered)
}

func TestEngineSameChatProcessedInOrder(t *testing.T) {
	ch := &fakeChannel{}
	eng, st := newTestEngine(t, ch, &fakeWebhook{})
	ctx := context.Background()

	r, err := rule.New("tester", "echo", rule.KeywordTrigger{Keywords: []string{"ping"}}, []rule.Action{
		rule.SendMessageAction{Text: "{{message}}"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Rules.Create(ctx, r))

	eng.HandleEvent(msgEvent("1@s.whatsapp.net", "ping one"))
	eng.HandleEvent(msgEvent("1@s.whatsapp.net", "ping two"))

	require.Eventually(t, func() bool {
		return len(ch.sentMessages()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	sent := ch.sentMessages()
	assert.Equal(t, "ping one", sent[0].Text)
	assert.Equal(t, "ping two", sent[1].Text)
}

func TestEngineDifferentChatsRunInParallel(t *testing.T) {
	ch := &fakeChannel{
		block:   make(chan struct{}),
		started: make(chan string, 4),
	}
	eng, st := newTestEngine(t, ch, &fakeWebhook{})
	ctx := context.Background()

	r, err := rule.New("tester", "echo", rule.KeywordTrigger{Keywords: []string{"ping"}}, []rule.Action{
		rule.SendMessageAction{Text: "pong"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Rules.Create(ctx, r))

	eng.HandleEvent(msgEvent("a@s.whatsapp.net", "ping"))
	eng.HandleEvent(msgEvent("b@s.whatsapp.net", "ping"))

	// Both sends must begin while the first is still blocked: chats do not
	// serialize against each other.
	began := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-ch.started:
			began[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("chats were serialized against each other")
		}
	}
	assert.True(t, began["a@s.whatsapp.net"])
	assert.True(t, began["b@s.whatsapp.net"])

	close(ch.block)
	require.Eventually(t, func() bool {
		return len(ch.sentMessages()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineNoReplyFiresOncePerSilence(t *testing.T) {
	ch := &fakeChannel{}
	eng, st := newTestEngine(t, ch, &fakeWebhook{})
	ctx := context.Background()

	observeChat(t, st, "quiet@s.whatsapp.net", time.Now().Add(-2*time.Hour))

	r, err := rule.New("tester", "follow up", rule.NoReplyTrigger{Timeout: time.Hour}, []rule.Action{
		rule.SendMessageAction{Text: "Still there?"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Rules.Create(ctx, r))

	tick := event.ConversationEvent{Kind: event.KindTick, ChatID: "quiet@s.whatsapp.net", Timestamp: time.Now()}
	eng.HandleEvent(tick)

	require.Eventually(t, func() bool {
		return len(ch.sentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The same silence window must not fire again.
	eng.HandleEvent(tick)
	require.Eventually(t, func() bool {
		got, err := st.Rules.GetByID(ctx, r.ID)
		return err == nil && got.Stats.TimesTriggered == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ch.sentMessages(), 1)
}

func TestEngineScheduledRuleFiresOnClaimedTick(t *testing.T) {
	ch := &fakeChannel{}
	eng, st := newTestEngine(t, ch, &fakeWebhook{})
	ctx := context.Background()

	r, err := rule.New("tester", "reminder", rule.ScheduledTrigger{Schedule: rule.Schedule{
		Time:   time.Now().Add(-time.Minute),
		Repeat: rule.RepeatOnce,
	}}, []rule.Action{
		rule.SendMessageAction{Text: "scheduled hello"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Rules.Create(ctx, r))

	// A tick without the claim must not fire the rule.
	eng.HandleEvent(event.ConversationEvent{Kind: event.KindTick, ChatID: "1@s.whatsapp.net", Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ch.sentMessages())

	eng.HandleEvent(event.ConversationEvent{
		Kind:      event.KindTick,
		ChatID:    "1@s.whatsapp.net",
		Timestamp: time.Now(),
		DueRules:  []uuid.UUID{r.ID},
	})
	require.Eventually(t, func() bool {
		return len(ch.sentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "scheduled hello", ch.sentMessages()[0].Text)
}

func TestEngineReclaimsIdleChatWorkers(t *testing.T) {
	ch := &fakeChannel{}
	eng, st := newTestEngine(t, ch, &fakeWebhook{})
	eng.workerIdle = 20 * time.Millisecond
	ctx := context.Background()

	r, err := rule.New("tester", "echo", rule.KeywordTrigger{Keywords: []string{"ping"}}, []rule.Action{
		rule.SendMessageAction{Text: "pong"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Rules.Create(ctx, r))

	eng.HandleEvent(msgEvent("1@s.whatsapp.net", "ping"))
	require.Eventually(t, func() bool {
		return len(ch.sentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The drained worker and its map entry go away.
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.workers) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// A later event for the same chat spins up a fresh worker.
	eng.HandleEvent(msgEvent("1@s.whatsapp.net", "ping again"))
	require.Eventually(t, func() bool {
		return len(ch.sentMessages()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineRecordsFailedExecution(t *testing.T) {
	ch := &fakeChannel{}
	hooks := &fakeWebhook{failWith: &channel.WebhookError{URL: "https://hooks.example.com/x", StatusCode: 500}}
	eng, st := newTestEngine(t, ch, hooks)
	ctx := context.Background()

	r, err := rule.New("tester", "flaky", rule.KeywordTrigger{Keywords: []string{"hi"}}, []rule.Action{
		rule.WebhookAction{URL: "https://hooks.example.com/x"},
		rule.SendMessageAction{Text: "still sent"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Rules.Create(ctx, r))

	eng.HandleEvent(msgEvent("1@s.whatsapp.net", "hi"))

	require.Eventually(t, func() bool {
		got, err := st.Rules.GetByID(ctx, r.ID)
		return err == nil && got.Stats.TimesTriggered == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := st.Rules.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stats.FailureCount)
	assert.Zero(t, got.Stats.SuccessCount)

	// The action after the failed webhook still ran.
	require.Len(t, ch.sentMessages(), 1)

	execs, err := st.Executions.ListByRule(ctx, r.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, store.ExecutionFailed, execs[0].Status)
	assert.Equal(t, 1, execs[0].ActionsSucceeded)
	assert.Equal(t, 2, execs[0].ActionsTotal)
	assert.NotEmpty(t, execs[0].Error)
}
