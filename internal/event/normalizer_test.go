package event

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

type fakeMirror struct {
	observed  []ChatObservation
	firstSeen bool
	tags      map[string][]string
}

func (f *fakeMirror) Observe(ctx context.Context, obs ChatObservation) (bool, error) {
	f.observed = append(f.observed, obs)
	first := f.firstSeen
	f.firstSeen = false
	return first, nil
}

func (f *fakeMirror) Tags(ctx context.Context, chatID string) ([]string, error) {
	return f.tags[chatID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawMessage(chat types.JID, fromMe bool, text string, at time.Time) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     chat,
				IsFromMe: fromMe,
				IsGroup:  chat.Server == types.GroupServer,
			},
			PushName:  "Alice",
			Timestamp: at,
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestNormalizeInboundMessage(t *testing.T) {
	mirror := &fakeMirror{tags: map[string][]string{"5511999999999@s.whatsapp.net": {"lead"}}}
	n := NewNormalizer(mirror, discardLogger())

	chat := types.NewJID("5511999999999", types.DefaultUserServer)
	at := time.Now()
	got := n.Normalize(context.Background(), rawMessage(chat, false, "  Hello THERE ", at))

	require.Len(t, got, 1)
	assert.Equal(t, KindMessage, got[0].Kind)
	assert.Equal(t, chat.String(), got[0].ChatID)
	assert.Equal(t, "hello there", got[0].Body)
	assert.Equal(t, []string{"lead"}, got[0].Tags)
	assert.Equal(t, at, got[0].Timestamp)

	require.Len(t, mirror.observed, 1)
	assert.False(t, mirror.observed[0].FromMe)
	assert.Equal(t, "Alice", mirror.observed[0].Name)
}

func TestNormalizeFirstMessageEmitsNewChatFirst(t *testing.T) {
	mirror := &fakeMirror{firstSeen: true}
	n := NewNormalizer(mirror, discardLogger())

	chat := types.NewJID("5511999999999", types.DefaultUserServer)
	got := n.Normalize(context.Background(), rawMessage(chat, false, "hi", time.Now()))

	require.Len(t, got, 2)
	assert.Equal(t, KindNewChat, got[0].Kind)
	assert.Empty(t, got[0].Body)
	assert.Equal(t, KindMessage, got[1].Kind)
	assert.Equal(t, "hi", got[1].Body)
	assert.Equal(t, got[0].ChatID, got[1].ChatID)
}

func TestNormalizeOutboundOnlyObserves(t *testing.T) {
	mirror := &fakeMirror{}
	n := NewNormalizer(mirror, discardLogger())

	chat := types.NewJID("5511999999999", types.DefaultUserServer)
	got := n.Normalize(context.Background(), rawMessage(chat, true, "my reply", time.Now()))

	assert.Empty(t, got)
	require.Len(t, mirror.observed, 1)
	assert.True(t, mirror.observed[0].FromMe)
}

func TestNormalizeGroupMessage(t *testing.T) {
	mirror := &fakeMirror{}
	n := NewNormalizer(mirror, discardLogger())

	chat := types.NewJID("123456789", types.GroupServer)
	got := n.Normalize(context.Background(), rawMessage(chat, false, "hello group", time.Now()))

	require.Len(t, got, 1)
	assert.True(t, got[0].IsGroup)
	require.Len(t, mirror.observed, 1)
	assert.True(t, mirror.observed[0].IsGroup)
}

func TestNormalizeIgnoresUnknownRawEvents(t *testing.T) {
	n := NewNormalizer(&fakeMirror{}, discardLogger())
	assert.Nil(t, n.Normalize(context.Background(), &events.Connected{}))
	assert.Nil(t, n.Normalize(context.Background(), "not an event"))
}

func TestExtractMessageText(t *testing.T) {
	cases := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("plain")}, "plain"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("quoted reply")}}, "quoted reply"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look at this")}}, "look at this"},
		{"video caption", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("watch")}}, "watch"},
		{"document title", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Title: proto.String("invoice.pdf")}}, "invoice.pdf"},
		{"empty", &waE2E.Message{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractMessageText(tc.msg))
		})
	}
}

func TestNormalizeBody(t *testing.T) {
	assert.Equal(t, "hello", NormalizeBody("  HeLLo \n"))
	assert.Equal(t, "", NormalizeBody("   "))
}
