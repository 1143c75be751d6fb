package event

import (
	"context"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// ChatMirror is the slice of the chat store the normalizer needs: observing
// a message keeps the mirror current and reports whether the chat is new.
type ChatMirror interface {
	// Observe upserts the chat and its inbound/outbound timestamps,
	// returning true when the chat had never been seen before.
	Observe(ctx context.Context, obs ChatObservation) (firstSeen bool, err error)
	// Tags returns the chat's current tag set.
	Tags(ctx context.Context, chatID string) ([]string, error)
}

// ChatObservation is what one raw message reveals about its chat.
type ChatObservation struct {
	ChatID    string
	Name      string
	IsGroup   bool
	FromMe    bool
	Timestamp time.Time
}

// Normalizer converts raw whatsmeow events into canonical conversation
// events and keeps the chat mirror current as a side effect.
type Normalizer struct {
	chats ChatMirror
	log   *slog.Logger
}

// NewNormalizer creates a normalizer backed by the given chat mirror.
func NewNormalizer(chats ChatMirror, log *slog.Logger) *Normalizer {
	return &Normalizer{chats: chats, log: log.With("component", "normalizer")}
}

// Normalize maps one raw channel event to zero or more conversation events,
// in the order they must be processed. Unrecognized raw events produce
// nothing.
func (n *Normalizer) Normalize(ctx context.Context, raw interface{}) []ConversationEvent {
	switch evt := raw.(type) {
	case *events.Message:
		return n.normalizeMessage(ctx, evt)
	}
	return nil
}

func (n *Normalizer) normalizeMessage(ctx context.Context, evt *events.Message) []ConversationEvent {
	chatID := evt.Info.Chat.String()

	firstSeen, err := n.chats.Observe(ctx, ChatObservation{
		ChatID:    chatID,
		Name:      evt.Info.PushName,
		IsGroup:   evt.Info.IsGroup,
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	})
	if err != nil {
		n.log.Error("failed to observe chat", "error", err, "chat_id", chatID)
	}

	// Outbound messages only advance the chat timestamps; they never
	// activate triggers.
	if evt.Info.IsFromMe {
		return nil
	}

	tags, err := n.chats.Tags(ctx, chatID)
	if err != nil {
		n.log.Debug("failed to load chat tags", "error", err, "chat_id", chatID)
	}

	msg := ConversationEvent{
		Kind:      KindMessage,
		ChatID:    chatID,
		Body:      NormalizeBody(extractMessageText(evt.Message)),
		IsGroup:   evt.Info.IsGroup,
		Tags:      tags,
		Timestamp: evt.Info.Timestamp,
	}

	if firstSeen {
		first := msg
		first.Kind = KindNewChat
		first.Body = ""
		return []ConversationEvent{first, msg}
	}
	return []ConversationEvent{msg}
}

// extractMessageText pulls the plain-text content out of a WhatsApp message.
func extractMessageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return *msg.Conversation
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetTitle()
	}
	return ""
}
