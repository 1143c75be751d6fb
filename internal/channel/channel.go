// Package channel provides the engine's outbound capabilities: the WhatsApp
// message transport and webhook delivery.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/zapdesk/autoflow/internal/rule"
)

// Common errors
var (
	ErrNotConnected = errors.New("not connected to WhatsApp")
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrQRTimeout    = errors.New("QR code timeout")
)

// TransientError wraps a network or timeout failure on the message channel.
// The failed action is recorded; the rest of the execution continues.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient channel error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// WebhookError reports a webhook delivery failure or a non-2xx response.
type WebhookError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *WebhookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("webhook %s: status %d", e.URL, e.StatusCode)
}

func (e *WebhookError) Unwrap() error { return e.Err }

// MessageChannel sends outbound messages into a conversation.
type MessageChannel interface {
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendMedia(ctx context.Context, chatID, url string, mediaType rule.MediaType, caption string) (string, error)
}

// WebhookCaller posts JSON payloads to external URLs, returning the response
// status code.
type WebhookCaller interface {
	Post(ctx context.Context, url string, payload any) (int, error)
}
