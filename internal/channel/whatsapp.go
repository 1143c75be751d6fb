package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zapdesk/autoflow/internal/rule"
)

// maxMediaBytes caps how much is fetched from a media URL before upload.
const maxMediaBytes = 64 << 20

// WhatsApp is the whatsmeow-backed message channel.
type WhatsApp struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	http      *http.Client
	log       *slog.Logger

	mu          sync.RWMutex
	qrChan      chan string
	handlers    []func(interface{})
	isConnected bool
}

// WhatsAppConfig holds configuration for the WhatsApp channel.
type WhatsAppConfig struct {
	SessionPath  string
	MediaTimeout time.Duration
}

// NewWhatsApp creates the channel and opens its session store.
func NewWhatsApp(ctx context.Context, cfg *WhatsAppConfig, log *slog.Logger) (*WhatsApp, error) {
	storeDir := filepath.Dir(cfg.SessionPath)
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	dbLog := &slogAdapter{log: log.With("component", "whatsmeow-db")}
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", cfg.SessionPath), dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	mediaTimeout := cfg.MediaTimeout
	if mediaTimeout <= 0 {
		mediaTimeout = 60 * time.Second
	}

	return &WhatsApp{
		container: container,
		http:      &http.Client{Timeout: mediaTimeout},
		log:       log.With("component", "whatsapp"),
		qrChan:    make(chan string, 10),
	}, nil
}

// Connect establishes the WhatsApp connection, pairing via QR when no
// session exists yet.
func (c *WhatsApp) Connect(ctx context.Context) error {
	c.mu.Lock()

	if c.client != nil && c.client.IsConnected() {
		c.mu.Unlock()
		return nil
	}

	deviceStore, err := c.container.GetFirstDevice(ctx)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to get device store: %w", err)
	}

	clientLog := &slogAdapter{log: c.log.With("component", "whatsmeow")}
	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.handleEvent)

	needsQR := c.client.Store.ID == nil

	// Release the lock before any blocking operations: pairWithQR loops
	// calling IsReady() which needs RLock, and handleEvent needs Lock for
	// PairSuccess.
	c.mu.Unlock()

	if needsQR {
		c.log.Info("No session found, QR code required")
		return c.pairWithQR(ctx)
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.isConnected = true
	c.mu.Unlock()
	return nil
}

// pairWithQR connects and waits for the session to be paired. QR codes are
// delivered on the QR channel as whatsmeow rotates them.
func (c *WhatsApp) pairWithQR(ctx context.Context) error {
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect for QR: %w", err)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.IsReady() {
				c.log.Info("Successfully connected after QR pairing")
				return nil
			}
		}
	}
}

// Disconnect closes the WhatsApp connection.
func (c *WhatsApp) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Disconnect()
		c.isConnected = false
	}
}

// IsConnected returns true if connected to WhatsApp.
func (c *WhatsApp) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.client.IsConnected()
}

// IsLoggedIn returns true if an authenticated session exists.
func (c *WhatsApp) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.client.Store.ID != nil
}

// IsReady returns true if the channel can send messages.
func (c *WhatsApp) IsReady() bool {
	return c.IsConnected() && c.IsLoggedIn()
}

// GetQRChannel returns a channel for receiving QR codes.
func (c *WhatsApp) GetQRChannel() <-chan string {
	return c.qrChan
}

// AddEventHandler registers a handler for raw WhatsApp events. The engine's
// normalizer hooks in here.
func (c *WhatsApp) AddEventHandler(handler func(interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

func (c *WhatsApp) handleEvent(evt interface{}) {
	c.log.Debug("WhatsApp event", "type", fmt.Sprintf("%T", evt))

	switch e := evt.(type) {
	case *events.QR:
		// Only the first code is currently active; whatsmeow fires a new QR
		// event on rotation.
		if len(e.Codes) > 0 {
			select {
			case c.qrChan <- e.Codes[0]:
			default:
				c.log.Warn("QR channel full, dropping code")
			}
		}
	case *events.PairSuccess:
		c.log.Info("Pairing successful")
		c.mu.Lock()
		c.isConnected = true
		c.mu.Unlock()
	case *events.Connected:
		c.log.Info("Connected to WhatsApp")
		c.mu.Lock()
		c.isConnected = true
		c.mu.Unlock()
	case *events.Disconnected:
		c.log.Warn("Disconnected from WhatsApp")
		c.mu.Lock()
		c.isConnected = false
		c.mu.Unlock()
	}

	c.mu.RLock()
	handlers := make([]func(interface{}), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(evt)
	}
}

// Close closes the channel and releases resources.
func (c *WhatsApp) Close() error {
	c.Disconnect()
	if c.container != nil {
		return c.container.Close()
	}
	return nil
}

// SendText sends a text message to a chat.
func (c *WhatsApp) SendText(ctx context.Context, chatID, text string) (string, error) {
	if !c.IsReady() {
		return "", ErrNotConnected
	}

	recipient, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid JID: %w", err)
	}

	resp, err := c.client.SendMessage(ctx, recipient, &waE2E.Message{
		Conversation: &text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return resp.ID, nil
}

// SendMedia fetches media from a URL, uploads it to WhatsApp servers, and
// sends it as the given media type.
func (c *WhatsApp) SendMedia(ctx context.Context, chatID, url string, mediaType rule.MediaType, caption string) (string, error) {
	if !c.IsReady() {
		return "", ErrNotConnected
	}

	recipient, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid JID: %w", err)
	}

	data, err := c.fetchMedia(ctx, url)
	if err != nil {
		return "", err
	}
	mimeType := http.DetectContentType(data)

	var waType whatsmeow.MediaType
	switch mediaType {
	case rule.MediaImage:
		waType = whatsmeow.MediaImage
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = "image/jpeg"
		}
	case rule.MediaVideo:
		waType = whatsmeow.MediaVideo
		if !strings.HasPrefix(mimeType, "video/") {
			mimeType = "video/mp4"
		}
	case rule.MediaAudio:
		waType = whatsmeow.MediaAudio
		if !strings.HasPrefix(mimeType, "audio/") {
			mimeType = "audio/mpeg"
		}
	case rule.MediaDocument:
		waType = whatsmeow.MediaDocument
	default:
		return "", fmt.Errorf("unknown media type %q", mediaType)
	}

	uploaded, err := c.client.Upload(ctx, data, waType)
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}

	msg := buildMediaMessage(mediaType, uploaded, mimeType, caption, url, uint64(len(data)))
	resp, err := c.client.SendMessage(ctx, recipient, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send media: %w", err)
	}
	return resp.ID, nil
}

func (c *WhatsApp) fetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media URL: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media URL returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	return data, nil
}

func buildMediaMessage(mediaType rule.MediaType, uploaded whatsmeow.UploadResponse, mimeType, caption, srcURL string, size uint64) *waE2E.Message {
	switch mediaType {
	case rule.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	case rule.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	case rule.MediaDocument:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			FileName:      proto.String(path.Base(srcURL)),
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	default:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	}
}

type slogAdapter struct {
	log *slog.Logger
}

func (s *slogAdapter) Debugf(msg string, args ...interface{}) {
	s.log.Debug(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Infof(msg string, args ...interface{}) {
	s.log.Info(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Warnf(msg string, args ...interface{}) {
	s.log.Warn(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Errorf(msg string, args ...interface{}) {
	s.log.Error(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{log: s.log.With("module", module)}
}

var _ waLog.Logger = (*slogAdapter)(nil)
