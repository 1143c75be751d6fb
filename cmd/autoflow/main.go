// Package main is the entry point for the autoflow automation service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/zapdesk/autoflow/internal/channel"
	"github.com/zapdesk/autoflow/internal/config"
	"github.com/zapdesk/autoflow/internal/engine"
	"github.com/zapdesk/autoflow/internal/event"
	"github.com/zapdesk/autoflow/internal/health"
	"github.com/zapdesk/autoflow/internal/rule"
	"github.com/zapdesk/autoflow/internal/store"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level from flag if provided
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("autoflow starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)

	// Ensure data directories exist (needed when using default ~/.autoflow/ paths)
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0700); err != nil {
		logger.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SessionPath), 0700); err != nil {
		logger.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	storeDB, err := store.NewSQLiteStore(cfg.StorePath, logger)
	if err != nil {
		logger.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer storeDB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	waChannel, err := channel.NewWhatsApp(ctx, &channel.WhatsAppConfig{
		SessionPath:  cfg.SessionPath,
		MediaTimeout: cfg.MediaTimeout,
	}, logger)
	if err != nil {
		logger.Error("Failed to create WhatsApp channel", "error", err)
		os.Exit(1)
	}
	defer waChannel.Close()

	monitor := health.NewMonitor(cfg, waChannel)
	monitor.Start()
	defer monitor.Stop()

	webhooks := channel.NewHTTPWebhookCaller(cfg.WebhookTimeout, logger)
	executor := engine.NewExecutor(waChannel, storeDB.Chats, webhooks, logger)

	eng := engine.New(engine.Config{
		Rules:      storeDB.Rules,
		Chats:      storeDB.Chats,
		Silences:   storeDB.Silences,
		Executions: storeDB.Executions,
		Matcher:    rule.NewMatcher(nil),
		Executor:   executor,
		Observer:   monitor,
		Log:        logger,
	})
	eng.Start(ctx)
	defer eng.Stop()

	scheduler := engine.NewScheduler(storeDB.Rules, storeDB.Chats, eng.HandleEvent, cfg.TickInterval, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Raw channel events flow through the normalizer into the engine.
	// Connection events additionally drive the reconnect loop.
	normalizer := event.NewNormalizer(storeDB.Chats, logger)
	waChannel.AddEventHandler(func(raw interface{}) {
		switch raw.(type) {
		case *events.Connected:
			monitor.OnConnectionRestored()
		case *events.Disconnected:
			monitor.ScheduleReconnect(func() {
				if err := waChannel.Connect(ctx); err != nil {
					logger.Error("Reconnect failed", "error", err)
				}
			})
		}
		for _, evt := range normalizer.Normalize(ctx, raw) {
			eng.HandleEvent(evt)
		}
	})

	qrChan := waChannel.GetQRChannel()

	go func() {
		if err := waChannel.Connect(ctx); err != nil {
			logger.Error("WhatsApp connection error", "error", err)
		}
	}()

	// Pairing QR codes go both to a PNG next to the store and to the terminal.
	qrFilePath := filepath.Join(filepath.Dir(cfg.StorePath), "qrcode.png")
	go func() {
		for qr := range qrChan {
			if err := qrcode.WriteFile(qr, qrcode.Medium, 256, qrFilePath); err == nil {
				logger.Info("QR code saved to file - open this file to scan", "path", qrFilePath)
			} else {
				logger.Error("Failed to save QR code to file", "error", err)
			}

			fmt.Fprintln(os.Stderr, "Scan this QR code with WhatsApp Mobile:")
			qrterminal.GenerateHalfBlock(qr, qrterminal.L, os.Stderr)
			fmt.Fprintln(os.Stderr, "")
		}
	}()

	logger.Info("autoflow initialized",
		"store_path", cfg.StorePath,
		"session_path", cfg.SessionPath,
		"tick_interval", cfg.TickInterval,
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)
	cancel()
	waChannel.Disconnect()

	logger.Info("autoflow stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
