package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mixelka/messenger2mail/internal/api"
	"github.com/mixelka/messenger2mail/internal/auth"
	"github.com/mixelka/messenger2mail/internal/config"
	"github.com/mixelka/messenger2mail/internal/database"
	"github.com/mixelka/messenger2mail/internal/dispatch"
	"github.com/mixelka/messenger2mail/internal/formatter"
	"github.com/mixelka/messenger2mail/internal/mail"
	"github.com/mixelka/messenger2mail/internal/scheduler"
	"github.com/mixelka/messenger2mail/internal/telegram"
	"github.com/mixelka/messenger2mail/pkg/models"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting messenger-to-mail forwarder")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Session gateway (optional); the login handshake and messenger
	// sources need it
	var gateway *telegram.Gateway
	var authGateway auth.Gateway = telegram.DisabledGateway{}
	if cfg.SessionGatewayEnabled() {
		gateway = telegram.NewGateway(telegram.GatewayConfig{
			BaseURL: cfg.SessionGatewayURL,
			Token:   cfg.SessionGatewayToken,
		})
		authGateway = gateway
		logger.Info("session gateway enabled", "url", cfg.SessionGatewayURL)
	}

	authEngine := auth.NewEngine(authGateway, db, logger)

	// Telegram Bot API sink (optional)
	var botSink dispatch.TelegramSink
	if cfg.TelegramSinkEnabled() {
		bot, err := telegram.NewClient(cfg.TelegramBotToken, logger)
		if err != nil {
			logger.Error("failed to create telegram client", "error", err)
			os.Exit(1)
		}
		botSink = bot
		logger.Info("telegram bot sink enabled")
	}

	var sessionSink dispatch.SessionSink
	if gateway != nil {
		sessionSink = gateway
	}

	router := dispatch.NewRouter(dispatch.RouterDeps{
		Accounts: db,
		Telegram: botSink,
		Session:  sessionSink,
		Digest:   formatter.NewDigestBuilder(),
		Logger:   logger,
	})

	excerpter := formatter.NewExcerpter(200)
	sched := scheduler.New(scheduler.Deps{
		Rules:           db,
		Accounts:        db,
		History:         db,
		Dispatcher:      router,
		Clock:           scheduler.SystemClock(),
		Logger:          logger,
		TickInterval:    cfg.TickInterval,
		DispatchTimeout: cfg.DispatchTimeout,
		Excerpt:         excerpter.Excerpt,
	})

	// Inbound mail polling feeds the same rule engine as messenger events
	poller := mail.NewPoller(cfg.IMAPDialTimeout, cfg.MailPollInterval, logger)
	poller.SetHandler(func(msg models.InboundMessage) {
		if err := sched.HandleMessage(ctx, msg); err != nil {
			logger.Error("failed to route inbound mail", "account_id", msg.AccountID, "error", err)
		}
	})

	// Restore poll loops for accounts connected before the last shutdown
	accounts, err := db.ListAccounts(ctx)
	if err != nil {
		logger.Error("failed to list accounts", "error", err)
		os.Exit(1)
	}
	poller.RestoreAll(accounts)

	if err := sched.SyncRules(ctx); err != nil {
		logger.Error("failed to load routing rules", "error", err)
		os.Exit(1)
	}
	sched.Start()

	apiDeps := api.Deps{
		DB:        db,
		Auth:      authEngine,
		Scheduler: sched,
		Mail:      mail.NewTester(cfg.IMAPDialTimeout),
		Poller:    poller,
		Logger:    logger,
	}
	if gateway != nil {
		apiDeps.Sources = gateway
	}
	server := api.NewServer(apiDeps)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	// Setup graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}

		poller.StopAll()
		sched.Stop()
	}()

	logger.Info("server is running, press Ctrl+C to stop", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
