// Package main is the entry point for the LegalChat email bridge.
//
// It loads configuration, registers the session user with the backend relay,
// opens the realtime relay connection, and serves the local status surface.
// Chat message events arrive over the status surface; relay email pushes
// arrive over the websocket. Both funnel into the message router, which
// resolves recipients and dispatches email through the provider.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// the relay is disconnected explicitly so no reconnect fires during teardown.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"legalchat/internal/config"
	"legalchat/internal/dispatch"
	"legalchat/internal/external"
	"legalchat/internal/relay"
	"legalchat/internal/router"
	"legalchat/internal/status"
	"legalchat/internal/types"
)

// shutdownTimeout bounds graceful HTTP teardown.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("email bridge starting",
		"environment", cfg.Environment,
		"backend", cfg.Backend.BaseURL,
		"status_port", cfg.Status.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Register the session user before anything else; without a session
	// there is nothing to bridge.
	registrar := external.NewBackendClient(
		&http.Client{Timeout: cfg.Backend.RequestTimeout},
		external.BackendClientConfig{
			BaseURL:  cfg.Backend.BaseURL,
			Debounce: cfg.Backend.RegisterDebounce,
			Logger:   logger,
		},
	)
	session, err := registrar.Register(ctx, types.RegistrationRequest{
		Name:  cfg.User.Name,
		Email: cfg.User.Email,
		Role:  cfg.User.Role,
	})
	if err != nil {
		return fmt.Errorf("registering session user: %w", err)
	}
	logger.Info("session registered", "user_id", session.UserID, "nickname", session.Nickname, "role", session.Role)

	// Email dispatch pipeline.
	provider := external.NewEmailJSClient(
		&http.Client{Timeout: cfg.Email.RequestTimeout},
		external.EmailJSClientConfig{
			PublicKey: cfg.Email.PublicKey,
			BaseURL:   cfg.Email.BaseURL,
			Logger:    logger,
		},
	)
	dispatcher := dispatch.NewDispatcher(provider, dispatch.Config{
		ServiceID:       cfg.Email.ServiceID,
		TemplateID:      cfg.Email.TemplateID,
		FrontendBaseURL: cfg.Frontend.BaseURL,
	}, logger)

	fetcher := external.NewSendBirdClient(
		&http.Client{Timeout: cfg.Chat.RequestTimeout},
		external.SendBirdClientConfig{
			AppID:    cfg.Chat.AppID,
			APIToken: cfg.Chat.APIToken,
			BaseURL:  cfg.Chat.BaseURL,
			Logger:   logger,
		},
	)

	// Relay connection.
	relayMgr := relay.NewManager(relay.Config{
		URL:                  cfg.Backend.BaseURL + "/email",
		ConnectRetryDelay:    cfg.Relay.ConnectRetryDelay,
		ReconnectDelay:       cfg.Relay.ReconnectDelay,
		TransportMaxAttempts: cfg.Relay.TransportMaxAttempts,
		TransportRetryDelay:  cfg.Relay.TransportRetryDelay,
	}, logger, relay.WithDialer(&relay.WebsocketDialer{
		HandshakeTimeout: cfg.Relay.HandshakeTimeout,
	}))

	rt := router.NewRouter(dispatcher, fetcher, relayMgr, logger)
	wireRelayEvents(ctx, relayMgr, rt, logger)

	// Status surface.
	statusSrv, err := status.NewServer(session, relayMgr, rt, rt, logger)
	if err != nil {
		return fmt.Errorf("creating status server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Status.Port,
		Handler:           statusSrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("status surface listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// A failed first cycle is not fatal: the manager has already
		// scheduled its own retry.
		if err := relayMgr.Connect(gctx); err != nil {
			logger.Warn("initial relay connect failed, retry scheduled", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("initiating graceful shutdown")
		relayMgr.Disconnect()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("email bridge stopped")
	return nil
}

// wireRelayEvents registers the relay event handlers: email pushes go to the
// router, lifecycle and acknowledgement events are logged.
func wireRelayEvents(ctx context.Context, mgr *relay.Manager, rt *router.Router, logger *slog.Logger) {
	mgr.On(types.EventSendEmail, func(payload json.RawMessage) {
		rt.OnInboundRelayEmailRequest(ctx, payload)
	})
	mgr.On(types.EventEmailProcessed, func(payload json.RawMessage) {
		logger.Info("relay acknowledged email", "payload", string(payload))
	})
	mgr.On(relay.EventConnect, func(json.RawMessage) {
		logger.Info("relay connected")
	})
	mgr.On(relay.EventDisconnect, func(payload json.RawMessage) {
		logger.Warn("relay disconnected", "payload", string(payload))
	})
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
