// Package app wires the core, relay and transport layers together.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultly/rtc-server/internal/calls"
	"github.com/consultly/rtc-server/internal/chat"
	"github.com/consultly/rtc-server/internal/config"
	"github.com/consultly/rtc-server/internal/core"
	"github.com/consultly/rtc-server/internal/identity"
	"github.com/consultly/rtc-server/internal/live"
	"github.com/consultly/rtc-server/internal/mediatoken"
	lkissuer "github.com/consultly/rtc-server/internal/mediatoken/livekit"
	"github.com/consultly/rtc-server/internal/notify"
	"github.com/consultly/rtc-server/internal/store"
	"github.com/consultly/rtc-server/internal/store/sqlite"
	transporthttp "github.com/consultly/rtc-server/internal/transport/http"
)

// App owns the server lifecycle.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	calls           *calls.Service
	live            *live.Controller
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	resolver := identity.NewTokenResolver(identity.TokenConfig{
		Secret:   []byte(cfg.Token.Secret),
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
	})

	var issuer mediatoken.Issuer
	if cfg.LiveKit.APIKey != "" && cfg.LiveKit.APISecret != "" {
		issuer = lkissuer.New(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.URL)
		logger.Info().Str("url", cfg.LiveKit.URL).Msg("media credential issuer configured")
	} else {
		logger.Warn().Msg("media credential issuer not configured, call initiation disabled")
	}

	hub := core.NewHub()
	rooms := core.NewRooms()
	escalator := notify.NewEscalator(notify.NewLogSender(logger), logger)

	chatRelay := chat.NewRelay(st, rooms, hub, escalator, logger)

	callSvc := calls.New(st, issuer, hub, escalator, logger)
	callSvc.SetRingTimeout(cfg.Calls.RingTimeout)

	liveOpts := []live.Option{
		live.WithIdleTTL(cfg.Live.IdleTTL),
	}
	if cfg.Live.CommentLimit > 0 && cfg.Live.CommentWindow > 0 {
		liveOpts = append(liveOpts, live.WithCommentLimit(cfg.Live.CommentLimit, cfg.Live.CommentWindow))
	}
	liveCtl := live.NewController(st, rooms, hub, logger, liveOpts...)

	gateway := transporthttp.NewGateway(resolver, hub, rooms, chatRelay, callSvc, liveCtl, logger)
	server := transporthttp.NewServer(gateway, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		calls:           callSvc,
		live:            liveCtl,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal error.
func (a *App) Run(ctx context.Context) error {
	a.live.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup stops ring timers and closes the store.
func (a *App) cleanup() {
	a.calls.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
