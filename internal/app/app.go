package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexbid/relay-server/internal/auth"
	"github.com/nexbid/relay-server/internal/config"
	"github.com/nexbid/relay-server/internal/core"
	"github.com/nexbid/relay-server/internal/store"
	"github.com/nexbid/relay-server/internal/store/sqlite"
	transporthttp "github.com/nexbid/relay-server/internal/transport/http"
)

// App wires the relay together: store, auth, hub, liveness monitor, HTTP
// transport. One explicit instance owned by main; nothing here is global.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	monitor         *core.Monitor
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application from configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	})

	hub := core.NewHub(authService, logger)
	monitor := core.NewMonitor(hub, cfg.PingInterval, logger)
	server := transporthttp.NewServer(hub, authService, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		monitor:         monitor,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and the liveness monitor, blocking until the
// context is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.monitor.Run(ctx)

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

func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
