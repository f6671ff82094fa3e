// Package app wires the relay's components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"roomrelay/internal/api"
	"roomrelay/internal/auth"
	"roomrelay/internal/config"
	"roomrelay/internal/database"
	"roomrelay/internal/hub"
	"roomrelay/internal/room"
	"roomrelay/internal/router"
	"roomrelay/internal/websocket"
)

// Application owns every long-lived component of the relay.
type Application struct {
	config      *config.Config
	log         zerolog.Logger
	dbManager   *database.Manager
	credentials *auth.Manager
	rooms       *room.Registry
	hub         *hub.Hub
	connections *websocket.Registry
	apiServer   *api.Server
}

// OpenCredentials opens the credential database and the store over it.
// The caller closes the returned database manager.
func OpenCredentials(cfg *config.Config, clk clock.Clock, logger zerolog.Logger) (*auth.Manager, *database.Manager, error) {
	dbConfig := cfg.Database
	dbManager, err := database.NewManager(&dbConfig, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	credentials := auth.NewManager(dbManager, auth.Options{
		TokenTTL:    cfg.Auth.TokenTTL,
		AdminKeyTTL: cfg.Auth.AdminKeyTTL,
		Clock:       clk,
		Logger:      logger,
	})
	return credentials, dbManager, nil
}

// NewApplication builds the relay in dependency order:
// Database → Credentials → Rooms → Hub → WebSocket → API.
func NewApplication(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	clk := clock.New()

	// STEP 1: credential storage and store
	credentials, dbManager, err := OpenCredentials(cfg, clk, logger)
	if err != nil {
		return nil, err
	}

	// STEP 2: make sure an administrator can register clients
	raw, created, err := credentials.EnsureAdminKey(context.Background())
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}
	if created {
		logger.Warn().Str("admin_key", raw).Dur("ttl", cfg.Auth.AdminKeyTTL).
			Msg("admin key created; it is shown only once")
	}

	// STEP 3: in-memory room state and the hub that owns it
	rooms := room.NewRegistry(cfg.RoomDefaults(), clk, logger)
	messageHub := hub.NewHub(
		rooms,
		router.NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window, clk),
		router.NewDispatcher(rooms, logger),
		hub.Options{LobbyTimeout: cfg.Rooms.LobbyTimeout, Clock: clk, Logger: logger},
	)

	// STEP 4: connection endpoint
	connections := websocket.NewRegistry()
	wsHandler := websocket.NewHandler(messageHub, credentials, connections, websocket.HandlerOptions{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
		Logger:       logger,
	})

	// STEP 5: HTTP surface
	apiServer := api.NewServer(api.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		CORSOrigins:     cfg.Server.CORSOrigins,
		HTTPRateLimit:   cfg.Server.HTTPRateLimit,
		APIKeyTTL:       cfg.Auth.APIKeyTTL,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		TLSCertFile:     cfg.Server.TLSCert,
		TLSKeyFile:      cfg.Server.TLSKey,
	}, api.Dependencies{
		Credentials: credentials,
		Rooms:       rooms,
		Health:      dbManager,
		Connections: connections,
		Chat:        wsHandler.HandleWebSocket,
		Clock:       clk,
	}, logger)

	return &Application{
		config:      cfg,
		log:         logger.With().Str("component", "app").Logger(),
		dbManager:   dbManager,
		credentials: credentials,
		rooms:       rooms,
		hub:         messageHub,
		connections: connections,
		apiServer:   apiServer,
	}, nil
}

// Handler returns the HTTP handler serving every route.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Credentials returns the credential store.
func (app *Application) Credentials() *auth.Manager {
	return app.credentials
}

// StartHub starts room processing without opening a listener.
func (app *Application) StartHub(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	return nil
}

// Start starts the hub and then the HTTP listener. It returns once the
// listener is up or has failed.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("addr", app.config.Server.Host).Int("port", app.config.Server.Port).Msg("starting relay")

	// STEP 1: hub first so upgraded connections have somewhere to go
	if err := app.StartHub(ctx); err != nil {
		return err
	}

	// STEP 2: HTTP listener
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.apiServer.ListenAndServe(); err != nil {
			serverErrCh <- err
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("relay started")
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP, connections, hub,
// database.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down relay")
	var errs []error

	// STEP 1: stop accepting requests
	if err := app.apiServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	// STEP 2: tell every client the server is going away
	app.connections.CloseAll()

	// STEP 3: drop all rooms
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, err)
	}

	// STEP 4: close storage
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.log.Info().Msg("relay shutdown complete")
	return errors.Join(errs...)
}
