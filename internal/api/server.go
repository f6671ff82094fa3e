// Package api exposes the relay's HTTP surface: credential endpoints, admin
// room management, health, metrics and the WebSocket endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"roomrelay/internal/api/middleware"
	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

// Config holds the HTTP server settings.
type Config struct {
	Host            string
	Port            int
	CORSOrigins     []string
	HTTPRateLimit   int
	APIKeyTTL       time.Duration
	ShutdownTimeout time.Duration
	TLSCertFile     string
	TLSKeyFile      string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            3000,
		CORSOrigins:     []string{"*"},
		HTTPRateLimit:   60,
		APIKeyTTL:       365 * 24 * time.Hour,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HealthChecker reports storage health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionCounter reports the number of live WebSocket connections.
type ConnectionCounter interface {
	Count() int
}

// Dependencies are the components the HTTP surface fronts.
type Dependencies struct {
	Credentials interfaces.CredentialStore
	Rooms       interfaces.RoomDirectory
	Health      HealthChecker
	Connections ConnectionCounter
	Chat        http.HandlerFunc
	Clock       clock.Clock
}

// Server is the relay's HTTP server.
type Server struct {
	cfg        Config
	deps       Dependencies
	router     chi.Router
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer wires routes and middleware.
func NewServer(cfg Config, deps Dependencies, logger zerolog.Logger) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  logger.With().Str("component", "api").Logger(),
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader, "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.HTTPRateLimit))

		r.With(middleware.RequireAdmin(s.deps.Credentials, s.log)).Post("/register", s.handleRegister)
		r.Get("/auth", s.handleAuth)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/revoke", s.handleRevoke)
	})

	r.Route("/rooms", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(s.deps.Credentials, s.log))
		r.Get("/", s.handleListRooms)
		r.Delete("/{name}", s.handleDeleteRoom)
	})

	if s.deps.Chat != nil {
		r.Get("/chat", s.deps.Chat)
	}

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

type registerRequest struct {
	ClientID string `json:"clientId"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Missing client ID")
		return
	}

	expiresAt := s.deps.Clock.Now().Add(s.cfg.APIKeyTTL)
	key, err := s.deps.Credentials.IssueAPIKey(r.Context(), req.ClientID, expiresAt)
	if err != nil {
		s.internalError(w, r, err, "failed to issue api key")
		return
	}

	s.log.Info().Str("client_id", req.ClientID).Msg("api key registered")
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"apiKey": key})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get(middleware.APIKeyHeader)
	if apiKey == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized: missing API key")
		return
	}

	token, err := s.deps.Credentials.IssueSessionToken(r.Context(), apiKey)
	if types.IsKind(err, types.KindAuthentication) {
		middleware.WriteError(w, http.StatusForbidden, "Unauthorized: invalid API key")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "failed to issue session token")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get(middleware.APIKeyHeader)
	if apiKey == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized: missing API key")
		return
	}

	fresh, err := s.deps.Credentials.RefreshAPIKey(r.Context(), apiKey)
	if types.IsKind(err, types.KindAuthentication) {
		middleware.WriteError(w, http.StatusForbidden, "Unauthorized: invalid API key")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "failed to refresh api key")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"apiKey": fresh})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get(middleware.APIKeyHeader)
	if apiKey == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized: missing API key")
		return
	}

	if err := s.deps.Credentials.InvalidateAPIKey(r.Context(), apiKey); err != nil {
		s.internalError(w, r, err, "failed to revoke api key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, s.deps.Rooms.Snapshot())
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.deps.Rooms.Delete(name) {
		middleware.WriteError(w, http.StatusNotFound, types.ErrRoomNotFound.Error())
		return
	}
	s.log.Info().Str("room", name).Msg("room deleted by admin")
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
	Timestamp   int64  `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Database:  "ok",
		Rooms:     s.deps.Rooms.Count(),
		Timestamp: s.deps.Clock.Now().UnixMilli(),
	}
	if s.deps.Connections != nil {
		resp.Connections = s.deps.Connections.Count()
	}

	status := http.StatusOK
	if s.deps.Health != nil {
		if err := s.deps.Health.HealthCheck(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			resp.Status = "degraded"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	middleware.WriteJSON(w, status, resp)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	s.log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg(msg)
	middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
}

// ListenAndServe serves until Shutdown is called. TLS is used when both a
// certificate and a key are configured.
func (s *Server) ListenAndServe() error {
	var err error
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.log.Info().Str("addr", s.cfg.Addr()).Msg("https server starting")
		err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		s.log.Info().Str("addr", s.cfg.Addr()).Msg("http server starting")
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}
