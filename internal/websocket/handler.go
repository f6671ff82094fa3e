package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomrelay/internal/hub"
	"roomrelay/internal/metrics"
	"roomrelay/internal/peer"
	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	maxFrameSize        = 64 * 1024
)

// HandlerOptions configures the connection endpoint.
type HandlerOptions struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
	Logger       zerolog.Logger
}

// Handler authenticates connection requests with a single-use token and
// hands the resulting peers to the hub.
type Handler struct {
	hub      *hub.Hub
	tokens   interfaces.TokenConsumer
	registry *Registry
	upgrader websocket.Upgrader
	opts     HandlerOptions
	log      zerolog.Logger
}

// NewHandler creates the connection endpoint.
func NewHandler(h *hub.Hub, tokens interfaces.TokenConsumer, registry *Registry, opts HandlerOptions) *Handler {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.ReadTimeout {
		opts.PingInterval = min(defaultPingInterval, opts.ReadTimeout/2)
	}
	return &Handler{
		hub:      h,
		tokens:   tokens,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		opts: opts,
		log:  opts.Logger.With().Str("component", "websocket").Logger(),
	}
}

// Registry returns the live connection registry.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// HandleWebSocket upgrades the request, redeems the token and runs the
// connection until either side closes it.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	conn := NewConnection(ws, ConnectionOptions{
		BufferSize:   h.opts.BufferSize,
		WriteTimeout: h.opts.WriteTimeout,
		PingInterval: h.opts.PingInterval,
		Logger:       h.log,
	})

	query := r.URL.Query()
	token := query.Get("token")
	if token == "" {
		h.reject(conn, types.CloseNoToken)
		return
	}

	ok, err := h.tokens.ConsumeToken(r.Context(), token)
	if err != nil {
		h.log.Error().Err(err).Msg("token redemption failed")
		h.reject(conn, types.CloseUnauthorized)
		return
	}
	if !ok {
		h.reject(conn, types.CloseInvalidToken)
		return
	}

	p := peer.New(conn, query.Get("name"))
	if err := h.registry.Register(p.ID(), conn); err != nil {
		h.log.Error().Err(err).Msg("failed to register connection")
		_ = conn.Close()
		return
	}
	metrics.RecordPeerConnected()

	var implicit *types.RoomSettingsInput
	var queryErr error
	if name := query.Get("room"); name != "" {
		in, err := types.ParseRoomQuery(name, query.Get("maxPeers"), query.Get("lifetime"))
		if err != nil {
			queryErr = err
		} else {
			implicit = &in
		}
	}

	if err := h.hub.Connect(p, implicit); err != nil {
		h.log.Warn().Err(err).Str("peer", p.ID()).Msg("hub refused peer")
		h.registry.Unregister(p.ID(), conn)
		metrics.RecordPeerDisconnected()
		h.reject(conn, shutdownReason)
		return
	}
	if queryErr != nil {
		h.hub.Report(p, queryErr)
	}

	h.readPump(p, conn)
}

// reject closes a connection that never became a peer, reading until the
// client answers the close frame or the grace period lapses.
func (h *Handler) reject(conn *Connection, reason types.CloseReason) {
	h.log.Debug().Int("code", reason.Code).Str("reason", reason.Text).Msg("connection rejected")
	_ = conn.CloseWithReason(reason)
	for {
		if _, _, err := conn.conn.NextReader(); err != nil {
			break
		}
	}
	_ = conn.Close()
}

func (h *Handler) readPump(p *peer.Peer, conn *Connection) {
	defer func() {
		h.hub.Disconnect(p)
		h.registry.Unregister(p.ID(), conn)
		metrics.RecordPeerDisconnected()
		_ = conn.Close()
	}()

	conn.conn.SetReadLimit(maxFrameSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		h.log.Debug().Err(err).Msg("failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("peer", p.ID()).Msg("connection lost")
			}
			return
		}

		if err := h.hub.HandleFrame(p, data); err != nil {
			if errors.Is(err, hub.ErrHubNotRunning) {
				_ = conn.CloseWithReason(shutdownReason)
				continue
			}
			h.log.Error().Err(err).Str("peer", p.ID()).Msg("frame handling failed")
		}
	}
}
