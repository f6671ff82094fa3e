// Package hub holds the relay's server context: the room registry, the rate
// limiter and the dispatcher, and the per-frame pipeline that ties them to
// connected peers.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"roomrelay/internal/metrics"
	"roomrelay/internal/peer"
	"roomrelay/internal/room"
	"roomrelay/internal/router"
	"roomrelay/pkg/types"
)

// Options configures a Hub.
type Options struct {
	LobbyTimeout time.Duration
	Clock        clock.Clock
	Logger       zerolog.Logger
}

// Hub coordinates peers with room state. Frames from one peer must be
// handed to HandleFrame sequentially; frames from different peers may be
// handled concurrently.
type Hub struct {
	rooms        *room.Registry
	limiter      *router.RateLimiter
	dispatcher   *router.Dispatcher
	clock        clock.Clock
	lobbyTimeout time.Duration
	log          zerolog.Logger

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub over its components.
func NewHub(rooms *room.Registry, limiter *router.RateLimiter, dispatcher *router.Dispatcher, opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.LobbyTimeout <= 0 {
		opts.LobbyTimeout = 10 * time.Second
	}
	return &Hub{
		rooms:        rooms,
		limiter:      limiter,
		dispatcher:   dispatcher,
		clock:        opts.Clock,
		lobbyTimeout: opts.LobbyTimeout,
		log:          opts.Logger.With().Str("component", "hub").Logger(),
	}
}

// Rooms returns the room registry owned by the hub.
func (h *Hub) Rooms() *room.Registry {
	return h.rooms
}

// Start marks the hub running. The hub stops when ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.log.Info().Dur("lobby_timeout", h.lobbyTimeout).Msg("hub started")

	go func() {
		<-ctx.Done()
		if err := h.Stop(); err == nil {
			h.log.Info().Msg("hub context cancelled")
		}
	}()
	return nil
}

// Stop marks the hub stopped and tears down every room.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.mu.Unlock()

	h.rooms.Clear()
	h.log.Info().Msg("hub stopped")
	return nil
}

// IsRunning reports whether the hub accepts peers and frames.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Connect greets a newly authenticated peer. With implicit set the peer is
// placed in that room, creating it if needed; otherwise, or if that fails,
// the peer waits in the lobby until it joins a room or the lobby timeout
// closes it.
func (h *Hub) Connect(p *peer.Peer, implicit *types.RoomSettingsInput) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}

	if err := p.Send(types.NewConnectedEvent(p.ID())); err != nil {
		return err
	}
	h.log.Debug().Str("peer", p.ID()).Msg("peer connected")

	if implicit != nil {
		if err := h.joinImplicit(p, *implicit); err != nil {
			h.Report(p, err)
		}
	}

	if !p.InRoom() {
		p.ArmLobbyTimer(h.clock, h.lobbyTimeout, func() {
			h.log.Debug().Str("peer", p.ID()).Msg("lobby timeout")
			_ = p.Close(types.CloseLobbyTimeout)
		})
	}
	return nil
}

func (h *Hub) joinImplicit(p *peer.Peer, in types.RoomSettingsInput) error {
	r, created, err := h.rooms.GetOrCreate(in)
	if err != nil {
		return err
	}
	if created {
		h.log.Info().Str("peer", p.ID()).Str("room", r.Name()).Msg("room created on connect")
		return r.JoinAsCreator(p)
	}
	return r.Join(p)
}

// HandleFrame runs one raw frame from p through rate limiting, decoding and
// dispatch. Client errors are reported to p; the connection stays open.
func (h *Hub) HandleFrame(p *peer.Peer, data []byte) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}

	if !h.limiter.Allow(p.ID()) {
		metrics.RecordRateLimited()
		h.Report(p, types.ErrRateLimitExceeded)
		return nil
	}

	msg, err := types.DecodeInbound(data)
	if err != nil {
		h.Report(p, err)
		return nil
	}
	metrics.RecordFrame(msg.Type())

	if err := h.dispatcher.Dispatch(p, msg); err != nil {
		h.Report(p, err)
	}
	return nil
}

// Report sends err to p as an error event when it is a client error, and
// logs it otherwise.
func (h *Hub) Report(p *peer.Peer, err error) {
	var clientErr *types.Error
	switch {
	case errors.Is(err, types.ErrRoomFull):
		h.log.Debug().Str("peer", p.ID()).Msg("peer rejected from full room")
	case errors.As(err, &clientErr):
		metrics.RecordRejected(clientErr.Kind.String())
		if sendErr := p.Send(types.NewErrorEvent(clientErr)); sendErr != nil {
			h.log.Debug().Err(sendErr).Str("peer", p.ID()).Msg("failed to deliver error event")
		}
	default:
		h.log.Error().Err(err).Str("peer", p.ID()).Msg("frame handling failed")
	}
}

// Disconnect releases everything held for p once its connection is gone.
func (h *Hub) Disconnect(p *peer.Peer) {
	p.CancelLobbyTimer()

	name, ok := p.Room()
	if !ok {
		return
	}
	if r, exists := h.rooms.Get(name); exists {
		r.Leave(p)
	}
	h.log.Debug().Str("peer", p.ID()).Msg("peer disconnected")
}
