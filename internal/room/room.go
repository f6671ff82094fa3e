// Package room implements capacity and lifetime bounded rooms and the
// registry that owns them.
package room

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"roomrelay/internal/peer"
	"roomrelay/pkg/types"
)

// Room is a named group of peers. It is active from construction until it
// is torn down or its last peer leaves; after that it accepts no joins.
// Join, Leave and Broadcast are serialized by the room's mutex.
type Room struct {
	settings types.RoomSettings
	registry *Registry
	log      zerolog.Logger

	mu      sync.Mutex
	peers   map[string]*peer.Peer
	order   []string
	timer   *clock.Timer
	removed bool
}

func newRoom(settings types.RoomSettings, registry *Registry) *Room {
	r := &Room{
		settings: settings,
		registry: registry,
		log:      registry.log.With().Str("room", settings.Name).Logger(),
		peers:    make(map[string]*peer.Peer),
	}
	r.timer = registry.clock.AfterFunc(settings.Lifetime, r.expire)
	return r
}

func (r *Room) Name() string {
	return r.settings.Name
}

func (r *Room) Settings() types.RoomSettings {
	return r.settings
}

// Len returns the number of peers in the room.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Has reports whether the peer with id is a member.
func (r *Room) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	return ok
}

// PeerIDs returns member ids in join order.
func (r *Room) PeerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Info summarizes the room for administrative listings.
func (r *Room) Info() types.RoomInfo {
	return types.RoomInfo{
		Name:     r.settings.Name,
		MaxPeers: r.settings.MaxPeers,
		Lifetime: int(r.settings.Lifetime.Seconds()),
		Peers:    r.PeerIDs(),
	}
}

// Join adds p to the room and announces it to every member, p included.
// A full room closes p's connection and returns types.ErrRoomFull without
// changing membership.
func (r *Room) Join(p *peer.Peer) error {
	return r.join(p, false)
}

// JoinAsCreator is Join for the peer that created the room. The peer is
// sent room-created ahead of the joined broadcast.
func (r *Room) JoinAsCreator(p *peer.Peer) error {
	return r.join(p, true)
}

func (r *Room) join(p *peer.Peer, creator bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removed {
		return types.ErrRoomNotFound
	}
	if len(r.order) >= r.settings.MaxPeers {
		r.log.Debug().Str("peer", p.ID()).Msg("room full")
		_ = p.Close(types.CloseRoomFull)
		return types.ErrRoomFull
	}
	if err := p.AssignRoom(r.settings.Name); err != nil {
		return fmt.Errorf("join room %s: %w", r.settings.Name, err)
	}

	r.peers[p.ID()] = p
	r.order = append(r.order, p.ID())
	r.log.Debug().Str("peer", p.ID()).Int("peers", len(r.order)).Msg("peer joined")

	if creator {
		if err := p.Send(types.NewRoomCreatedEvent(r.settings.Name)); err != nil {
			r.log.Debug().Err(err).Str("peer", p.ID()).Msg("failed to deliver room-created")
		}
	}

	r.broadcastLocked(types.Outbound{Sender: p.ID(), Payload: types.NewJoinedEvent(p.ID())}, true)
	return nil
}

// Leave removes p and closes its connection. The room is removed from the
// registry as soon as it is empty. Leaving a room p is not in does nothing.
func (r *Room) Leave(p *peer.Peer) {
	r.mu.Lock()
	if _, ok := r.peers[p.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, p.ID())
	r.removeOrderLocked(p.ID())
	_ = p.Close(types.CloseLeftRoom)

	empty := len(r.order) == 0 && !r.removed
	if empty {
		r.removed = true
		r.stopTimerLocked()
	}
	r.mu.Unlock()

	r.log.Debug().Str("peer", p.ID()).Msg("peer left")
	if empty {
		r.registry.release(r, reasonEmpty)
	}
}

// Broadcast delivers msg to every member. The sender is skipped unless echo
// is set.
func (r *Room) Broadcast(msg types.Outbound, echo bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg, echo)
}

func (r *Room) broadcastLocked(msg types.Outbound, echo bool) {
	for _, id := range r.order {
		if !echo && id == msg.Sender {
			continue
		}
		if err := r.peers[id].Send(msg.Payload); err != nil {
			r.log.Debug().Err(err).Str("peer", id).Msg("broadcast delivery failed")
		}
	}
}

// teardown stops the lifetime timer and closes every member with
// room-deleted. It runs at most once.
func (r *Room) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removed && len(r.order) == 0 {
		r.stopTimerLocked()
		return
	}
	r.removed = true
	r.stopTimerLocked()
	for _, id := range r.order {
		_ = r.peers[id].Close(types.CloseRoomDeleted)
	}
	r.peers = make(map[string]*peer.Peer)
	r.order = nil
}

func (r *Room) expire() {
	r.log.Debug().Msg("room lifetime elapsed")
	r.registry.release(r, reasonExpired)
}

func (r *Room) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Room) removeOrderLocked(id string) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
