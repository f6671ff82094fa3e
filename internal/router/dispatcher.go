package router

import (
	"fmt"

	"github.com/rs/zerolog"

	"roomrelay/internal/peer"
	"roomrelay/internal/room"
	"roomrelay/pkg/types"
)

// Rooms is the part of the room registry the dispatcher uses.
type Rooms interface {
	Create(in types.RoomSettingsInput) (*room.Room, error)
	Get(name string) (*room.Room, bool)
}

// Dispatcher applies inbound messages to room state on behalf of a peer.
type Dispatcher struct {
	rooms Rooms
	log   zerolog.Logger
}

// NewDispatcher creates a dispatcher over rooms.
func NewDispatcher(rooms Rooms, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		rooms: rooms,
		log:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch handles one message from p. Errors of types.Error are meant for
// p; anything else is an internal failure.
func (d *Dispatcher) Dispatch(p *peer.Peer, msg types.InboundMessage) error {
	switch m := msg.(type) {
	case *types.CreateRoomMessage:
		return d.createRoom(p, m)
	case *types.JoinMessage:
		return d.join(p, m)
	case *types.ListMessage:
		return d.list(p)
	case *types.LeaveMessage:
		return d.leave(p)
	case *types.DataMessage:
		return d.data(p, m)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func (d *Dispatcher) createRoom(p *peer.Peer, m *types.CreateRoomMessage) error {
	if p.InRoom() {
		return types.ErrPeerAlreadyInRoom
	}

	r, err := d.rooms.Create(m.Settings)
	if err != nil {
		return err
	}
	if err := r.JoinAsCreator(p); err != nil {
		return err
	}
	d.log.Info().Str("peer", p.ID()).Str("room", r.Name()).Msg("peer created room")
	return nil
}

func (d *Dispatcher) join(p *peer.Peer, m *types.JoinMessage) error {
	if p.InRoom() {
		return types.ErrPeerAlreadyInRoom
	}

	r, ok := d.rooms.Get(m.Room)
	if !ok {
		return nil
	}
	if err := r.Join(p); err != nil {
		return err
	}
	d.log.Info().Str("peer", p.ID()).Str("room", r.Name()).Msg("peer joined room")
	return nil
}

func (d *Dispatcher) list(p *peer.Peer) error {
	r, ok, err := d.currentRoom(p)
	if err != nil || !ok {
		return err
	}
	return p.Send(types.NewListEvent(r.PeerIDs()))
}

func (d *Dispatcher) leave(p *peer.Peer) error {
	r, ok, err := d.currentRoom(p)
	if err != nil || !ok {
		return err
	}
	r.Leave(p)
	d.log.Info().Str("peer", p.ID()).Str("room", r.Name()).Msg("peer left room")
	return nil
}

func (d *Dispatcher) data(p *peer.Peer, m *types.DataMessage) error {
	r, ok, err := d.currentRoom(p)
	if err != nil || !ok {
		return err
	}
	r.Broadcast(types.Outbound{Sender: p.ID(), Payload: m.DataEvent(p.ID())}, false)
	return nil
}

// currentRoom resolves p's room. It returns ok=false when the room is gone
// or its name now belongs to a room p is not a member of.
func (d *Dispatcher) currentRoom(p *peer.Peer) (*room.Room, bool, error) {
	name, assigned := p.Room()
	if !assigned {
		return nil, false, types.ErrPeerNotInRoom
	}
	r, ok := d.rooms.Get(name)
	if !ok || !r.Has(p.ID()) {
		return nil, false, nil
	}
	return r, true, nil
}
