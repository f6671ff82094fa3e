// Package peer holds the per-connection participant state.
package peer

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

const guestName = "guest"

// Peer is one connected client. Its id never changes and its room can be
// set only once.
type Peer struct {
	id   string
	conn interfaces.Connection

	mu         sync.Mutex
	assignment Assignment
	lobbyTimer *clock.Timer
}

// New creates a peer for conn. The id is "{name}-{uuid}", with "guest" when
// name is empty.
func New(conn interfaces.Connection, name string) *Peer {
	if name == "" {
		name = guestName
	}
	return &Peer{
		id:   fmt.Sprintf("%s-%s", name, uuid.NewString()),
		conn: conn,
	}
}

func (p *Peer) ID() string {
	return p.id
}

// Send queues an event for this peer.
func (p *Peer) Send(v interface{}) error {
	return p.conn.WriteJSON(v)
}

// Close closes the peer's connection with reason after pending sends.
func (p *Peer) Close(reason types.CloseReason) error {
	return p.conn.CloseWithReason(reason)
}

// Room returns the name of the peer's room, if it has one.
func (p *Peer) Room() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assignment.Room()
}

// InRoom reports whether the peer has been assigned a room.
func (p *Peer) InRoom() bool {
	_, ok := p.Room()
	return ok
}

// AssignRoom moves the peer out of the lobby. It fails if the peer already
// has a room. A pending lobby timer is cancelled.
func (p *Peer) AssignRoom(room string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := p.assignment.Assign(room)
	if err != nil {
		return err
	}
	p.assignment = next
	p.stopLobbyTimerLocked()
	return nil
}

// ArmLobbyTimer runs onTimeout after d unless the peer is assigned a room or
// the timer is cancelled first. Re-arming replaces any pending timer.
func (p *Peer) ArmLobbyTimer(clk clock.Clock, d time.Duration, onTimeout func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.assignment.assigned {
		return
	}
	p.stopLobbyTimerLocked()
	p.lobbyTimer = clk.AfterFunc(d, func() {
		if p.InRoom() {
			return
		}
		onTimeout()
	})
}

// CancelLobbyTimer stops a pending lobby timer.
func (p *Peer) CancelLobbyTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLobbyTimerLocked()
}

func (p *Peer) stopLobbyTimerLocked() {
	if p.lobbyTimer != nil {
		p.lobbyTimer.Stop()
		p.lobbyTimer = nil
	}
}
