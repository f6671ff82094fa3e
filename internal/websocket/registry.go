package websocket

import (
	"sync"

	"github.com/gorilla/websocket"

	"roomrelay/pkg/types"
)

// shutdownReason is sent to every live connection when the server stops.
var shutdownReason = types.CloseReason{Code: websocket.CloseGoingAway, Text: "Server shutting down"}

// Registry tracks live connections by peer id.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// Register records conn under peerID.
func (r *Registry) Register(peerID string, conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if peerID == "" {
		return ErrEmptyPeerID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[peerID] = conn
	return nil
}

// Unregister removes peerID only while it still maps to conn.
func (r *Registry) Unregister(peerID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.connections[peerID]; ok && registered == conn {
		delete(r.connections, peerID)
	}
}

// Get returns the connection registered for peerID.
func (r *Registry) Get(peerID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[peerID]
	return conn, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll sends a going-away close to every live connection.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.CloseWithReason(shutdownReason)
	}
}
