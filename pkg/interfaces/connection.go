package interfaces

import "roomrelay/pkg/types"

// Connection is the outbound side of a client connection.
// Implementations must be safe for concurrent use and deliver writes and
// the final close in the order they were requested.
type Connection interface {
	// WriteJSON queues v for delivery as a JSON text frame.
	WriteJSON(v interface{}) error

	// CloseWithReason queues a close frame carrying reason after any pending
	// writes, then releases the connection.
	CloseWithReason(reason types.CloseReason) error

	// Close releases the connection immediately.
	Close() error
}
