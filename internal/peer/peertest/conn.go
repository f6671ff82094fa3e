// Package peertest provides an in-memory Connection for tests.
package peertest

import (
	"encoding/json"
	"errors"
	"sync"

	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

var _ interfaces.Connection = (*Conn)(nil)

// ErrClosed is returned by writes after the connection was closed.
var ErrClosed = errors.New("connection closed")

// Conn records every event written to it and the reason it was closed with.
type Conn struct {
	mu       sync.Mutex
	messages []map[string]any
	closed   bool
	reason   *types.CloseReason
}

// NewConn returns an open connection.
func NewConn() *Conn {
	return &Conn{}
}

// WriteJSON records v as a decoded JSON object.
func (c *Conn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.messages = append(c.messages, msg)
	return nil
}

// CloseWithReason records the first close reason.
func (c *Conn) CloseWithReason(reason types.CloseReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.reason = &reason
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Messages returns a copy of the recorded events.
func (c *Conn) Messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, len(c.messages))
	copy(out, c.messages)
	return out
}

// MessagesOfType returns the recorded events whose type field equals msgType.
func (c *Conn) MessagesOfType(msgType string) []map[string]any {
	var out []map[string]any
	for _, m := range c.Messages() {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent event, or nil.
func (c *Conn) Last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

// Reset forgets recorded events.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Closed reports whether the connection was closed.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseReason returns the reason given to CloseWithReason, if any.
func (c *Conn) CloseReason() (types.CloseReason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == nil {
		return types.CloseReason{}, false
	}
	return *c.reason, true
}
