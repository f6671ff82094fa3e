package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

var _ interfaces.Connection = (*Connection)(nil)

const (
	defaultBufferSize   = 100
	defaultWriteTimeout = 5 * time.Second

	// closeGracePeriod bounds how long the socket stays open after a close
	// frame while waiting for the client's reply.
	closeGracePeriod = time.Second
)

// ConnectionOptions tunes a Connection. Zero values select defaults.
type ConnectionOptions struct {
	BufferSize   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       zerolog.Logger
}

// frame is one queued outbound item: a text payload or a close reason.
type frame struct {
	data  []byte
	close *types.CloseReason
}

// Connection serializes every write to a gorilla connection through a
// single goroutine. A close reason is delivered after the frames queued
// before it.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan frame
	writeTimeout time.Duration
	pingInterval time.Duration
	log          zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan frame, opts.BufferSize),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		log:          opts.Logger,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case f := <-c.writeCh:
			if f.close != nil {
				c.writeClose(*f.close)
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				_ = c.Close()
				return
			}

		case <-ping:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// writeClose sends the close frame and leaves the client a grace period to
// answer before the socket is released.
func (c *Connection) writeClose(reason types.CloseReason) {
	msg := websocket.FormatCloseMessage(reason.Code, reason.Text)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout)); err != nil {
		c.log.Debug().Err(err).Int("code", reason.Code).Msg("close frame not delivered")
		_ = c.Close()
		return
	}
	time.AfterFunc(closeGracePeriod, func() { _ = c.Close() })
}

// WriteJSON queues v as a text frame.
func (c *Connection) WriteJSON(v interface{}) error {
	if c.closing.Load() {
		return ErrConnectionClosed
	}
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	return c.enqueue(frame{data: data})
}

// CloseWithReason queues a close frame behind pending writes. Only the
// first reason is sent; later calls are no-ops.
func (c *Connection) CloseWithReason(reason types.CloseReason) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.enqueue(frame{close: &reason}); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// enqueue never blocks. A client too slow to drain its queue is dropped so
// it cannot hold up the room broadcasting to it.
func (c *Connection) enqueue(f frame) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- f:
		return nil
	default:
		c.log.Warn().Int("queued", len(c.writeCh)).Msg("outbound queue full, dropping slow client")
		_ = c.Close()
		return ErrQueueFull
	}
}

// Close releases the socket immediately and stops the writer.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection has been released.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
