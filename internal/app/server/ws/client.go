package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/pkg/logging"
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// RuntimeClient is the transport side of a contracts.Handle. Sends are queued
// and written by a single goroutine; a peer too slow to drain its queue is
// disconnected rather than waited for.
type RuntimeClient struct {
	id    uuid.UUID
	ctx   context.Context
	ws    *WebSocket
	out   chan []byte
	done  chan struct{}
	state atomic.Int32
	once  sync.Once
	log   *slog.Logger
}

var _ contracts.Handle = (*RuntimeClient)(nil)

// NewClient starts the write loop. The client closes itself when parent is cancelled.
func NewClient(parent context.Context, ws *WebSocket, log *slog.Logger) *RuntimeClient {
	id := uuid.New()
	c := &RuntimeClient{
		id:   id,
		ctx:  parent,
		ws:   ws,
		out:  make(chan []byte, ws.opts.SendBuffer),
		done: make(chan struct{}),
		log:  log.With(logging.Connection(id.String())),
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) ID() uuid.UUID { return c.id }

func (c *RuntimeClient) State() contracts.ConnState {
	return contracts.ConnState(c.state.Load())
}

func (c *RuntimeClient) Send(_ context.Context, data []byte) error {
	if c.State() != contracts.StateOpen {
		return ErrClientClosed
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.log.Warn("ws client - send - buffer full, closing", slog.Int("buffered", len(c.out)))
		c.Close()
		return ErrSendBufferFull
	}
}

// ReadLoop blocks until the connection ends, then closes the client.
func (c *RuntimeClient) ReadLoop(onMsg func([]byte)) {
	defer c.Close()
	if err := c.ws.ReadLoop(onMsg); err != nil {
		c.log.Warn("ws client - read loop - unexpected close", logging.Err(err))
	}
}

// Close is safe to call many times and from any goroutine. The out channel is
// never closed so concurrent Sends cannot panic.
func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		c.state.Store(int32(contracts.StateClosing))
		close(c.done)
	})
}

func (c *RuntimeClient) writeLoop() {
	ticker := time.NewTicker(c.ws.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
		c.state.Store(int32(contracts.StateClosed))
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.WriteClose(websocket.CloseGoingAway, "server shutting down")
			return
		case <-c.done:
			_ = c.ws.WriteClose(websocket.CloseNormalClosure, "")
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				c.log.Debug("ws client - write loop - write failed", logging.Err(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WritePing(); err != nil {
				return
			}
		}
	}
}
