package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MessageHandler is the callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

// OnCloseHandler runs exactly once when the connection terminates, before
// Done() is closed.
type OnCloseHandler func(connID uuid.UUID, err error)

// State is the liveness of a connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Conn represents a single, thread-safe WebSocket connection on the server
// side. Sends are buffered; a receiver that cannot drain its buffer loses
// messages rather than stalling the rest of the room.
type Conn struct {
	id     uuid.UUID
	ws     *websocket.Conn
	config Config
	send   chan []byte
	state  atomic.Int32

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConn(parentCtx context.Context, wg *sync.WaitGroup, ws *websocket.Conn, config Config, logger *slog.Logger) *Conn {
	id := uuid.New()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Conn{
		id:     id,
		ws:     ws,
		config: config,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		wg:     wg,
		logger: logger.With(slog.String("connID", id.String())),
	}
	c.state.Store(int32(StateConnecting))
	// paired with the Done in Close, which runs even if the pumps never start
	wg.Add(1)
	return c
}

// Run starts the read and write pumps. Handlers must be set before Run.
func (c *Conn) Run() {
	c.state.Store(int32(StateOpen))
	go c.readPump()
	go c.writePump()
	c.logger.Info("connection established")
}

func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		typ, r, err := c.ws.Reader(readCtx)
		if err != nil {
			cancelRead()
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			readErr = err
			return
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

func (c *Conn) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.ws.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(c.ctx, c.config.WriteTimeout)
			err := c.ws.Write(writeCtx, websocket.MessageText, message)
			cancelWrite()
			if err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.ws.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// Send queues a message for delivery. It is safe for concurrent use and never
// blocks: if the connection's buffer is full the message is dropped, because
// every authoritative value is re-fetchable from the REST layer.
func (c *Conn) Send(message []byte) {
	if State(c.state.Load()) == StateClosed {
		return
	}
	select {
	case c.send <- message:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("send buffer full, dropping message")
	}
}

// Close gracefully shuts down the connection and its resources.
func (c *Conn) Close(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.logger.Info("connection closing", slog.Any("reason", err))

		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done returns a channel that is closed when the connection is fully
// terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// State reports the current liveness of the connection.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Conn) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
