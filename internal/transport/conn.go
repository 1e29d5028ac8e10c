package transport

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrClosed         = errors.New("transport: connection closed")
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// MessageHandler is called for every text or binary frame read from the peer
type MessageHandler func(msg []byte)

// Conn is a websocket connection with a buffered outbound queue.
// Send never blocks; a single write pump owns all writes.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	onClose   []func()

	logger *slog.Logger
}

// New wraps an upgraded websocket connection
func New(ws *websocket.Conn, sendBuffer int, logger *slog.Logger) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues msg for delivery. It fails if the connection is closed or
// the peer is not keeping up.
func (c *Conn) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// OnClose registers fn to run once when the connection closes for any reason.
// If the connection is already closed fn runs immediately.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		fn()
		return
	default:
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Close shuts the connection down and fires the close callbacks exactly once
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		callbacks := c.onClose
		c.onClose = nil
		c.mu.Unlock()

		err = c.ws.Close()
		for _, fn := range callbacks {
			fn()
		}
		c.logger.Debug("connection closed")
	})
	return err
}

// Done is closed when the connection has been closed
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Run starts the write pump and reads frames on the calling goroutine until
// the peer goes away. The connection is closed when Run returns.
func (c *Conn) Run(onMessage MessageHandler) {
	go c.writePump()
	c.readPump(onMessage)
}

func (c *Conn) readPump(onMessage MessageHandler) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close", slog.Any("error", err))
			}
			return
		}
		onMessage(msg)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
