package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	applogger "CoinPull/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrSlowConsumer is returned by Send when the client's buffer is full.
	ErrSlowConsumer = errors.New("ws: send buffer full")
	ErrClosed       = errors.New("ws: connection closed")
)

const maxInboundMessage = 512

// Client is one websocket subscriber. Send never blocks; a write pump drains
// the buffer to the connection.
type Client struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	open         atomic.Bool
	mu           sync.Mutex
	queued       bool
	writeTimeout time.Duration
	pingInterval time.Duration
	log          *applogger.Logger
}

func newClient(conn *websocket.Conn, buffer int, writeTimeout, pingInterval time.Duration, l *applogger.Logger) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	c := &Client{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
	c.log = l.With(applogger.String("client", c.id))
	c.open.Store(true)
	return c
}

func (c *Client) ID() string { return c.id }

// Ready reports whether the connection is still open.
func (c *Client) Ready() bool { return c.open.Load() }

// Send queues msg for the write pump.
func (c *Client) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueue(msg)
}

// sendInitial queues the cached snapshot unless a broadcast already reached
// the client, which is always at least as new.
func (c *Client) sendInitial(msg []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queued {
		return false, nil
	}
	return true, c.enqueue(msg)
}

func (c *Client) enqueue(msg []byte) error {
	if !c.open.Load() {
		return ErrClosed
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- msg:
		c.queued = true
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops both pumps and closes the connection. Safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump consumes control frames until the peer goes away. Inbound data
// messages are ignored.
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxInboundMessage)
	deadline := c.pingInterval * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("ws read error", applogger.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("ws write failed", applogger.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
