package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// client wraps one WebSocket connection with a buffered outbound queue
// and the read/write pumps. It implements hub.Peer: sends never block,
// a full queue drops the message.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	writeTimeout time.Duration
	pongTimeout  time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn, queueSize int, writeTimeout, pongTimeout time.Duration, logger *zap.Logger) *client {
	return &client{
		conn:         conn,
		send:         make(chan []byte, queueSize),
		logger:       logger,
		writeTimeout: writeTimeout,
		pongTimeout:  pongTimeout,
		done:         make(chan struct{}),
	}
}

// Send marshals v and enqueues it. Reports false when the queue is full
// or the connection is closing; the caller treats that as a missed event.
func (c *client) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal outbound message", zap.Error(err))
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close signals the pumps to stop. The write pump drains queued frames
// before closing the socket so final messages still go out.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// writePump owns all writes to the socket: queued frames and keepalive
// pings. Runs until Close or a write error.
func (c *client) writePump() {
	pingPeriod := c.pongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.drain()
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drain flushes whatever is still queued, then sends a close frame.
func (c *client) drain() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump reads inbound frames in order and hands each to handle. It
// returns when the peer goes away or Close is called.
func (c *client) readPump(limit int64, handle func([]byte)) {
	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handle(msg)
	}
}
