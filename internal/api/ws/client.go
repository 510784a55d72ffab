package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var (
	errClosed     = errors.New("session closed")
	errBufferFull = errors.New("send buffer full")
)

// client 一个 websocket 连接，实现 action.Sink
type client struct {
	conn      *websocket.Conn
	sessionID string
	userID    string

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, sessionID, userID string, buffer int) *client {
	if buffer <= 0 {
		buffer = 1
	}
	return &client{
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
}

// Send queues one frame without blocking.
func (c *client) Send(data []byte) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClosed
	default:
		return errBufferFull
	}
}

// Close stops the write pump. Frames already queued are still flushed.
func (c *client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writePump 唯一的写协程：发送队列中的帧并定时 ping
func (c *client) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(cfg, websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(cfg, websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush(cfg)
			_ = c.write(cfg, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, e.g. the LOG_OUT frame sent right
// before the session is closed.
func (c *client) flush(cfg Config) {
	for {
		select {
		case data := <-c.send:
			if err := c.write(cfg, websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(cfg Config, messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}
