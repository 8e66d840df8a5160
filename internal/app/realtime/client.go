package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/config"
)

// Client is one websocket connection bound to a project room. All
// writes go through the buffered send channel and a single writePump
// goroutine, as gorilla/websocket permits only one concurrent writer.
type Client struct {
	projectID string
	conn      *websocket.Conn
	send      chan []byte
	limiter   *rate.Limiter
	log       zerolog.Logger

	writeTimeout time.Duration
	pongTimeout  time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn, projectID string, cfg config.RealtimeConfig, log zerolog.Logger) *Client {
	return &Client{
		projectID:    projectID,
		conn:         conn,
		send:         make(chan []byte, cfg.SendBuffer),
		limiter:      rate.NewLimiter(rate.Limit(cfg.CursorPerSec), cfg.CursorBurst),
		log:          log,
		writeTimeout: cfg.WriteTimeout,
		pongTimeout:  cfg.PongTimeout,
		done:         make(chan struct{}),
	}
}

// trySend queues a payload without blocking. It reports false when the
// client is gone or its buffer is saturated.
func (c *Client) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	pingInterval := c.pongTimeout * 9 / 10
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump reads frames until the socket errors or closes, handing each
// frame to handle. It runs on the connection's handler goroutine, so
// every frame from one socket is processed in arrival order.
func (c *Client) readPump(readLimit int64, handle func([]byte)) {
	defer c.close()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		handle(frame)
	}
}
