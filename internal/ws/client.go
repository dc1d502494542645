package ws

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"chatroom-service/internal/config"
	"chatroom-service/internal/observability"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ClientOptions tunes a single connection.
type ClientOptions struct {
	QueueSize       int
	OverflowPolicy  string
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageSize  int64
	RateLimitBurst  int
	RateLimitRefill time.Duration
}

// Client is one authenticated socket. Outbound frames go through a bounded
// queue drained by writePump; inbound frames are read by readPump.
type Client struct {
	conn     *websocket.Conn
	username string
	info     ConnInfo
	opts     ClientOptions
	send     chan []byte
	limiter  *rate.Limiter

	mu     sync.Mutex
	closed bool

	cleanupOnce sync.Once
}

// NewClient wraps conn for username. conn may be nil in tests that only inspect the queue.
func NewClient(conn *websocket.Conn, username string, info ConnInfo, opts ClientOptions) *Client {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.OverflowPolicy == "" {
		opts.OverflowPolicy = config.OverflowDisconnect
	}
	var limiter *rate.Limiter
	if opts.RateLimitBurst > 0 && opts.RateLimitRefill > 0 {
		perSecond := float64(opts.RateLimitBurst) / opts.RateLimitRefill.Seconds()
		limiter = rate.NewLimiter(rate.Limit(perSecond), opts.RateLimitBurst)
	}
	info.Username = username
	return &Client{
		conn:     conn,
		username: username,
		info:     info,
		opts:     opts,
		send:     make(chan []byte, opts.QueueSize),
		limiter:  limiter,
	}
}

// Enqueue queues payload for delivery. When the queue is full the overflow
// policy either closes the connection or evicts the oldest queued frame.
func (c *Client) Enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
	}

	observability.IncQueueOverflow(c.opts.OverflowPolicy)
	if c.opts.OverflowPolicy == config.OverflowDropOldest {
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- payload:
			return true
		default:
			return false
		}
	}

	log.Printf("ws send queue full conn_id=%s user=%s; disconnecting", c.info.ConnID, c.username)
	c.closeLocked()
	return false
}

// Close stops accepting frames and lets writePump finish the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// livenessWindow is how long the socket may stay silent: one ping interval
// until the next probe plus one interval for the answer.
func (c *Client) livenessWindow() time.Duration {
	return 2 * c.opts.PingInterval
}

func (c *Client) extendDeadline() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.livenessWindow())); err != nil {
		log.Printf("ws set read deadline conn_id=%s: %v", c.info.ConnID, err)
	}
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// readPump delivers each inbound frame to handle until the socket fails,
// then runs onExit exactly once.
func (c *Client) readPump(handle func(*Client, []byte), onExit func(*Client, string)) {
	reason := "read_error"
	defer func() {
		onExit(c, reason)
	}()

	if c.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			reason = c.readErrorReason(err)
			return
		}
		c.extendDeadline()

		if !c.allow() {
			log.Printf("ws rate limit exceeded conn_id=%s user=%s; discarding frame", c.info.ConnID, c.username)
			observability.IncEnvelope("any", "rate_limited")
			continue
		}
		handle(c, data)
	}
}

func (c *Client) readErrorReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("ws frame from conn_id=%s exceeded %d bytes", c.info.ConnID, c.opts.MaxMessageSize)
		return "frame_too_large"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "client_closed"
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Printf("ws heartbeat timeout conn_id=%s user=%s", c.info.ConnID, c.username)
		return "heartbeat_timeout"
	case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
		return "connection_closed"
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		log.Printf("ws unexpected close conn_id=%s: %v", c.info.ConnID, err)
		return "unexpected_close"
	default:
		if c.isClosed() {
			return "server_closed"
		}
		log.Printf("ws read error conn_id=%s: %v", c.info.ConnID, err)
		return "read_error"
	}
}

// writePump drains the send queue and sends a ping every PingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("ws close conn_id=%s: %v", c.info.ConnID, err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("ws write conn_id=%s: %v", c.info.ConnID, err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
