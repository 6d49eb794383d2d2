// Package websocket connects a peer to the relay over a websocket.
package websocket

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/ProjectRStore/itemsync/internal/channel"
	"github.com/ProjectRStore/itemsync/internal/queue"
	"github.com/ProjectRStore/itemsync/internal/transport"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

const (
	sendChSize   = 10_000
	inboxLimit   = 50_000
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Config holds the relay endpoint.
type Config struct {
	URL     string
	Session string
}

// Client is a websocket Transport with a single write goroutine. After a
// dropped connection it redials with exponential backoff; the relay then
// treats it as a new peer and sends a fresh welcome.
type Client struct {
	mu     sync.Mutex
	conn   *ws.Conn
	stop   chan struct{} // closed when conn is abandoned
	sendCh channel.Channel[[]byte]
	inbox  *queue.Queue[streaming.Envelope]
	seen   uint64 // inbox drops already reported
	done   chan struct{}
	closed bool

	cfg       Config
	codec     streaming.Codec
	frameType int
	backoff   time.Duration

	logger *slog.Logger
}

var _ transport.Transport = (*Client)(nil)

// New creates an unconnected client.
func New(cfg Config, codec streaming.Codec, logger *slog.Logger) *Client {
	if codec == nil {
		codec = streaming.JSONCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		sendCh:    channel.New[[]byte](sendChSize),
		inbox:     queue.NewBounded[streaming.Envelope](inboxLimit),
		done:      make(chan struct{}),
		cfg:       cfg,
		codec:     codec,
		frameType: ws.TextMessage,
		backoff:   time.Second,
		logger:    logger,
	}
	if codec.Name() == "msgpack" {
		c.frameType = ws.BinaryMessage
	}
	return c
}

// Dial connects to the relay and starts the read and write loops.
func (c *Client) Dial() error {
	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.start(conn)
	return nil
}

func (c *Client) start(conn *ws.Conn) {
	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.stop = stop
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn)
}

func (c *Client) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	q.Set("session", c.cfg.Session)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// Send seals msg and queues it for the write loop. It drops the message
// when the send buffer is full.
func (c *Client) Send(msg streaming.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	env, err := streaming.Seal(c.codec, msg)
	if err != nil {
		return err
	}
	data, err := streaming.Encode(c.codec, env)
	if err != nil {
		return err
	}
	if !c.sendCh.TrySend(data) {
		c.logger.Warn("WebSocket send channel full, dropping message", "type", msg.Type)
		return fmt.Errorf("send buffer full, dropped %s", msg.Type)
	}
	return nil
}

// Drain returns every received envelope since the last call. Envelopes
// lost to a full inbox are reported here, once per frame.
func (c *Client) Drain() []streaming.Envelope {
	if dropped := c.inbox.Dropped(); dropped > c.seen {
		c.logger.Warn("Inbox overflowed, oldest envelopes dropped", "dropped", dropped-c.seen, "total", dropped)
		c.seen = dropped
	}
	return c.inbox.Drain()
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// writeLoop is the only writer of conn. Frames taken while conn is being
// replaced are dropped.
func (c *Client) writeLoop(conn *ws.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data := <-c.sendCh.Receive():
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if !current {
				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(c.frameType, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		env, err := streaming.Decode(c.codec, message)
		if err != nil {
			c.logger.Debug("Dropping malformed frame", "error", err)
			continue
		}
		c.inbox.Push(env)
	}
}

// reconnect replaces broken with a fresh connection. Only the first caller
// for a given broken connection does the work.
func (c *Client) reconnect(broken *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != broken {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	close(c.stop)
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to relay", "attempt", attempt, "backoff", backoff)
		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			_ = conn.Close()
			return
		}
		c.start(conn)
		c.logger.Info("Relay reconnected", "attempt", attempt)
		return
	}

	c.logger.Error("Relay reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// Close sends a close frame and stops all goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
