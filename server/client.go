package server

import (
	"errors"
	"sync"
	"time"

	"github.com/sethfduke/chessdesk/messages"

	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned when sending to a client whose connection
// has been closed.
var ErrClientClosed = errors.New("client connection closed")

// ErrSendBufferFull is returned by TrySend when the send buffer has no room.
var ErrSendBufferFull = errors.New("send buffer full")

// Client owns the outbound side of one WebSocket connection. All writes
// go through a single write pump goroutine, so frames queued by
// concurrently running handlers never interleave and frames queued by one
// goroutine are written in the order they were queued.
type Client struct {
	ID   string
	Conn *websocket.Conn

	sendCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
	pingInterval time.Duration
	pingTimeout  time.Duration
}

// NewClient creates a new Client with the specified send buffer size and
// no keepalive pings.
func NewClient(id string, conn *websocket.Conn, buf int) *Client {
	return NewClientWithPing(id, conn, buf, 0, 0)
}

// NewClientWithPing creates a new Client that pings the peer every
// pingInterval when pingInterval is positive.
func NewClientWithPing(id string, conn *websocket.Conn, buf int, pingInterval, pingTimeout time.Duration) *Client {
	if buf <= 0 {
		buf = 1
	}
	return &Client{
		ID:           id,
		Conn:         conn,
		sendCh:       make(chan []byte, buf),
		closed:       make(chan struct{}),
		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
	}
}

// Send queues env for writing. It blocks while the send buffer is full and
// fails with a TransportError once the client is closed.
func (c *Client) Send(env messages.Envelope) error {
	b, err := messages.Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return &messages.TransportError{Op: "send", Err: ErrClientClosed}
	default:
	}
	select {
	case c.sendCh <- b:
		return nil
	case <-c.closed:
		return &messages.TransportError{Op: "send", Err: ErrClientClosed}
	}
}

// TrySend queues env for writing without blocking. It returns
// ErrSendBufferFull when the buffer has no room.
func (c *Client) TrySend(env messages.Envelope) error {
	b, err := messages.Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return &messages.TransportError{Op: "send", Err: ErrClientClosed}
	default:
	}
	select {
	case c.sendCh <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Closed returns a channel that is closed when the client is closed.
func (c *Client) Closed() <-chan struct{} { return c.closed }

// writePump writes queued frames to the connection and sends periodic
// pings. It closes the underlying connection when it returns.
func (c *Client) writePump() {
	defer func() {
		c.Close()
		_ = c.Conn.Close()
	}()

	var tick <-chan time.Time
	if c.pingInterval > 0 {
		t := time.NewTicker(c.pingInterval)
		defer t.Stop()
		tick = t.C
	}
	pingTimeout := c.pingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}

	for {
		select {
		case msg := <-c.sendCh:
			if c.writeTimeout > 0 {
				_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-tick:
			_ = c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout))
		case <-c.closed:
			_ = c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// Close stops the write pump. Frames still queued are dropped.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}
