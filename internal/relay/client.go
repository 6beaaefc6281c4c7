// Package relay is a small WebSocket client for the echo service: it sends
// text frames to the server and reads the replies back.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// DefaultURL is where the echo server listens unless configured otherwise.
const DefaultURL = "ws://localhost:8765"

// CloseReason is the text carried by the close frame Close sends.
const CloseReason = "close replay"

// ErrNotConnected is returned by Send and Receive once the connection is
// closed, either by Close or because the server went away.
var ErrNotConnected = errors.New("relay: not connected")

type options struct {
	origin           string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
}

// Option configures Dial.
type Option func(*options)

// WithOrigin sets the Origin header sent during the handshake.
func WithOrigin(origin string) Option {
	return func(o *options) {
		o.origin = origin
	}
}

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// WithWriteTimeout bounds each Send.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// Client is one connection to the echo server. Send and Receive may be used
// from different goroutines, but not each from several at once.
type Client struct {
	url          string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	// broken is set once a read or write fails. gorilla keeps returning the
	// same error afterwards, so the connection cannot be used again.
	broken bool
}

// Dial connects to url.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := options{
		handshakeTimeout: 5 * time.Second,
		writeTimeout:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: o.handshakeTimeout,
	}

	header := http.Header{}
	if o.origin != "" {
		header.Set("Origin", o.origin)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s (status %d)", url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}

	return &Client{url: url, conn: conn, writeTimeout: o.writeTimeout}, nil
}

// URL returns the address the client dialed.
func (c *Client) URL() string {
	return c.url
}

// IsConnected reports whether the connection is still open: Close has not
// been called and no read or write has failed.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.broken
}

func (c *Client) markBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

// Send writes text as one text frame.
func (c *Client) Send(text string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.markBroken()
		return errors.Wrap(err, "send")
	}
	return nil
}

// Receive reads the next text frame. The ctx deadline, if any, becomes the
// read deadline; cancelling ctx without a deadline does not interrupt a read
// in progress.
func (c *Client) Receive(ctx context.Context) (string, error) {
	if !c.IsConnected() {
		return "", ErrNotConnected
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return "", errors.Wrap(err, "set read deadline")
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.markBroken()
			return "", errors.Wrap(err, "receive")
		}
		if messageType == websocket.TextMessage {
			return string(payload), nil
		}
	}
}

// Roundtrip sends text and waits for the server's reply.
func (c *Client) Roundtrip(ctx context.Context, text string) (string, error) {
	if err := c.Send(text); err != nil {
		return "", err
	}
	return c.Receive(ctx)
}

// Close sends a normal-closure frame and closes the socket. The frame is
// skipped when the connection already failed. Calling it again is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	broken := c.broken
	c.mu.Unlock()

	var writeErr error
	if !broken {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReason)
		writeErr = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	closeErr := c.conn.Close()

	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return errors.Wrap(writeErr, "write close frame")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "close")
	}
	return nil
}
