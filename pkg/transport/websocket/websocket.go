// Package websocket implements [transport.Dialer] on top of
// github.com/coder/websocket.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/avatarlive/pkg/transport"
)

// DefaultReadLimit bounds a single inbound message. Audio replies arrive as
// base64 inside JSON and easily exceed the library's 32 KiB default.
const DefaultReadLimit = 16 << 20

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// Dialer dials WebSocket endpoints.
type Dialer struct {
	// ReadLimit caps inbound message size. Zero means DefaultReadLimit.
	ReadLimit int64

	// Header is sent with the opening handshake.
	Header http.Header

	// HTTPClient overrides the client used for the handshake.
	HTTPClient *http.Client
}

// Dial opens a WebSocket connection to url.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	opts := &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
		HTTPClient: d.HTTPClient,
	}
	for k, v := range d.Header {
		opts.HTTPHeader[k] = v
	}

	c, resp, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket: dial: http %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket: dial: %w", err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	return Wrap(c), nil
}

// Conn adapts a *websocket.Conn to [transport.Conn].
type Conn struct {
	c         *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Wrap returns c as a [transport.Conn]. Useful on the accepting side.
func Wrap(c *websocket.Conn) *Conn {
	return &Conn{c: c}
}

// Read returns the next whole message.
func (c *Conn) Read(ctx context.Context) (transport.MessageType, []byte, error) {
	typ, data, err := c.c.Read(ctx)
	if err != nil {
		return 0, nil, mapErr(err)
	}
	if typ == websocket.MessageBinary {
		return transport.MessageBinary, data, nil
	}
	return transport.MessageText, data, nil
}

// Write sends one message.
func (c *Conn) Write(ctx context.Context, typ transport.MessageType, data []byte) error {
	wt := websocket.MessageText
	if typ == transport.MessageBinary {
		wt = websocket.MessageBinary
	}
	if err := c.c.Write(ctx, wt, data); err != nil {
		return mapErr(err)
	}
	return nil
}

// Ping sends a ping and waits for the pong. A concurrent Read is required for
// the pong to be observed.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.c.Ping(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

// Close performs a normal-closure handshake. Subsequent calls return the
// result of the first.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		err := c.c.Close(websocket.StatusNormalClosure, "")
		if err != nil && !errors.Is(mapErr(err), transport.ErrClosed) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// mapErr folds clean closures into transport.ErrClosed and keeps everything
// else intact.
func mapErr(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}
	return err
}
