// Package mock provides an in-memory [transport.Conn] and [transport.Dialer]
// for tests.
//
// The test plays the remote peer: it delivers inbound messages with
// [Conn.Deliver], inspects what the client sent with [Conn.Written] or
// [Conn.Next], and ends the channel with [Conn.CloseRemote].
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/avatarlive/pkg/transport"
)

var (
	_ transport.Conn   = (*Conn)(nil)
	_ transport.Dialer = (*Dialer)(nil)
)

// Frame is one message written by the client.
type Frame struct {
	Type transport.MessageType
	Data []byte
}

type inbound struct {
	typ  transport.MessageType
	data []byte
	err  error
}

// Conn is an in-memory duplex channel.
type Conn struct {
	mu      sync.Mutex
	written []Frame
	pings   int
	closed  bool
	wErr    error

	in      chan inbound
	writes  chan Frame
	done    chan struct{}
	doneErr error
}

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		in:     make(chan inbound, 64),
		writes: make(chan Frame, 256),
		done:   make(chan struct{}),
	}
}

// Read implements [transport.Conn].
func (c *Conn) Read(ctx context.Context) (transport.MessageType, []byte, error) {
	select {
	case m := <-c.in:
		if m.err != nil {
			c.shutdown(m.err)
			return 0, nil, m.err
		}
		return m.typ, m.data, nil
	case <-c.done:
		return 0, nil, c.err()
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Write implements [transport.Conn].
func (c *Conn) Write(ctx context.Context, typ transport.MessageType, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.err()
	}
	if c.wErr != nil {
		err := c.wErr
		c.mu.Unlock()
		return err
	}
	f := Frame{Type: typ, Data: append([]byte(nil), data...)}
	c.written = append(c.written, f)
	c.mu.Unlock()

	select {
	case c.writes <- f:
	default:
	}
	return nil
}

// Ping implements [transport.Conn].
func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.doneErr
	}
	c.pings++
	return ctx.Err()
}

// Close implements [transport.Conn].
func (c *Conn) Close() error {
	c.shutdown(fmt.Errorf("%w: local close", transport.ErrClosed))
	return nil
}

// FailWrites makes every subsequent Write return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wErr = err
}

// Deliver queues an inbound message for the client to read.
func (c *Conn) Deliver(typ transport.MessageType, data []byte) {
	c.in <- inbound{typ: typ, data: data}
}

// DeliverText queues an inbound text message.
func (c *Conn) DeliverText(s string) { c.Deliver(transport.MessageText, []byte(s)) }

// CloseRemote ends the channel from the peer's side after all previously
// delivered messages. A nil err means a clean closure.
func (c *Conn) CloseRemote(err error) {
	if err == nil {
		err = fmt.Errorf("%w: remote close", transport.ErrClosed)
	}
	c.in <- inbound{err: err}
}

// Written returns every frame written so far.
func (c *Conn) Written() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.written))
	copy(out, c.written)
	return out
}

// Next waits up to timeout for the next written frame.
func (c *Conn) Next(timeout time.Duration) (Frame, error) {
	select {
	case f := <-c.writes:
		return f, nil
	case <-time.After(timeout):
		return Frame{}, errors.New("mock: no frame written")
	}
}

// Pings returns how many pings were sent.
func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Closed reports whether the channel has ended from either side.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.doneErr = err
	close(c.done)
}

func (c *Conn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneErr
}

// Dialer hands out a prepared Conn and records dialled URLs.
type Dialer struct {
	mu   sync.Mutex
	urls []string

	// Conn is returned by Dial. When nil a fresh Conn is created per call.
	Conn *Conn

	// DialError, when non-nil, is returned by Dial.
	DialError error
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.DialError != nil {
		return nil, d.DialError
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Conn == nil {
		d.Conn = NewConn()
	}
	return d.Conn, nil
}

// URLs returns every URL passed to Dial.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Calls returns the number of Dial calls.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}
