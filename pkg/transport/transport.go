// Package transport defines the persistent duplex message channel the live
// session runs over. A Conn carries whole messages in both directions; the
// session layer owns framing, ordering and state.
package transport

import (
	"context"
	"errors"
)

// MessageType tags a message as UTF-8 text or opaque binary.
type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

// String returns "text" or "binary".
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by Read and Write once the channel has been closed
// cleanly, either locally or by the remote peer.
var ErrClosed = errors.New("transport: closed")

// Conn is one open duplex channel.
//
// Read must only be called from a single goroutine. Write and Ping are safe
// for concurrent use. Close may be called at any time and more than once.
type Conn interface {
	Read(ctx context.Context) (MessageType, []byte, error)
	Write(ctx context.Context, typ MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial calls f(ctx, url).
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }
