package live

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialMissing is returned by Open when no API key is supplied.
	// No connection is attempted.
	ErrCredentialMissing = errors.New("live: credential missing")

	// ErrAlreadyOpened is returned by Open on a session that has left Idle.
	ErrAlreadyOpened = errors.New("live: session already opened")

	// ErrNotReady is returned by the send methods before the session is
	// Ready or after it has closed. The message is dropped.
	ErrNotReady = errors.New("live: session not ready")

	// ErrOutboundFull is returned when the outbound buffer cannot take another
	// message. The message is dropped.
	ErrOutboundFull = errors.New("live: outbound buffer full")

	// ErrSetupTimeout is returned by Open when the server does not acknowledge
	// setup within Config.SetupTimeout.
	ErrSetupTimeout = errors.New("live: setup not acknowledged")

	// ErrTransportClosed reports a clean remote closure of the channel.
	ErrTransportClosed = errors.New("live: transport closed")
)

// TransportError wraps a failure of the underlying channel.
type TransportError struct {
	Op  string // "dial", "read", "write" or "setup"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports an inbound payload that could not be decoded. The
// payload is dropped and the session continues.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("live: decode: %s: %v", e.Reason, e.Err)
	}
	return "live: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ServerError is an error object sent by the remote service.
type ServerError struct {
	Code    int
	Status  string
	Message string
}

func (e *ServerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Sprintf("live: server error %d (%s): %s", e.Code, e.Status, msg)
	}
	return fmt.Sprintf("live: server error %d: %s", e.Code, msg)
}
