// Package capture defines the input boundaries of the pipeline: a source of
// fixed-size microphone blocks and a source of per-frame hand landmarks.
//
// The concrete sources in this package replay recordings from disk, which is
// how the pipeline runs headless and in tests. A live microphone or camera
// backend only needs to satisfy the same two interfaces.
package capture

import (
	"context"
	"errors"

	"github.com/MrWong99/avatarlive/pkg/audio"
	"github.com/MrWong99/avatarlive/pkg/gesture"
)

// ErrDeviceUnavailable is returned by Start when the underlying device or
// recording cannot be opened.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

// ErrAlreadyStarted is returned when Start is called on a running source.
var ErrAlreadyStarted = errors.New("capture: already started")

// AudioSource yields mono float blocks at the configured capture rate.
//
// The channel returned by Start is closed when the source is exhausted, when
// ctx is cancelled, or after Close. Close releases the device and is
// idempotent.
type AudioSource interface {
	Start(ctx context.Context) (<-chan audio.Block, error)
	Close() error
}

// LandmarkSource yields one landmark set per video frame in which a hand was
// detected. Frames without a hand are not delivered.
type LandmarkSource interface {
	Start(ctx context.Context) (<-chan gesture.LandmarkSet, error)
	Close() error
}
