package audio

import "time"

// Default rates for the two directions of a live session. They are
// configuration, not structure: every component takes its rate explicitly.
const (
	// DefaultCaptureRate is the microphone sample rate expected by the remote
	// speech service.
	DefaultCaptureRate = 16000

	// DefaultPlaybackRate is the sample rate of PCM replies from the remote
	// speech service.
	DefaultPlaybackRate = 24000

	// DefaultBlockSize is the number of samples delivered per capture block
	// (128 ms at 16 kHz).
	DefaultBlockSize = 2048
)

// Block is one capture block of mono float samples, nominally in [-1, 1].
// Blocks are produced by a capture source once per time quantum and are
// consumed exactly once by an [Encoder].
type Block []float32

// AudioFrame is a single wire-ready frame of audio flowing through the
// pipeline. Frames are the atomic unit of audio transport: one capture block
// becomes one frame becomes one transport message.
type AudioFrame struct {
	// Data holds little-endian signed 16-bit PCM samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is always 1; multi-speaker mixing is not supported.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM16 samples in the frame.
func (f AudioFrame) Samples() int { return len(f.Data) / 2 }

// Duration returns the playback duration of the frame at its sample rate.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
