// Package audio holds the PCM primitives of the streaming pipeline: the
// frame encoder that turns float capture blocks into PCM16 wire frames, and
// the playback decoder that wraps headerless PCM replies in a WAV container.
//
// Everything in this package is pure and allocation-bounded; none of it
// blocks or buffers across calls.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// pcmScale maps the float range [-1, 1] onto the int16 range.
const pcmScale = math.MaxInt16

// ErrBlockTooLarge is returned by [Encoder.Encode] when a block exceeds the
// configured capture block size.
var ErrBlockTooLarge = errors.New("audio: block exceeds capture block size")

// EncodePCM16 converts a block of float samples to little-endian signed
// 16-bit PCM, one sample per input value. Values outside [-1, 1] are clamped
// to the int16 extremes; NaN encodes as silence.
func EncodePCM16(block Block) []byte {
	out := make([]byte, len(block)*2)
	for i, s := range block {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

// DecodePCM16 converts little-endian PCM16 bytes back to float samples in
// [-1, 1]. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) Block {
	out := make(Block, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / pcmScale
	}
	return out
}

// quantize clamps s to [-1, 1] and rounds it to the nearest int16 step.
func quantize(s float32) int16 {
	f := float64(s)
	switch {
	case math.IsNaN(f):
		return 0
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	}
	v := math.Round(f * pcmScale)
	// Clamp to int16 range.
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

// Encoder turns capture blocks into wire frames at a fixed sample rate.
// It holds no per-call state and is safe for concurrent use, although the
// pipeline only ever drives it from the capture loop.
type Encoder struct {
	// SampleRate is stamped onto every produced frame.
	SampleRate int

	// MaxBlock bounds the number of samples in a single block. Zero disables
	// the check.
	MaxBlock int
}

// NewEncoder returns an Encoder for the given rate and block bound.
func NewEncoder(sampleRate, maxBlock int) *Encoder {
	return &Encoder{SampleRate: sampleRate, MaxBlock: maxBlock}
}

// Encode converts block into a mono [AudioFrame] stamped with ts. An oversize
// block is rejected with [ErrBlockTooLarge]; the caller drops it rather than
// splitting or queueing it.
func (e *Encoder) Encode(block Block, ts time.Duration) (AudioFrame, error) {
	if e.MaxBlock > 0 && len(block) > e.MaxBlock {
		return AudioFrame{}, fmt.Errorf("%w: %d > %d samples", ErrBlockTooLarge, len(block), e.MaxBlock)
	}
	return AudioFrame{
		Data:       EncodePCM16(block),
		SampleRate: e.SampleRate,
		Channels:   1,
		Timestamp:  ts,
	}, nil
}
