package playback

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gopxl/beep/wav"
)

// Compile-time interface assertion.
var _ Sink = (*FileSink)(nil)

// FileSink renders each item by writing its container to a numbered .wav
// file in Dir. With Realtime set, Play additionally blocks for the decoded
// duration of the clip, so the queue observes the same pacing as a speaker.
type FileSink struct {
	// Dir receives one file per item. It is created on first use.
	Dir string

	// Realtime makes Play wait for the clip's playback duration.
	Realtime bool
}

// NewFileSink returns a FileSink writing into dir.
func NewFileSink(dir string, realtime bool) *FileSink {
	return &FileSink{Dir: dir, Realtime: realtime}
}

// Play implements [Sink]. The container is validated with a full WAV decode
// before it is written; undecodable items are rejected.
func (s *FileSink) Play(ctx context.Context, item *Item) error {
	stream, format, err := wav.Decode(bytes.NewReader(item.Container))
	if err != nil {
		return fmt.Errorf("playback: decode item %d: %w", item.Seq, err)
	}
	length := format.SampleRate.D(stream.Len())
	_ = stream.Close()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("playback: create %q: %w", s.Dir, err)
	}
	name := filepath.Join(s.Dir, fmt.Sprintf("reply-%05d.wav", item.Seq))
	if err := os.WriteFile(name, item.Container, 0o644); err != nil {
		return fmt.Errorf("playback: write %q: %w", name, err)
	}

	if !s.Realtime || length <= 0 {
		return nil
	}
	timer := time.NewTimer(length)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
