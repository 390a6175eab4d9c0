package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/avatarlive/pkg/gesture"
)

// DefaultFrameInterval paces landmark replay at roughly 30 frames per second.
const DefaultFrameInterval = 33 * time.Millisecond

var _ LandmarkSource = (*LandmarkFile)(nil)

// LandmarkFile replays recorded hand tracking output. The file holds one JSON
// array per line, each either empty (no hand in that frame) or exactly
// [gesture.NumLandmarks] points:
//
//	[{"x":0.5,"y":0.8,"z":0}, ... 21 entries ...]
//	[]
//
// Malformed lines are logged and skipped.
type LandmarkFile struct {
	// Path to the recording.
	Path string

	// Interval between frames. Zero delivers frames as fast as the consumer
	// reads them.
	Interval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLandmarkFile returns a LandmarkFile source for path.
func NewLandmarkFile(path string, interval time.Duration) *LandmarkFile {
	return &LandmarkFile{Path: path, Interval: interval}
}

// Start opens the recording and begins delivering landmark sets.
func (l *LandmarkFile) Start(ctx context.Context) (<-chan gesture.LandmarkSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil, ErrAlreadyStarted
	}

	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan gesture.LandmarkSet, 4)
	l.started = true
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		defer close(out)
		defer f.Close()
		l.pump(ctx, f, out)
	}()
	return out, nil
}

func (l *LandmarkFile) pump(ctx context.Context, r io.Reader, out chan<- gesture.LandmarkSet) {
	var ticker *time.Ticker
	if l.Interval > 0 {
		ticker = time.NewTicker(l.Interval)
		defer ticker.Stop()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}

		set, ok, err := ParseLandmarkLine(sc.Bytes())
		if err != nil {
			slog.Warn("capture: skipping landmark line", "path", l.Path, "line", line, "err", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case out <- set:
		}
	}
	if err := sc.Err(); err != nil {
		slog.Warn("capture: landmark read error", "path", l.Path, "err", err)
	}
}

// ParseLandmarkLine decodes one recorded frame. ok is false for blank lines
// and frames without a hand.
func ParseLandmarkLine(data []byte) (set gesture.LandmarkSet, ok bool, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return set, false, nil
	}
	var pts []gesture.Point
	if err := json.Unmarshal(data, &pts); err != nil {
		return set, false, fmt.Errorf("decode landmarks: %w", err)
	}
	if len(pts) == 0 {
		return set, false, nil
	}
	if len(pts) != gesture.NumLandmarks {
		return set, false, fmt.Errorf("got %d landmarks, want %d", len(pts), gesture.NumLandmarks)
	}
	copy(set[:], pts)
	return set, true, nil
}

// Close stops delivery and releases the file. It is idempotent.
func (l *LandmarkFile) Close() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
