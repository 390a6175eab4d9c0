package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"

	"github.com/MrWong99/avatarlive/pkg/audio"
)

// resampleQuality is passed to beep.Resample. 4 is beep's recommended
// default for speech.
const resampleQuality = 4

var _ AudioSource = (*WAVFile)(nil)

// WAVFile replays a WAV recording as a microphone. Stereo input is downmixed
// and any source rate is resampled to Rate. Blocks are BlockSize samples long;
// a short final block is delivered as is.
type WAVFile struct {
	// Path to the recording.
	Path string

	// Rate is the sample rate of delivered blocks.
	Rate int

	// BlockSize is the number of samples per block.
	BlockSize int

	// Realtime paces delivery at one block per block duration, like a live
	// device. Without it blocks are delivered as fast as the consumer reads.
	Realtime bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWAVFile returns a WAVFile source with the given parameters. Zero rate or
// block size select the package defaults.
func NewWAVFile(path string, rate, blockSize int, realtime bool) *WAVFile {
	if rate <= 0 {
		rate = audio.DefaultCaptureRate
	}
	if blockSize <= 0 {
		blockSize = audio.DefaultBlockSize
	}
	return &WAVFile{Path: path, Rate: rate, BlockSize: blockSize, Realtime: realtime}
}

// Start opens and decodes the recording and begins delivering blocks.
func (w *WAVFile) Start(ctx context.Context) (<-chan audio.Block, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil, ErrAlreadyStarted
	}

	f, err := os.Open(w.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	stream, format, err := wav.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: decode %q: %w", ErrDeviceUnavailable, w.Path, err)
	}

	var src beep.Streamer = stream
	target := beep.SampleRate(w.Rate)
	if format.SampleRate != target {
		src = beep.Resample(resampleQuality, format.SampleRate, target, stream)
	}

	slog.Debug("capture: wav source opened",
		"path", w.Path,
		"source_rate", int(format.SampleRate),
		"channels", format.NumChannels,
		"rate", w.Rate,
		"block_size", w.BlockSize,
	)

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan audio.Block, 4)
	w.started = true
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		defer close(out)
		defer stream.Close()
		w.pump(ctx, src, format.NumChannels, pcmGain(format.Precision), out)
	}()
	return out, nil
}

// pcmGain undoes the scale of beep's wav decoder, which divides signed
// samples by 2^(8*precision)-1 and so delivers 16 and 24-bit recordings at
// half amplitude. The result maps full scale onto 2^(8*precision-1)-1, the
// same convention as [audio.DecodePCM16], so a PCM16 recording re-encodes to
// identical samples. Unsigned 8-bit samples are decoded correctly.
func pcmGain(precision int) float64 {
	if precision < 2 {
		return 1
	}
	bits := uint(8 * precision)
	return float64(uint64(1)<<bits-1) / float64(uint64(1)<<(bits-1)-1)
}

func (w *WAVFile) pump(ctx context.Context, src beep.Streamer, channels int, gain float64, out chan<- audio.Block) {
	buf := make([][2]float64, w.BlockSize)
	blockDur := beep.SampleRate(w.Rate).D(w.BlockSize)

	var ticker *time.Ticker
	if w.Realtime {
		ticker = time.NewTicker(blockDur)
		defer ticker.Stop()
	}

	for {
		n, ok := fill(src, buf)
		if n > 0 {
			block := make(audio.Block, n)
			for i := range n {
				v := buf[i][0]
				if channels >= 2 {
					v = (buf[i][0] + buf[i][1]) / 2
				}
				block[i] = float32(v * gain)
			}
			if ticker != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- block:
			}
		}
		if !ok {
			if err := src.Err(); err != nil {
				slog.Warn("capture: wav stream error", "path", w.Path, "err", err)
			}
			return
		}
	}
}

// fill reads from s until buf is full or the stream ends. Streamers may
// return short reads before they are drained, so one Stream call is not
// enough to build a full block.
func fill(s beep.Streamer, buf [][2]float64) (int, bool) {
	total := 0
	for total < len(buf) {
		n, ok := s.Stream(buf[total:])
		total += n
		if !ok {
			return total, false
		}
	}
	return total, true
}

// Close stops delivery and releases the file. It is idempotent.
func (w *WAVFile) Close() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
