package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// WAVHeaderSize is the size of the canonical PCM WAV header in bytes.
const WAVHeaderSize = 44

const (
	wavFmtChunkSize  = 16
	wavFormatPCM     = 1
	wavChannels      = 1
	wavBitsPerSample = 16
	wavBlockAlign    = wavChannels * wavBitsPerSample / 8
)

var (
	// ErrOddLength is returned when a PCM16 payload has an odd byte count and
	// therefore cannot hold whole samples.
	ErrOddLength = errors.New("audio: odd byte count in PCM16 payload")

	// ErrInvalidWAV is returned by [ParseWAVHeader] for data that is not a
	// canonical mono PCM16 WAV container.
	ErrInvalidWAV = errors.New("audio: invalid WAV container")
)

// EncodeWAV wraps little-endian mono PCM16 bytes in a canonical 44-byte WAV
// header at sampleRate. The output is a pure function of its inputs.
//
// The RIFF size field is len(pcm)+36 (total file size minus 8) and the data
// chunk size is exactly len(pcm).
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}

	out := make([]byte, WAVHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], wavFmtChunkSize)
	le.PutUint16(out[20:22], wavFormatPCM)
	le.PutUint16(out[22:24], wavChannels)
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(sampleRate*wavBlockAlign))
	le.PutUint16(out[32:34], wavBlockAlign)
	le.PutUint16(out[34:36], wavBitsPerSample)

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[WAVHeaderSize:], pcm)

	return out, nil
}

// WAVInfo describes a parsed WAV header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	ByteRate      int
	BlockAlign    int
	RIFFSize      int
	DataSize      int
}

// Duration returns the playback length of the data chunk.
func (i WAVInfo) Duration() time.Duration {
	if i.ByteRate <= 0 {
		return 0
	}
	return time.Duration(i.DataSize) * time.Second / time.Duration(i.ByteRate)
}

// ParseWAVHeader validates a canonical mono PCM16 WAV container and returns
// its header fields. Only the layout produced by [EncodeWAV] is accepted.
func ParseWAVHeader(data []byte) (WAVInfo, error) {
	if len(data) < WAVHeaderSize {
		return WAVInfo{}, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInvalidWAV, WAVHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("%w: missing RIFF/WAVE tags", ErrInvalidWAV)
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return WAVInfo{}, fmt.Errorf("%w: missing fmt or data chunk", ErrInvalidWAV)
	}

	le := binary.LittleEndian
	if f := le.Uint16(data[20:22]); f != wavFormatPCM {
		return WAVInfo{}, fmt.Errorf("%w: audio format %d is not PCM", ErrInvalidWAV, f)
	}
	info := WAVInfo{
		Channels:      int(le.Uint16(data[22:24])),
		SampleRate:    int(le.Uint32(data[24:28])),
		ByteRate:      int(le.Uint32(data[28:32])),
		BlockAlign:    int(le.Uint16(data[32:34])),
		BitsPerSample: int(le.Uint16(data[34:36])),
		RIFFSize:      int(le.Uint32(data[4:8])),
		DataSize:      int(le.Uint32(data[40:44])),
	}
	if info.DataSize != len(data)-WAVHeaderSize {
		return WAVInfo{}, fmt.Errorf("%w: data size %d does not match payload %d", ErrInvalidWAV, info.DataSize, len(data)-WAVHeaderSize)
	}
	return info, nil
}

// Decoder reconstructs playable containers from PCM replies at a fixed
// playback rate.
type Decoder struct {
	SampleRate int
}

// NewDecoder returns a Decoder for the given playback rate.
func NewDecoder(sampleRate int) *Decoder {
	return &Decoder{SampleRate: sampleRate}
}

// Decode wraps a headerless PCM16 reply in a WAV container. Replies that
// already carry a RIFF header are re-validated and passed through unchanged.
func (d *Decoder) Decode(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("audio: empty PCM payload")
	}
	if len(pcm) >= WAVHeaderSize && string(pcm[0:4]) == "RIFF" {
		if _, err := ParseWAVHeader(pcm); err != nil {
			return nil, err
		}
		return pcm, nil
	}
	return EncodeWAV(pcm, d.SampleRate)
}
