// Package mock provides in-memory test doubles for the playback and capture
// boundaries of the audio pipeline.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on order and counts, and they expose exported fields that the
// test can set to control behaviour.
//
// Typical usage:
//
//	sink := mock.NewSink()
//	sink.Gate = make(chan struct{})     // each Play waits for a release
//	q := playback.New(sink)
//	q.Enqueue(&playback.Item{ID: "a"})
//	<-sink.Started                      // "a" is rendering
//	sink.Gate <- struct{}{}             // "a" completes
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/avatarlive/pkg/audio"
	"github.com/MrWong99/avatarlive/pkg/audio/playback"
	"github.com/MrWong99/avatarlive/pkg/capture"
	"github.com/MrWong99/avatarlive/pkg/gesture"
)

// Compile-time interface assertions.
var (
	_ playback.Sink          = (*Sink)(nil)
	_ capture.AudioSource    = (*AudioSource)(nil)
	_ capture.LandmarkSource = (*LandmarkSource)(nil)
)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [playback.Sink].
type Sink struct {
	mu sync.Mutex

	// Gate, when non-nil, makes every Play wait for one receive before it
	// returns (or for ctx to be cancelled).
	Gate chan struct{}

	// Started receives each item as Play begins. Buffered by NewSink.
	Started chan *playback.Item

	// PlayError, when non-nil, is consulted for each item; a non-nil result
	// is returned from Play after the gate has been passed.
	PlayError func(item *playback.Item) error

	played    []*playback.Item
	active    int
	maxActive int
	cancelled int
}

// NewSink returns a Sink with a buffered Started channel.
func NewSink() *Sink {
	return &Sink{Started: make(chan *playback.Item, 64)}
}

// Play implements [playback.Sink].
func (s *Sink) Play(ctx context.Context, item *playback.Item) error {
	s.mu.Lock()
	s.played = append(s.played, item)
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	gate, started, playErr := s.Gate, s.Started, s.PlayError
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if started != nil {
		select {
		case started <- item:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			s.mu.Lock()
			s.cancelled++
			s.mu.Unlock()
			return ctx.Err()
		}
	}
	if playErr != nil {
		return playErr(item)
	}
	return nil
}

// Played returns the items passed to Play, in call order.
func (s *Sink) Played() []*playback.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*playback.Item, len(s.played))
	copy(out, s.played)
	return out
}

// PlayedIDs returns the IDs of the items passed to Play, in call order.
func (s *Sink) PlayedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.played))
	for i, it := range s.played {
		ids[i] = it.ID
	}
	return ids
}

// MaxConcurrent returns the highest number of overlapping Play calls seen.
func (s *Sink) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// Cancelled returns how many Play calls ended through context cancellation.
func (s *Sink) Cancelled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// ─── Capture sources ──────────────────────────────────────────────────────────

// AudioSource is a mock implementation of [capture.AudioSource]. Tests push
// blocks through Blocks; the channel returned by Start is Blocks itself.
type AudioSource struct {
	mu sync.Mutex

	// Blocks is returned by Start. The test owns it and closes it.
	Blocks chan audio.Block

	// StartError is returned by Start when non-nil.
	StartError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Start implements [capture.AudioSource].
func (s *AudioSource) Start(_ context.Context) (<-chan audio.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return nil, s.StartError
	}
	if s.Blocks == nil {
		return nil, errors.Join(capture.ErrDeviceUnavailable, errors.New("mock: no block channel"))
	}
	return s.Blocks, nil
}

// Close implements [capture.AudioSource].
func (s *AudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Closed reports whether Close was called at least once.
func (s *AudioSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// LandmarkSource is a mock implementation of [capture.LandmarkSource].
type LandmarkSource struct {
	mu sync.Mutex

	// Frames is returned by Start. The test owns it and closes it.
	Frames chan gesture.LandmarkSet

	// StartError is returned by Start when non-nil.
	StartError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Start implements [capture.LandmarkSource].
func (s *LandmarkSource) Start(_ context.Context) (<-chan gesture.LandmarkSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartError != nil {
		return nil, s.StartError
	}
	if s.Frames == nil {
		return nil, errors.Join(capture.ErrDeviceUnavailable, errors.New("mock: no frame channel"))
	}
	return s.Frames, nil
}

// Close implements [capture.LandmarkSource].
func (s *LandmarkSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Closed reports whether Close was called at least once.
func (s *LandmarkSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}
