// Package app wires the avatarlive subsystems into a running pipeline.
//
// The Orchestrator owns one live session, one playback queue and the gesture
// state. New builds everything from the config, Run opens the session and
// drives three loops until the session ends or ctx is cancelled, and Stop
// tears everything down.
//
// For testing, inject doubles via functional options (WithDialer,
// WithAudioSource, WithSink, etc.). When an option is not provided, New
// creates the file-backed implementations named by the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/avatarlive/internal/config"
	"github.com/MrWong99/avatarlive/internal/observe"
	"github.com/MrWong99/avatarlive/pkg/audio"
	"github.com/MrWong99/avatarlive/pkg/audio/playback"
	"github.com/MrWong99/avatarlive/pkg/capture"
	"github.com/MrWong99/avatarlive/pkg/gesture"
	"github.com/MrWong99/avatarlive/pkg/live"
	"github.com/MrWong99/avatarlive/pkg/transport"
)

// Orchestrator runs the capture, gesture and reply loops around a single
// [live.Session]. All exported methods are safe for concurrent use.
type Orchestrator struct {
	cfg     *config.Config
	metrics *observe.Metrics
	events  EventSink
	sink    playback.Sink
	now     func() time.Time

	audioSrc    capture.AudioSource
	landmarkSrc capture.LandmarkSource
	dialer      transport.Dialer

	session    *live.Session
	encoder    *audio.Encoder
	decoder    *audio.Decoder
	classifier atomic.Pointer[gesture.Classifier]
	debouncer  *gesture.Debouncer
	queue      *playback.Queue

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*Orchestrator)

// WithMetrics records pipeline metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEventSink delivers transcripts and gestures to s instead of a [LogSink].
func WithEventSink(s EventSink) Option {
	return func(o *Orchestrator) { o.events = s }
}

// WithSink renders replies on s instead of a [playback.FileSink].
func WithSink(s playback.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithAudioSource injects the microphone instead of the configured WAV file.
func WithAudioSource(s capture.AudioSource) Option {
	return func(o *Orchestrator) { o.audioSrc = s }
}

// WithLandmarkSource injects the hand tracker instead of the configured
// landmark recording.
func WithLandmarkSource(s capture.LandmarkSource) Option {
	return func(o *Orchestrator) { o.landmarkSrc = s }
}

// WithDialer replaces the session's WebSocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(o *Orchestrator) { o.dialer = d }
}

// WithClock replaces the time source used for gesture debouncing.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator from cfg. The session is created but not
// opened; call [Orchestrator.Run].
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.events == nil {
		o.events = &LogSink{}
	}
	if o.sink == nil {
		o.sink = playback.NewFileSink(cfg.Audio.OutputDir, cfg.Audio.Realtime)
	}
	if o.audioSrc == nil && cfg.Audio.Input != "" {
		o.audioSrc = capture.NewWAVFile(cfg.Audio.Input, cfg.Audio.CaptureRate, cfg.Audio.BlockSize, cfg.Audio.Realtime)
	}
	if o.landmarkSrc == nil && cfg.Gesture.Landmarks != "" {
		o.landmarkSrc = capture.NewLandmarkFile(cfg.Gesture.Landmarks, cfg.Gesture.FrameInterval)
	}

	sessOpts := []live.Option{live.WithErrorHandler(o.sessionError)}
	if o.dialer != nil {
		sessOpts = append(sessOpts, live.WithDialer(o.dialer))
	}
	o.session = live.New(cfg.Live.SessionConfig(cfg.Audio.CaptureRate), sessOpts...)

	o.encoder = audio.NewEncoder(cfg.Audio.CaptureRate, cfg.Audio.BlockSize)
	o.decoder = audio.NewDecoder(cfg.Audio.PlaybackRate)
	o.classifier.Store(gesture.NewClassifier(cfg.Gesture.Thresholds))
	o.debouncer = gesture.NewDebouncer(cfg.Gesture.Timing)
	o.queue = playback.New(o.sink,
		playback.WithOnPlayed(o.played),
		playback.WithOnDiscarded(o.discarded),
	)
	return o
}

// Session returns the live session. It is never nil.
func (o *Orchestrator) Session() *live.Session { return o.session }

// Run opens the session with credential and runs the pipeline loops. It
// returns when the session ends, when ctx is cancelled, or when a loop fails.
// A session that ends through [Orchestrator.Stop] yields nil.
//
// Run may only be called once.
func (o *Orchestrator) Run(ctx context.Context, credential string) error {
	ctx = observe.WithSessionID(ctx, o.session.ID())
	ctx, span := observe.StartSpan(ctx, "app.run")
	defer span.End()
	log := observe.Logger(ctx)

	if err := o.session.Open(ctx, credential); err != nil {
		return fmt.Errorf("app: open session: %w", err)
	}
	o.metrics.ActiveSessions.Add(ctx, 1)
	defer o.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	log.Info("app: session ready", "model", o.session.Config().Model)

	var blocks <-chan audio.Block
	if o.audioSrc != nil {
		ch, err := o.audioSrc.Start(ctx)
		if err != nil {
			return fmt.Errorf("app: start audio capture: %w", err)
		}
		blocks = ch
	}
	var frames <-chan gesture.LandmarkSet
	if o.landmarkSrc != nil {
		ch, err := o.landmarkSrc.Start(ctx)
		if err != nil {
			return fmt.Errorf("app: start landmark capture: %w", err)
		}
		frames = ch
	}

	g, gctx := errgroup.WithContext(ctx)
	if blocks != nil {
		g.Go(func() error { return o.captureLoop(gctx, blocks) })
	}
	if frames != nil {
		g.Go(func() error { return o.landmarkLoop(gctx, frames) })
	}
	g.Go(func() error { return o.inboundLoop(gctx) })

	err := g.Wait()
	switch {
	case err == nil:
		log.Info("app: session ended")
	case errors.Is(err, context.Canceled):
		log.Info("app: run cancelled")
	default:
		log.Error("app: session failed", "err", err)
	}
	return err
}

// captureLoop turns capture blocks into frames and hands them to the session.
func (o *Orchestrator) captureLoop(ctx context.Context, blocks <-chan audio.Block) error {
	var offset time.Duration
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.session.Done():
			return nil
		case b, ok := <-blocks:
			if !ok {
				slog.Info("app: audio capture ended")
				return nil
			}
			start := time.Now()
			frame, err := o.encoder.Encode(b, offset)
			o.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds())
			if o.encoder.SampleRate > 0 {
				offset += time.Duration(len(b)) * time.Second / time.Duration(o.encoder.SampleRate)
			}
			if err != nil {
				slog.Warn("app: dropping capture block", "samples", len(b), "err", err)
				o.metrics.RecordFrameDropped(ctx, "audio", "oversize")
				continue
			}
			if err := o.session.SendAudioFrame(frame); err != nil {
				o.metrics.RecordFrameDropped(ctx, "audio", dropReason(err))
				continue
			}
			o.metrics.RecordFrameSent(ctx, "audio")
		}
	}
}

// landmarkLoop classifies hand frames and forwards emitted gestures.
func (o *Orchestrator) landmarkLoop(ctx context.Context, frames <-chan gesture.LandmarkSet) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.session.Done():
			return nil
		case set, ok := <-frames:
			if !ok {
				slog.Info("app: landmark capture ended")
				return nil
			}
			label := o.classifier.Load().Classify(&set)
			ev, decision := o.debouncer.Observe(label, o.now())
			o.metrics.RecordGesture(ctx, string(label), decision.String())
			if decision != gesture.Emitted {
				continue
			}
			o.events.Gesture(ev)
			if o.cfg.Gesture.SpeakGestures {
				_ = o.SendText(ctx, gesturePrompt(ev))
			}
		}
	}
}

// inboundLoop routes replies until the session's inbound channel closes.
func (o *Orchestrator) inboundLoop(ctx context.Context) error {
	in := o.session.Inbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-in:
			if !ok {
				return o.session.Err()
			}
			o.handleReply(ctx, m)
		}
	}
}

func (o *Orchestrator) handleReply(ctx context.Context, m live.Message) {
	switch m.Kind {
	case live.KindTextReply:
		o.metrics.RecordReply(ctx, "text")
		o.events.Transcript(m.Sender, m.Text)
	case live.KindAudioReply:
		o.metrics.RecordReply(ctx, "audio")
		dec := o.decoder
		if m.SampleRate > 0 && m.SampleRate != dec.SampleRate {
			dec = audio.NewDecoder(m.SampleRate)
		}
		container, err := dec.Decode(m.Audio)
		if err != nil {
			slog.Warn("app: dropping undecodable reply", "bytes", len(m.Audio), "raw", m.Raw, "err", err)
			o.metrics.RecordDecodeFailure(ctx, "container")
			return
		}
		item := &playback.Item{ID: uuid.NewString(), Container: container, SampleRate: dec.SampleRate}
		seq, ok := o.queue.Enqueue(item)
		if !ok {
			slog.Debug("app: playback closed, reply discarded", "item", item.ID)
			return
		}
		o.metrics.QueueDepth.Add(ctx, 1)
		slog.Debug("app: reply queued", "item", item.ID, "seq", seq, "bytes", len(container))
	default:
		slog.Debug("app: ignoring inbound message", "kind", m.Kind)
	}
}

// played is the queue's completion hook.
func (o *Orchestrator) played(item *playback.Item, d time.Duration, err error) {
	ctx := context.Background()
	o.metrics.QueueDepth.Add(ctx, -1)
	o.metrics.RecordPlayback(ctx, d.Seconds(), err == nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		o.metrics.RecordDecodeFailure(ctx, "playback")
	}
}

// discarded balances QueueDepth for replies abandoned by Stop.
func (o *Orchestrator) discarded(n int) {
	o.metrics.QueueDepth.Add(context.Background(), -int64(n))
}

// sessionError receives the session's non-fatal errors. The session has
// already logged them.
func (o *Orchestrator) sessionError(err error) {
	var de *live.DecodeError
	if errors.As(err, &de) {
		o.metrics.RecordDecodeFailure(context.Background(), "wire")
	}
}

// SendText forwards user text to the model. Failures are counted and
// returned; they never end the session.
func (o *Orchestrator) SendText(ctx context.Context, text string) error {
	if err := o.session.SendText(text); err != nil {
		o.metrics.RecordFrameDropped(ctx, "text", dropReason(err))
		return err
	}
	o.metrics.RecordFrameSent(ctx, "text")
	return nil
}

// ApplyGestureTuning replaces the classifier thresholds and debounce timings
// of the running pipeline.
func (o *Orchestrator) ApplyGestureTuning(th gesture.Thresholds, t gesture.Timing) {
	o.classifier.Store(gesture.NewClassifier(th))
	o.debouncer.SetTiming(t)
	slog.Info("app: gesture tuning applied",
		"thumb_margin", th.ThumbMargin,
		"point_margin", th.PointMargin,
		"ok_distance", th.OKDistance,
		"reaffirm", t.ReaffirmInterval,
		"cooldown", t.Cooldown,
	)
}

// Stop releases the capture sources, closes the session and abandons
// playback. Queued replies are discarded. Safe to call more than once and
// concurrently with Run, which then returns.
func (o *Orchestrator) Stop() error {
	o.stopOnce.Do(func() {
		var errs []error
		if o.audioSrc != nil {
			if err := o.audioSrc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close audio capture: %w", err))
			}
		}
		if o.landmarkSrc != nil {
			if err := o.landmarkSrc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close landmark capture: %w", err))
			}
		}
		if err := o.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
		if err := o.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close playback: %w", err))
		}
		// Inbound closes once the read loop has exited.
		for range o.session.Inbound() {
		}
		if len(errs) > 0 {
			o.stopErr = fmt.Errorf("app: stop: %w", errors.Join(errs...))
		}
		slog.Info("app: stopped")
	})
	return o.stopErr
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, live.ErrNotReady):
		return "not_ready"
	case errors.Is(err, live.ErrOutboundFull):
		return "backpressure"
	default:
		return "error"
	}
}

// gesturePrompt describes an emitted gesture to the model.
func gesturePrompt(ev gesture.Event) string {
	name := strings.ReplaceAll(string(ev.Label), "_", " ")
	return fmt.Sprintf("[gesture] The user is showing a %s (%s). They seem %s; react briefly.",
		name, strings.ToLower(ev.Label.Description()), ev.Emotion)
}
