// Package live implements a streaming session against the Gemini Live
// BidiGenerateContent endpoint.
//
// A [Session] owns one duplex channel. It sends the setup message first,
// then forwards text and PCM16 audio frames through a bounded outbound buffer
// drained by a single writer goroutine, and decodes inbound payloads into
// [Message] values delivered in order on [Session.Inbound]. Sends never block
// on the network: when the session is not ready or the buffer is full the
// message is dropped and an error returned.
//
// There is no reconnection. Any transport failure moves the session to
// [StateClosed] for good.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/avatarlive/pkg/audio"
	"github.com/MrWong99/avatarlive/pkg/transport"
	"github.com/MrWong99/avatarlive/pkg/transport/websocket"
)

const (
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	DefaultModel   = "gemini-2.0-flash-live-001"

	endpointPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultSetupTimeout      = 10 * time.Second
	defaultOutboundBuffer    = 64
	defaultInboundBuffer     = 64
	defaultKeepaliveInterval = 20 * time.Second
	keepaliveTimeout         = 5 * time.Second
)

// State is the lifecycle position of a [Session].
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config describes one session. The zero value of every field selects a
// default.
type Config struct {
	// BaseURL of the WebSocket endpoint, without the RPC path.
	BaseURL string

	// Model id, with or without the "models/" prefix.
	Model string

	// Modality of the model's replies.
	Modality Modality

	// Instructions is the optional system instruction.
	Instructions string

	// Voice is the optional prebuilt voice name for audio replies.
	Voice string

	// CaptureRate labels outbound audio frames that carry no rate of their own.
	CaptureRate int

	// AwaitSetupAck makes Open block until the server acknowledges setup and
	// keeps the session out of Ready until then. Use [DefaultConfig] to get it
	// enabled.
	AwaitSetupAck bool

	// SetupTimeout bounds the wait for the acknowledgement.
	SetupTimeout time.Duration

	// OutboundBuffer is the capacity of the send buffer.
	OutboundBuffer int

	// InboundBuffer is the capacity of the Inbound channel.
	InboundBuffer int

	// KeepaliveInterval between pings. Negative disables pings.
	KeepaliveInterval time.Duration
}

// DefaultConfig returns a Config for the default model with audio replies.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Model:         DefaultModel,
		Modality:      ModalityAudio,
		CaptureRate:   audio.DefaultCaptureRate,
		AwaitSetupAck: true,
	}
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Modality == "" {
		c.Modality = ModalityAudio
	}
	if c.CaptureRate <= 0 {
		c.CaptureRate = audio.DefaultCaptureRate
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = defaultOutboundBuffer
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = defaultInboundBuffer
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = defaultKeepaliveInterval
	}
}

// Option configures a [Session].
type Option func(*Session)

// WithDialer replaces the WebSocket dialer. Primarily used in tests.
func WithDialer(d transport.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithErrorHandler registers a callback for non-fatal errors: payloads that
// fail to decode (*DecodeError) and error objects sent by the server
// (*ServerError). It is called from the reader goroutine and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Session) { s.onError = fn }
}

// Session is one streaming session. Create it with [New]; a Session is
// opened at most once.
type Session struct {
	id      string
	cfg     Config
	dialer  transport.Dialer
	onError func(error)
	log     *slog.Logger

	state atomic.Int32

	mu   sync.Mutex
	conn transport.Conn
	err  error

	out   chan []byte
	in    chan Message
	ready chan struct{}
	done  chan struct{}

	readyOnce sync.Once
	inOnce    sync.Once
	doneOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an Idle session.
func New(cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		dialer: &websocket.Dialer{},
		out:    make(chan []byte, cfg.OutboundBuffer),
		in:     make(chan Message, cfg.InboundBuffer),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = slog.With("session_id", s.id)
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Ready returns a channel closed when the session becomes Ready.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done returns a channel closed once the session is Closed and its
// goroutines have exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Inbound returns the channel of decoded server messages. It is closed when
// the session ends.
func (s *Session) Inbound() <-chan Message { return s.in }

// Err returns why the session closed: nil after a local Close,
// ErrTransportClosed after a clean remote closure, or a *TransportError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Open connects with credential, writes the setup message and starts the
// session's goroutines. With AwaitSetupAck it returns once the server has
// acknowledged setup.
func (s *Session) Open(ctx context.Context, credential string) error {
	if credential == "" {
		return ErrCredentialMissing
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrAlreadyOpened
	}

	endpoint := s.endpoint(credential)
	s.log.Info("live: connecting", "url", redact(endpoint), "model", s.cfg.Model, "modality", s.cfg.Modality)

	// Close must be able to abort a dial or setup write that is still in
	// flight, so both run on a context tied to the session as well.
	dctx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	defer context.AfterFunc(s.ctx, cancelDial)()

	conn, err := s.dialer.Dial(dctx, endpoint)
	if err != nil {
		if s.State() == StateClosed {
			// Closed while dialling.
			s.finish()
			return ErrNotReady
		}
		terr := &TransportError{Op: "dial", Err: err}
		s.fail(terr)
		s.finish()
		return terr
	}

	s.mu.Lock()
	if s.State() == StateClosed {
		// Closed while dialling.
		s.mu.Unlock()
		_ = conn.Close()
		s.finish()
		return ErrNotReady
	}
	s.conn = conn
	s.mu.Unlock()

	setup, err := Encode(Message{
		Kind:         KindSetup,
		Model:        s.cfg.Model,
		Modality:     s.cfg.Modality,
		Instructions: s.cfg.Instructions,
		Voice:        s.cfg.Voice,
	})
	if err != nil {
		s.fail(err)
		s.finish()
		return err
	}
	if err := conn.Write(dctx, transport.MessageText, setup); err != nil {
		terr := &TransportError{Op: "setup", Err: err}
		s.fail(terr)
		s.finish()
		return terr
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	if s.cfg.KeepaliveInterval > 0 {
		s.wg.Add(1)
		go s.keepaliveLoop()
	}
	go s.finish()

	if !s.cfg.AwaitSetupAck {
		s.markReady()
		return nil
	}

	timer := time.NewTimer(s.cfg.SetupTimeout)
	defer timer.Stop()
	select {
	case <-s.ready:
		return nil
	case <-s.ctx.Done():
		if err := s.Err(); err != nil {
			return err
		}
		return ErrNotReady
	case <-ctx.Done():
		s.fail(ctx.Err())
		return ctx.Err()
	case <-timer.C:
		s.fail(ErrSetupTimeout)
		return ErrSetupTimeout
	}
}

// SendText queues a text input. It never blocks.
func (s *Session) SendText(text string) error {
	return s.send(Message{Kind: KindTextInput, Text: text})
}

// SendAudioFrame queues one PCM16 frame. It never blocks.
func (s *Session) SendAudioFrame(f audio.AudioFrame) error {
	rate := f.SampleRate
	if rate <= 0 {
		rate = s.cfg.CaptureRate
	}
	return s.send(Message{Kind: KindAudioInput, Audio: f.Data, SampleRate: rate})
}

func (s *Session) send(m Message) error {
	if s.State() != StateReady {
		s.log.Debug("live: dropping message, session not ready", "kind", m.Kind, "state", s.State())
		return ErrNotReady
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	select {
	case s.out <- data:
		return nil
	default:
		s.log.Warn("live: dropping message, outbound buffer full", "kind", m.Kind)
		return ErrOutboundFull
	}
}

// Close ends the session and waits for its goroutines. It is idempotent and
// leaves Err nil unless the session had already failed.
func (s *Session) Close() error {
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateClosed)) {
		s.cancel()
		s.inOnce.Do(func() { close(s.in) })
		s.doneOnce.Do(func() { close(s.done) })
		return nil
	}
	s.fail(nil)
	<-s.done
	return nil
}

// fail moves the session to Closed exactly once, recording err as the cause.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if State(s.state.Swap(int32(StateClosed))) == StateClosed {
		s.mu.Unlock()
		return
	}
	s.err = err
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if err != nil {
		s.log.Warn("live: session closed", "err", err)
	} else {
		s.log.Info("live: session closed")
	}
}

// finish waits for the goroutines, then releases Inbound and Done.
func (s *Session) finish() {
	s.wg.Wait()
	s.inOnce.Do(func() { close(s.in) })
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) markReady() {
	if s.state.CompareAndSwap(int32(StateConnecting), int32(StateReady)) {
		s.readyOnce.Do(func() { close(s.ready) })
		s.log.Info("live: session ready")
	}
}

// readLoop decodes inbound payloads until the channel fails or the session
// is closed.
func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrClosed) {
				s.fail(fmt.Errorf("%w: %w", ErrTransportClosed, err))
			} else {
				s.fail(&TransportError{Op: "read", Err: err})
			}
			return
		}

		msgs, err := Parse(data)
		if err != nil {
			s.reportError(err)
			var de *DecodeError
			if errors.As(err, &de) {
				continue
			}
		}
		for _, m := range msgs {
			if m.Kind == KindSetupAck {
				s.markReady()
			}
			select {
			case s.in <- m:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Session) reportError(err error) {
	var se *ServerError
	if errors.As(err, &se) {
		s.log.Error("live: server error", "code", se.Code, "status", se.Status, "message", se.Message)
	} else {
		s.log.Warn("live: dropping undecodable payload", "err", err)
	}
	if s.onError != nil {
		s.onError(err)
	}
}

// writeLoop is the only writer of data messages, which keeps them in the
// order they were queued.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.out:
			if err := s.conn.Write(s.ctx, transport.MessageText, data); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				if errors.Is(err, transport.ErrClosed) {
					s.fail(fmt.Errorf("%w: %w", ErrTransportClosed, err))
				} else {
					s.fail(&TransportError{Op: "write", Err: err})
				}
				return
			}
		}
	}
}

// keepaliveLoop pings the server so idle sessions are not dropped.
func (s *Session) keepaliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(ctx); err != nil && s.ctx.Err() == nil {
				s.log.Debug("live: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (s *Session) endpoint(credential string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + endpointPath + "?key=" + url.QueryEscape(credential)
}

// redact hides the key query parameter of u for logging.
func redact(u string) string {
	base, query, ok := strings.Cut(u, "?")
	if !ok {
		return u
	}
	vals, err := url.ParseQuery(query)
	if err != nil {
		return base + "?REDACTED"
	}
	if vals.Has("key") {
		vals.Set("key", "REDACTED")
	}
	return base + "?" + vals.Encode()
}
