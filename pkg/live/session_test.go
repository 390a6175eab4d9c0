package live_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/avatarlive/pkg/audio"
	"github.com/MrWong99/avatarlive/pkg/live"
	"github.com/MrWong99/avatarlive/pkg/transport"
	"github.com/MrWong99/avatarlive/pkg/transport/mock"
)

func newMockSession(t *testing.T, cfg live.Config, opts ...live.Option) (*live.Session, *mock.Dialer, *mock.Conn) {
	t.Helper()
	conn := mock.NewConn()
	dialer := &mock.Dialer{Conn: conn}
	s := live.New(cfg, append([]live.Option{live.WithDialer(dialer)}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s, dialer, conn
}

// nextClient reads the next frame written by the session and decodes it.
func nextClient(t *testing.T, conn *mock.Conn) live.Message {
	t.Helper()
	f, err := conn.Next(2 * time.Second)
	if err != nil {
		t.Fatalf("waiting for client frame: %v", err)
	}
	m, err := live.ParseClientMessage(f.Data)
	if err != nil {
		t.Fatalf("ParseClientMessage(%s): %v", f.Data, err)
	}
	return m
}

func recvInbound(t *testing.T, s *live.Session) live.Message {
	t.Helper()
	select {
	case m, ok := <-s.Inbound():
		if !ok {
			t.Fatal("inbound closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for inbound message")
		return live.Message{}
	}
}

func waitDone(t *testing.T, s *live.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestOpen_CredentialMissing(t *testing.T) {
	t.Parallel()
	s, dialer, _ := newMockSession(t, live.DefaultConfig())

	err := s.Open(context.Background(), "")
	if !errors.Is(err, live.ErrCredentialMissing) {
		t.Fatalf("err = %v, want ErrCredentialMissing", err)
	}
	if dialer.Calls() != 0 {
		t.Errorf("dialled %d times, want 0", dialer.Calls())
	}
	if s.State() != live.StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestOpen_SetupFirstThenOneAudioFrame(t *testing.T) {
	t.Parallel()
	cfg := live.DefaultConfig()
	cfg.AwaitSetupAck = false
	cfg.Instructions = "be brief"
	s, dialer, conn := newMockSession(t, cfg)

	if err := s.Open(context.Background(), "secret-key"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.State() != live.StateReady {
		t.Fatalf("state = %s, want ready", s.State())
	}

	urls := dialer.URLs()
	if len(urls) != 1 || !strings.HasPrefix(urls[0], live.DefaultBaseURL+"/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=") {
		t.Fatalf("dialled %v", urls)
	}
	if !strings.HasSuffix(urls[0], "key=secret-key") {
		t.Errorf("url %q does not carry the credential", urls[0])
	}

	block := make(audio.Block, 2048)
	for i := range block {
		block[i] = 0.25
	}
	enc := audio.NewEncoder(16000, 4096)
	frame, err := enc.Encode(block, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := s.SendAudioFrame(frame); err != nil {
		t.Fatalf("SendAudioFrame: %v", err)
	}

	setup := nextClient(t, conn)
	if setup.Kind != live.KindSetup {
		t.Fatalf("first frame kind = %s, want setup", setup.Kind)
	}
	if setup.Model != "models/"+live.DefaultModel || setup.Modality != live.ModalityAudio || setup.Instructions != "be brief" {
		t.Errorf("setup = %+v", setup)
	}

	in := nextClient(t, conn)
	if in.Kind != live.KindAudioInput {
		t.Fatalf("second frame kind = %s, want audio_input", in.Kind)
	}
	if got, want := len(in.Audio), len(block)*2; got != want {
		t.Errorf("audio payload = %d bytes, want %d", got, want)
	}
	if in.SampleRate != 16000 {
		t.Errorf("rate = %d, want 16000", in.SampleRate)
	}

	if _, err := conn.Next(50 * time.Millisecond); err == nil {
		t.Error("unexpected extra frame")
	}
}

func TestOpen_AwaitsSetupAck(t *testing.T) {
	t.Parallel()
	s, _, conn := newMockSession(t, live.DefaultConfig())

	opened := make(chan error, 1)
	go func() { opened <- s.Open(context.Background(), "k") }()

	if m := nextClient(t, conn); m.Kind != live.KindSetup {
		t.Fatalf("first frame kind = %s", m.Kind)
	}
	if err := s.SendText("too early"); !errors.Is(err, live.ErrNotReady) {
		t.Errorf("SendText before ack = %v, want ErrNotReady", err)
	}
	select {
	case err := <-opened:
		t.Fatalf("Open returned before ack: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	conn.DeliverText(`{"setupComplete":{}}`)
	select {
	case err := <-opened:
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after ack")
	}
	if s.State() != live.StateReady {
		t.Errorf("state = %s, want ready", s.State())
	}
	if m := recvInbound(t, s); m.Kind != live.KindSetupAck {
		t.Errorf("first inbound = %s, want setup_ack", m.Kind)
	}

	if err := s.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if m := nextClient(t, conn); m.Kind != live.KindTextInput || m.Text != "hello" {
		t.Errorf("frame = %+v", m)
	}
}

func TestOpen_SetupTimeout(t *testing.T) {
	t.Parallel()
	cfg := live.DefaultConfig()
	cfg.SetupTimeout = 20 * time.Millisecond
	s, _, conn := newMockSession(t, cfg)

	if err := s.Open(context.Background(), "k"); !errors.Is(err, live.ErrSetupTimeout) {
		t.Fatalf("err = %v, want ErrSetupTimeout", err)
	}
	waitDone(t, s)
	if s.State() != live.StateClosed || !conn.Closed() {
		t.Errorf("state = %s, conn closed = %v", s.State(), conn.Closed())
	}
}

func TestOpen_DialError(t *testing.T) {
	t.Parallel()
	dialer := &mock.Dialer{DialError: errors.New("connection refused")}
	s := live.New(live.DefaultConfig(), live.WithDialer(dialer))

	err := s.Open(context.Background(), "k")
	var te *live.TransportError
	if !errors.As(err, &te) || te.Op != "dial" {
		t.Fatalf("err = %v, want dial *TransportError", err)
	}
	waitDone(t, s)
	if _, ok := <-s.Inbound(); ok {
		t.Error("inbound still open")
	}
	if err := s.Open(context.Background(), "k"); !errors.Is(err, live.ErrAlreadyOpened) {
		t.Errorf("reopen = %v, want ErrAlreadyOpened", err)
	}
}

func TestClose_AbortsPendingDial(t *testing.T) {
	t.Parallel()
	dialing := make(chan struct{})
	dialer := transport.DialerFunc(func(ctx context.Context, _ string) (transport.Conn, error) {
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := live.New(live.DefaultConfig(), live.WithDialer(dialer))

	opened := make(chan error, 1)
	go func() { opened <- s.Open(context.Background(), "key") }()
	<-dialing

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an in-flight dial")
	}

	select {
	case err := <-opened:
		if !errors.Is(err, live.ErrNotReady) {
			t.Errorf("Open err = %v, want ErrNotReady", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after Close")
	}
	if s.State() != live.StateClosed || s.Err() != nil {
		t.Errorf("state = %s, err = %v; want closed, nil", s.State(), s.Err())
	}
	waitDone(t, s)
}

func TestInbound_OrderAndDecodeFailures(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var reported []error

	cfg := live.DefaultConfig()
	cfg.AwaitSetupAck = false
	s, _, conn := newMockSession(t, cfg, live.WithErrorHandler(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	if err := s.Open(context.Background(), "k"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	conn.DeliverText(`{"serverContent":{"modelTurn":{"parts":[{"text":"one"}]}}}`)
	conn.DeliverText(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"###"}}]}}}`)
	conn.Deliver(transport.MessageBinary, []byte{0x01, 0x00, 0x02, 0x00})
	conn.DeliverText(`{"serverContent":{"modelTurn":{"parts":[{"text":"two"}]}}}`)

	if m := recvInbound(t, s); m.Text != "one" {
		t.Errorf("first = %+v", m)
	}
	if m := recvInbound(t, s); m.Kind != live.KindAudioReply || !m.Raw || len(m.Audio) != 4 {
		t.Errorf("second = %+v", m)
	}
	if m := recvInbound(t, s); m.Text != "two" {
		t.Errorf("third = %+v", m)
	}

	if s.State() != live.StateReady {
		t.Errorf("state = %s after decode failure, want ready", s.State())
	}
	mu.Lock()
	defer mu.Unlock()
	var de *live.DecodeError
	if len(reported) != 1 || !errors.As(reported[0], &de) {
		t.Errorf("reported = %v, want one *DecodeError", reported)
	}
}

func TestRemoteClose(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cause error
		check func(t *testing.T, err error)
	}{
		{
			name:  "clean",
			cause: nil,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, live.ErrTransportClosed) {
					t.Errorf("Err = %v, want ErrTransportClosed", err)
				}
			},
		},
		{
			name:  "failure",
			cause: errors.New("connection reset"),
			check: func(t *testing.T, err error) {
				var te *live.TransportError
				if !errors.As(err, &te) || te.Op != "read" {
					t.Errorf("Err = %v, want read *TransportError", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := live.DefaultConfig()
			cfg.AwaitSetupAck = false
			s, _, conn := newMockSession(t, cfg)
			if err := s.Open(context.Background(), "k"); err != nil {
				t.Fatalf("Open: %v", err)
			}

			conn.CloseRemote(tt.cause)
			waitDone(t, s)

			if s.State() != live.StateClosed {
				t.Errorf("state = %s, want closed", s.State())
			}
			tt.check(t, s.Err())
			if err := s.SendText("late"); !errors.Is(err, live.ErrNotReady) {
				t.Errorf("SendText after close = %v, want ErrNotReady", err)
			}
		})
	}
}

func TestWriteFailureCloses(t *testing.T) {
	t.Parallel()
	cfg := live.DefaultConfig()
	cfg.AwaitSetupAck = false
	s, _, conn := newMockSession(t, cfg)
	if err := s.Open(context.Background(), "k"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	nextClient(t, conn)

	conn.FailWrites(errors.New("broken pipe"))
	if err := s.SendText("x"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	waitDone(t, s)

	var te *live.TransportError
	if !errors.As(s.Err(), &te) || te.Op != "write" {
		t.Errorf("Err = %v, want write *TransportError", s.Err())
	}
}

func TestOutboundFull(t *testing.T) {
	t.Parallel()
	cfg := live.DefaultConfig()
	cfg.AwaitSetupAck = false
	cfg.OutboundBuffer = 1
	s, _, conn := newMockSession(t, cfg)
	if err := s.Open(context.Background(), "k"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	nextClient(t, conn)

	// The writer drains concurrently, so keep sending until the buffer
	// overflows at least once.
	sawFull := false
	for range 10000 {
		if err := s.SendText("spam"); errors.Is(err, live.ErrOutboundFull) {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Skip("writer kept up with every send")
	}
}

func TestClose_LocalLeavesErrNil(t *testing.T) {
	t.Parallel()
	cfg := live.DefaultConfig()
	cfg.AwaitSetupAck = false
	s, _, conn := newMockSession(t, cfg)
	if err := s.Open(context.Background(), "k"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.Err() != nil {
		t.Errorf("Err = %v, want nil", s.Err())
	}
	if !conn.Closed() {
		t.Error("transport not closed")
	}
	if _, ok := <-s.Inbound(); ok {
		t.Error("inbound still open")
	}
}

func TestClose_Idle(t *testing.T) {
	t.Parallel()
	s := live.New(live.DefaultConfig(), live.WithDialer(&mock.Dialer{}))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitDone(t, s)
	if err := s.Open(context.Background(), "k"); !errors.Is(err, live.ErrAlreadyOpened) {
		t.Errorf("Open after Close = %v, want ErrAlreadyOpened", err)
	}
}

func TestKeepalive(t *testing.T) {
	t.Parallel()
	cfg := live.DefaultConfig()
	cfg.AwaitSetupAck = false
	cfg.KeepaliveInterval = 5 * time.Millisecond
	s, _, conn := newMockSession(t, cfg)
	if err := s.Open(context.Background(), "k"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for conn.Pings() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.Pings() < 2 {
		t.Errorf("pings = %d, want at least 2", conn.Pings())
	}
}

// TestSession_WebSocketServer runs the session against a real WebSocket
// endpoint served by httptest.
func TestSession_WebSocketServer(t *testing.T) {
	t.Parallel()

	received := make(chan live.Message, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			m, err := live.ParseClientMessage(data)
			if err != nil {
				return
			}
			received <- m
			switch m.Kind {
			case live.KindSetup:
				_ = c.Write(ctx, websocket.MessageBinary, []byte(`{"setupComplete":{}}`))
			case live.KindTextInput:
				_ = c.Write(ctx, websocket.MessageText,
					[]byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"echo: `+m.Text+`"}]}}}`))
				_ = c.Close(websocket.StatusNormalClosure, "done")
				return
			}
		}
	}))
	defer srv.Close()

	cfg := live.DefaultConfig()
	cfg.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Modality = live.ModalityText
	s := live.New(cfg)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Open(ctx, "test-key"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m := <-received; m.Kind != live.KindSetup || m.Modality != live.ModalityText {
		t.Fatalf("server saw %+v first", m)
	}
	if m := recvInbound(t, s); m.Kind != live.KindSetupAck {
		t.Fatalf("inbound = %+v, want setup_ack", m)
	}

	if err := s.SendText("ping"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if m := recvInbound(t, s); m.Kind != live.KindTextReply || m.Text != "echo: ping" {
		t.Errorf("reply = %+v", m)
	}

	waitDone(t, s)
	if !errors.Is(s.Err(), live.ErrTransportClosed) {
		t.Errorf("Err = %v, want ErrTransportClosed", s.Err())
	}
}

func TestSession_WebSocketRejectsCredential(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := live.DefaultConfig()
	cfg.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	s := live.New(cfg)

	var te *live.TransportError
	if err := s.Open(context.Background(), "wrong"); !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if s.State() != live.StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
}
