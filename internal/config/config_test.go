package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/avatarlive/internal/config"
	"github.com/MrWong99/avatarlive/pkg/audio"
	"github.com/MrWong99/avatarlive/pkg/gesture"
	"github.com/MrWong99/avatarlive/pkg/live"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

live:
  model: gemini-2.0-flash-live-001
  modality: TEXT
  instructions: You are a cheerful avatar. Keep replies short.
  voice: Puck
  api_key_env: AVATAR_KEY
  await_setup_ack: false
  setup_timeout: 3s
  outbound_buffer: 16

audio:
  capture_rate: 16000
  playback_rate: 24000
  block_size: 1024
  input: testdata/mic.wav
  output_dir: out
  realtime: true

gesture:
  landmarks: testdata/hands.jsonl
  frame_interval: 50ms
  speak_gestures: true
  thresholds:
    thumb_margin: 0.25
    point_margin: 0.1
    ok_distance: 0.04
  timing:
    reaffirm_interval: 2s
    cooldown: 4s
`

// ── Loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Live.Modality != live.ModalityText {
		t.Errorf("live.modality: got %q, want TEXT", cfg.Live.Modality)
	}
	if cfg.Live.SetupAck() {
		t.Error("live.await_setup_ack: got true, want false")
	}
	if cfg.Live.SetupTimeout != 3*time.Second {
		t.Errorf("live.setup_timeout: got %s, want 3s", cfg.Live.SetupTimeout)
	}
	if cfg.Live.BaseURL != live.DefaultBaseURL {
		t.Errorf("live.base_url: got %q, want default", cfg.Live.BaseURL)
	}
	if cfg.Audio.BlockSize != 1024 || !cfg.Audio.Realtime {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if cfg.Gesture.FrameInterval != 50*time.Millisecond || !cfg.Gesture.SpeakGestures {
		t.Errorf("gesture: got %+v", cfg.Gesture)
	}
	want := gesture.Thresholds{ThumbMargin: 0.25, PointMargin: 0.1, OKDistance: 0.04}
	if cfg.Gesture.Thresholds != want {
		t.Errorf("gesture.thresholds: got %+v, want %+v", cfg.Gesture.Thresholds, want)
	}
	if cfg.Gesture.Timing.Cooldown != 4*time.Second {
		t.Errorf("gesture.timing.cooldown: got %s, want 4s", cfg.Gesture.Timing.Cooldown)
	}
}

func TestLoadFromReader_EmptyIsDefaults(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		if cfg.Server.LogLevel != config.LogInfo {
			t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
		}
		if cfg.Live.Model != live.DefaultModel || cfg.Live.Modality != live.ModalityAudio {
			t.Errorf("live: got model %q modality %q", cfg.Live.Model, cfg.Live.Modality)
		}
		if !cfg.Live.SetupAck() {
			t.Error("await_setup_ack should default to true")
		}
		if cfg.Live.APIKeyEnv != config.DefaultAPIKeyEnv {
			t.Errorf("api_key_env: got %q", cfg.Live.APIKeyEnv)
		}
		if cfg.Audio.CaptureRate != audio.DefaultCaptureRate || cfg.Audio.PlaybackRate != audio.DefaultPlaybackRate {
			t.Errorf("audio rates: got %d/%d", cfg.Audio.CaptureRate, cfg.Audio.PlaybackRate)
		}
		if cfg.Gesture.Thresholds != gesture.DefaultThresholds() || cfg.Gesture.Timing != gesture.DefaultTiming() {
			t.Errorf("gesture defaults: got %+v %+v", cfg.Gesture.Thresholds, cfg.Gesture.Timing)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("live:\n  modle: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "modle") {
		t.Errorf("error should mention the field, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avatarlive.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Live.Voice != "Puck" {
		t.Errorf("live.voice: got %q", cfg.Live.Voice)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLiveConfig_SessionConfig(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	sc := cfg.Live.SessionConfig(cfg.Audio.CaptureRate)
	if sc.Model != cfg.Live.Model || sc.Modality != live.ModalityText || sc.Voice != "Puck" {
		t.Errorf("session config: got %+v", sc)
	}
	if sc.AwaitSetupAck || sc.CaptureRate != 16000 || sc.OutboundBuffer != 16 {
		t.Errorf("session config: got %+v", sc)
	}
}

// ── Credential ───────────────────────────────────────────────────────────────

func TestCredential(t *testing.T) {
	t.Setenv("AVATAR_KEY", "from-env")

	cfg := config.Default()
	cfg.Live.APIKeyEnv = "AVATAR_KEY"
	if got := cfg.Credential(); got != "from-env" {
		t.Errorf("env credential: got %q", got)
	}

	cfg.Live.APIKey = "inline"
	if got := cfg.Credential(); got != "inline" {
		t.Errorf("inline credential should win, got %q", got)
	}

	cfg.Live.APIKey = ""
	cfg.Live.APIKeyEnv = "AVATAR_KEY_UNSET_FOR_TEST"
	if got := cfg.Credential(); got != "" {
		t.Errorf("missing credential: got %q, want empty", got)
	}
}
