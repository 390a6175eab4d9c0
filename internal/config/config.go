// Package config provides the configuration schema, loader, and file watcher
// for the avatarlive pipeline.
package config

import (
	"time"

	"github.com/MrWong99/avatarlive/pkg/gesture"
	"github.com/MrWong99/avatarlive/pkg/live"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DefaultAPIKeyEnv is the environment variable consulted for the credential
// when live.api_key is empty.
const DefaultAPIKeyEnv = "GEMINI_API_KEY"

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Live    LiveConfig    `yaml:"live"`
	Audio   AudioConfig   `yaml:"audio"`
	Gesture GestureConfig `yaml:"gesture"`
}

// ServerConfig holds the admin HTTP endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr enables /metrics, /healthz and /readyz on this address
	// (e.g. ":9090"). Empty disables the admin server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the admin server. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MDNS advertises the admin server on the local network. Requires
	// ListenAddr.
	MDNS bool `yaml:"mdns"`

	// MDNSName overrides the advertised instance name. Defaults to one
	// derived from the host name.
	MDNSName string `yaml:"mdns_name"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LiveConfig configures the streaming session.
type LiveConfig struct {
	// BaseURL of the BidiGenerateContent WebSocket endpoint.
	BaseURL string `yaml:"base_url"`

	// Model id, e.g. "gemini-2.0-flash-live-001".
	Model string `yaml:"model"`

	// Modality of replies: "AUDIO" or "TEXT".
	Modality live.Modality `yaml:"modality"`

	// Instructions is the optional system instruction.
	Instructions string `yaml:"instructions"`

	// Voice is the optional prebuilt voice name.
	Voice string `yaml:"voice"`

	// APIKey is the credential. Prefer APIKeyEnv to keep it out of the file.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`

	// AwaitSetupAck delays sending until the server acknowledges setup.
	// Defaults to true.
	AwaitSetupAck *bool `yaml:"await_setup_ack"`

	// SetupTimeout bounds the wait for the acknowledgement.
	SetupTimeout time.Duration `yaml:"setup_timeout"`

	// OutboundBuffer is the number of messages that may wait for the writer.
	OutboundBuffer int `yaml:"outbound_buffer"`

	// KeepaliveInterval between pings. Zero selects the default.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// AudioConfig configures capture and playback.
type AudioConfig struct {
	// CaptureRate is the sample rate of outbound frames.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the sample rate of reply audio.
	PlaybackRate int `yaml:"playback_rate"`

	// BlockSize is the number of samples per capture block.
	BlockSize int `yaml:"block_size"`

	// Input is the WAV recording replayed as the microphone. Empty disables
	// audio capture.
	Input string `yaml:"input"`

	// OutputDir receives one WAV file per reply.
	OutputDir string `yaml:"output_dir"`

	// Realtime paces capture and playback at wall-clock speed.
	Realtime bool `yaml:"realtime"`
}

// GestureConfig configures landmark input and the gesture rules. Thresholds
// and Timing are hot-reloadable.
type GestureConfig struct {
	// Landmarks is the JSON-lines landmark recording. Empty disables gesture
	// recognition.
	Landmarks string `yaml:"landmarks"`

	// FrameInterval paces landmark replay.
	FrameInterval time.Duration `yaml:"frame_interval"`

	// SpeakGestures forwards emitted gestures to the model as text.
	SpeakGestures bool `yaml:"speak_gestures"`

	Thresholds gesture.Thresholds `yaml:"thresholds"`
	Timing     gesture.Timing     `yaml:"timing"`
}

// SetupAck returns the effective await_setup_ack setting.
func (c LiveConfig) SetupAck() bool {
	return c.AwaitSetupAck == nil || *c.AwaitSetupAck
}

// SessionConfig converts c into a [live.Config] for the given capture rate.
func (c LiveConfig) SessionConfig(captureRate int) live.Config {
	return live.Config{
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		Modality:          c.Modality,
		Instructions:      c.Instructions,
		Voice:             c.Voice,
		CaptureRate:       captureRate,
		AwaitSetupAck:     c.SetupAck(),
		SetupTimeout:      c.SetupTimeout,
		OutboundBuffer:    c.OutboundBuffer,
		KeepaliveInterval: c.KeepaliveInterval,
	}
}
