package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/avatarlive/pkg/audio"
	"github.com/MrWong99/avatarlive/pkg/gesture"
	"github.com/MrWong99/avatarlive/pkg/live"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	l := &cfg.Live
	if l.BaseURL == "" {
		l.BaseURL = live.DefaultBaseURL
	}
	if l.Model == "" {
		l.Model = live.DefaultModel
	}
	if l.Modality == "" {
		l.Modality = live.ModalityAudio
	}
	if l.APIKeyEnv == "" {
		l.APIKeyEnv = DefaultAPIKeyEnv
	}

	a := &cfg.Audio
	if a.CaptureRate == 0 {
		a.CaptureRate = audio.DefaultCaptureRate
	}
	if a.PlaybackRate == 0 {
		a.PlaybackRate = audio.DefaultPlaybackRate
	}
	if a.BlockSize == 0 {
		a.BlockSize = audio.DefaultBlockSize
	}
	if a.OutputDir == "" {
		a.OutputDir = "replies"
	}

	g := &cfg.Gesture
	if g.Thresholds == (gesture.Thresholds{}) {
		g.Thresholds = gesture.DefaultThresholds()
	}
	if g.Timing.ReaffirmInterval == 0 {
		g.Timing.ReaffirmInterval = gesture.DefaultReaffirmInterval
	}
	if g.Timing.Cooldown == 0 {
		g.Timing.Cooldown = gesture.DefaultCooldown
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MDNS && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.mdns requires server.listen_addr"))
	}

	switch cfg.Live.Modality {
	case "", live.ModalityAudio, live.ModalityText:
	default:
		errs = append(errs, fmt.Errorf("live.modality %q is invalid; valid values: AUDIO, TEXT", cfg.Live.Modality))
	}
	if cfg.Live.SetupTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.setup_timeout %s must not be negative", cfg.Live.SetupTimeout))
	}
	if cfg.Live.OutboundBuffer < 0 {
		errs = append(errs, fmt.Errorf("live.outbound_buffer %d must not be negative", cfg.Live.OutboundBuffer))
	}

	if cfg.Audio.CaptureRate < 0 || cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, errors.New("audio sample rates must be positive"))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}

	th := cfg.Gesture.Thresholds
	for name, v := range map[string]float64{
		"thumb_margin": th.ThumbMargin,
		"point_margin": th.PointMargin,
		"ok_distance":  th.OKDistance,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("gesture.thresholds.%s %.3f is out of range [0, 1]", name, v))
		}
	}
	if cfg.Gesture.Timing.ReaffirmInterval < 0 || cfg.Gesture.Timing.Cooldown < 0 {
		errs = append(errs, errors.New("gesture.timing durations must not be negative"))
	}
	if cfg.Gesture.FrameInterval < 0 {
		errs = append(errs, errors.New("gesture.frame_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// Credential resolves the API key: live.api_key if set, otherwise the
// environment variable named by live.api_key_env. It may return "".
func (c *Config) Credential() string {
	if c.Live.APIKey != "" {
		return c.Live.APIKey
	}
	if c.Live.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Live.APIKeyEnv)
}
