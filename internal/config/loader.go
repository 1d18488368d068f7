package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxgate/pkg/audio/codec"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultBackend         = "portaudio"
	DefaultVADEngine       = "energy"
	DefaultCaptureRate     = 16000
	DefaultPlaybackRate    = 48000
	DefaultResponseRate    = 24000
	DefaultFramesPerBuffer = 2048
	DefaultFrameMs         = 128
	DefaultVolume          = 80
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected.
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

// ApplyDefaults fills every zero-valued field that has a default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}

	d := &cfg.Device
	setDefault(&d.Backend, DefaultBackend)
	setDefault(&d.CaptureRate, DefaultCaptureRate)
	setDefault(&d.PlaybackRate, DefaultPlaybackRate)
	setDefault(&d.PlaybackChannels, 1)
	setDefault(&d.FramesPerBuffer, DefaultFramesPerBuffer)
	setDefault(&d.CaptureBufferBytes, 64*1024)

	t := &cfg.Transport
	setDefault(&t.DialTimeout, 10*time.Second)
	setDefault(&t.SendTimeout, 5*time.Second)
	setDefault(&t.PingInterval, 10*time.Second)
	setDefaultPtr(&t.MaxRetries, 20)
	setDefault(&t.ConnectPolls, 5)
	setDefault(&t.Reconnect.Initial, 500*time.Millisecond)
	setDefault(&t.Reconnect.Max, 8*time.Second)
	setDefault(&t.Reconnect.Multiplier, 2)

	v := &cfg.VAD
	setDefault(&v.Strategy, StrategyLocal)
	setDefault(&v.Engine, DefaultVADEngine)
	setDefault(&v.FrameMs, DefaultFrameMs)
	setDefault(&v.SpeechThreshold, 1000)
	setDefault(&v.SilenceThreshold, v.SpeechThreshold)
	setDefault(&v.MinSpeechFrames, 3)
	setDefault(&v.SilenceFrames, 4)
	setDefaultPtr(&v.IgnoreFrames, 3)
	setDefaultPtr(&v.PrerollFrames, 2)
	setDefault(&v.MaxEmptyReads, 20)
	setDefault(&v.ListenTimeout, 5*time.Second)

	ss := &cfg.Session
	setDefault(&ss.BatchBytes, 8192)
	setDefault(&ss.MaxTurnDuration, 10*time.Second)
	setDefault(&ss.ResponseTimeout, 60*time.Second)
	setDefault(&ss.ReadTimeout, 200*time.Millisecond)
	setDefault(&ss.ProgressLogBytes, 50000)
	setDefaultPtr(&ss.Tone, true)

	p := &cfg.Playback
	setDefault(&p.Codec, codec.NamePCM)
	setDefault(&p.SampleRate, DefaultResponseRate)
	setDefault(&p.Channels, 1)
	setDefault(&p.BufferBytes, 32*1024)
	setDefault(&p.WriteTimeout, 2*time.Second)
	setDefaultPtr(&p.Volume, DefaultVolume)
	setDefault(&p.VolumeStep, 10)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func setDefaultPtr[T any](field **T, value T) {
	if *field == nil {
		*field = &value
	}
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to be applied and returns a joined error listing all failures.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Device
	if cfg.Device.CaptureRate <= 0 || cfg.Device.PlaybackRate <= 0 {
		errs = append(errs, errors.New("device sample rates must be positive"))
	}
	if cfg.Device.PlaybackChannels != 1 && cfg.Device.PlaybackChannels != 2 {
		errs = append(errs, fmt.Errorf("device.playback_channels %d is invalid; valid values: 1, 2", cfg.Device.PlaybackChannels))
	}
	if cfg.Device.FramesPerBuffer < 0 || cfg.Device.CaptureBufferBytes < 0 {
		errs = append(errs, errors.New("device buffer sizes must not be negative"))
	}

	// Transport
	t := cfg.Transport
	if t.URL == "" {
		errs = append(errs, errors.New("transport.url is required"))
	} else if u, err := url.Parse(t.URL); err != nil {
		errs = append(errs, fmt.Errorf("transport.url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("transport.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	} else if u.Scheme == "ws" && t.AuthToken != "" {
		slog.Warn("transport.auth_token is sent over an unencrypted ws:// connection", "url", t.URL)
	}
	if t.MaxRetries != nil && *t.MaxRetries < 0 {
		errs = append(errs, errors.New("transport.max_retries must not be negative"))
	}
	if t.ConnectPolls < 0 {
		errs = append(errs, errors.New("transport.connect_polls must not be negative"))
	}
	if t.Reconnect.Initial < 0 || t.Reconnect.Max < 0 {
		errs = append(errs, errors.New("transport.reconnect delays must not be negative"))
	} else if t.Reconnect.Max > 0 && t.Reconnect.Initial > t.Reconnect.Max {
		errs = append(errs, fmt.Errorf("transport.reconnect.initial %s exceeds max %s", t.Reconnect.Initial, t.Reconnect.Max))
	}
	if t.Reconnect.Multiplier != 0 && t.Reconnect.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("transport.reconnect.multiplier %.2f must be >= 1", t.Reconnect.Multiplier))
	}

	// VAD
	v := cfg.VAD
	if v.Strategy != "" && !v.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("vad.strategy %q is invalid; valid values: local, server", v.Strategy))
	}
	if v.SpeechThreshold < 0 || v.SilenceThreshold < 0 {
		errs = append(errs, errors.New("vad thresholds must not be negative"))
	}
	if v.SilenceThreshold > v.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.0f exceeds speech_threshold %.0f", v.SilenceThreshold, v.SpeechThreshold))
	}
	if v.MinSpeechFrames < 0 || v.SilenceFrames < 0 || v.MaxEmptyReads < 0 {
		errs = append(errs, errors.New("vad frame counts must not be negative"))
	}
	if v.IgnoreFrames != nil && *v.IgnoreFrames < 0 {
		errs = append(errs, errors.New("vad.ignore_frames must not be negative"))
	}
	if v.PrerollFrames != nil && *v.PrerollFrames < 0 {
		errs = append(errs, errors.New("vad.preroll_frames must not be negative"))
	}
	if v.FrameMs < 0 {
		errs = append(errs, errors.New("vad.frame_ms must not be negative"))
	}

	// Session
	if cfg.Session.BatchBytes < 0 || cfg.Session.BatchBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("session.batch_bytes %d must be a positive multiple of 2", cfg.Session.BatchBytes))
	}
	if cfg.Session.MaxTurnDuration < 0 || cfg.Session.ResponseTimeout < 0 || cfg.Session.ReadTimeout < 0 {
		errs = append(errs, errors.New("session timeouts must not be negative"))
	}

	// Playback
	p := cfg.Playback
	if p.Codec != "" && p.Codec != codec.NamePCM && p.Codec != codec.NameOpus {
		errs = append(errs, fmt.Errorf("playback.codec %q is invalid; valid values: pcm, opus", p.Codec))
	}
	if p.Channels != 0 && p.Channels != 1 && p.Channels != 2 {
		errs = append(errs, fmt.Errorf("playback.channels %d is invalid; valid values: 1, 2", p.Channels))
	}
	if p.Volume != nil && (*p.Volume < 0 || *p.Volume > 100) {
		errs = append(errs, fmt.Errorf("playback.volume %d is out of range [0, 100]", *p.Volume))
	}
	if p.VolumeStep < 0 || p.VolumeStep > 100 {
		errs = append(errs, fmt.Errorf("playback.volume_step %d is out of range [0, 100]", p.VolumeStep))
	}
	if p.BufferBytes < 0 {
		errs = append(errs, errors.New("playback.buffer_bytes must not be negative"))
	}

	return errors.Join(errs...)
}

// FrameSamples returns the VAD frame length in capture samples.
func (c *Config) FrameSamples() int {
	return c.Device.CaptureRate * c.VAD.FrameMs / 1000
}
