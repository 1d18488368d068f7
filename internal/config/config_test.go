package config_test

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

device:
  backend: "null"
  capture_rate: 16000
  playback_rate: 44100
  playback_channels: 2

transport:
  url: wss://assistant.example.com/audio
  auth_token: secret
  headers:
    X-Device: kitchen
  send_timeout: 3s
  max_retries: 0
  connect_polls: 4
  reconnect:
    initial: 250ms
    max: 4s

vad:
  strategy: local
  speech_threshold: 1200
  silence_threshold: 800
  min_speech_frames: 2
  silence_frames: 6
  ignore_frames: 0
  preroll_frames: 4
  listen_timeout: 3s

session:
  batch_bytes: 4096
  max_turn_duration: 20s
  response_timeout: 30s
  tone: false

playback:
  codec: opus
  sample_rate: 48000
  volume: 65
`

const minimalYAML = `
transport:
  url: ws://localhost:6666/audio
`

// ── YAML loading ──────────────────────────────────────────────────────────────

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
	if cfg.Device.Backend != "null" || cfg.Device.PlaybackChannels != 2 {
		t.Errorf("device: got %+v", cfg.Device)
	}
	if cfg.Transport.SendTimeout != 3*time.Second {
		t.Errorf("transport.send_timeout: got %s, want 3s", cfg.Transport.SendTimeout)
	}
	if cfg.Transport.MaxRetries == nil || *cfg.Transport.MaxRetries != 0 {
		t.Errorf("transport.max_retries: explicit 0 must be kept, got %v", cfg.Transport.MaxRetries)
	}
	if cfg.Transport.Reconnect.Initial != 250*time.Millisecond {
		t.Errorf("transport.reconnect.initial: got %s", cfg.Transport.Reconnect.Initial)
	}
	if cfg.Transport.Headers["X-Device"] != "kitchen" {
		t.Errorf("transport.headers: got %v", cfg.Transport.Headers)
	}
	if *cfg.VAD.IgnoreFrames != 0 || *cfg.VAD.PrerollFrames != 4 {
		t.Errorf("vad frames: ignore %d preroll %d", *cfg.VAD.IgnoreFrames, *cfg.VAD.PrerollFrames)
	}
	if cfg.VAD.SilenceThreshold != 800 {
		t.Errorf("vad.silence_threshold: got %.0f", cfg.VAD.SilenceThreshold)
	}
	if *cfg.Session.Tone {
		t.Error("session.tone: explicit false must be kept")
	}
	if cfg.Playback.Codec != "opus" || *cfg.Playback.Volume != 65 {
		t.Errorf("playback: got codec %q volume %d", cfg.Playback.Codec, *cfg.Playback.Volume)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, ":8080"},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"backend", cfg.Device.Backend, "portaudio"},
		{"capture_rate", cfg.Device.CaptureRate, 16000},
		{"max_retries", *cfg.Transport.MaxRetries, 20},
		{"reconnect.initial", cfg.Transport.Reconnect.Initial, 500 * time.Millisecond},
		{"reconnect.max", cfg.Transport.Reconnect.Max, 8 * time.Second},
		{"strategy", cfg.VAD.Strategy, config.StrategyLocal},
		{"speech_threshold", cfg.VAD.SpeechThreshold, 1000.0},
		{"silence_threshold", cfg.VAD.SilenceThreshold, 1000.0},
		{"ignore_frames", *cfg.VAD.IgnoreFrames, 3},
		{"preroll_frames", *cfg.VAD.PrerollFrames, 2},
		{"listen_timeout", cfg.VAD.ListenTimeout, 5 * time.Second},
		{"response_timeout", cfg.Session.ResponseTimeout, 60 * time.Second},
		{"tone", *cfg.Session.Tone, true},
		{"codec", cfg.Playback.Codec, "pcm"},
		{"response rate", cfg.Playback.SampleRate, 24000},
		{"volume", *cfg.Playback.Volume, 80},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if got := cfg.FrameSamples(); got != 2048 {
		t.Errorf("FrameSamples() = %d, want 2048", got)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yaml := minimalYAML + `
vad:
  treshold: 5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "treshold") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoadFromReader_EmptyNeedsURL(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "transport.url") {
		t.Fatalf("expected transport.url error, got %v", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"url scheme", "transport:\n  url: http://x/audio\n", "scheme"},
		{"strategy", "vad:\n  strategy: psychic\n", "vad.strategy"},
		{"thresholds", "vad:\n  speech_threshold: 500\n  silence_threshold: 900\n", "silence_threshold"},
		{"negative preroll", "vad:\n  preroll_frames: -1\n", "preroll_frames"},
		{"odd batch", "session:\n  batch_bytes: 1001\n", "batch_bytes"},
		{"codec", "playback:\n  codec: mp3\n", "playback.codec"},
		{"volume", "playback:\n  volume: 120\n", "playback.volume"},
		{"channels", "device:\n  playback_channels: 6\n", "playback_channels"},
		{"backoff order", "transport:\n  reconnect:\n    initial: 10s\n    max: 1s\n", "exceeds max"},
		{"tls", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := tt.yaml
			if !strings.Contains(yaml, "transport:") {
				yaml += minimalYAML
			} else if !strings.Contains(yaml, "url:") {
				yaml = strings.Replace(yaml, "transport:\n", "transport:\n  url: ws://localhost/audio\n", 1)
			}
			_, err := config.LoadFromReader(strings.NewReader(yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	yaml := `
server:
  log_level: loud
playback:
  volume: -3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "transport.url", "playback.volume"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterDevice("null", func(c config.DeviceConfig) (audio.Device, error) { return nil, nil })

	_, err := reg.CreateDevice(config.DeviceConfig{Backend: "alsa"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got: %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "null") {
		t.Errorf("error should list known back-ends, got: %v", err)
	}

	_, err = reg.CreateVAD(config.VADConfig{Engine: "silero"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()

	var gotCfg config.DeviceConfig
	want := audio.NewNullDevice(audio.Format{SampleRate: 16000, Channels: 1}, audio.Format{SampleRate: 48000, Channels: 1})
	reg.RegisterDevice("null", func(c config.DeviceConfig) (audio.Device, error) {
		gotCfg = c
		return want, nil
	})
	reg.RegisterVAD("energy", func(config.VADConfig) (vad.Engine, error) { return vad.EnergyEngine{}, nil })

	dev, err := reg.CreateDevice(config.DeviceConfig{Backend: "null", CaptureRate: 8000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dev != want {
		t.Error("returned device is not the expected instance")
	}
	if gotCfg.CaptureRate != 8000 {
		t.Errorf("factory got capture_rate %d, want 8000", gotCfg.CaptureRate)
	}
	if _, err := reg.CreateVAD(config.VADConfig{Engine: "energy"}); err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterDevice("broken", func(config.DeviceConfig) (audio.Device, error) {
		return nil, wantErr
	})
	_, err := reg.CreateDevice(config.DeviceConfig{Backend: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.SlogLevel(); got != tt.want {
			t.Errorf("LogLevel(%q).SlogLevel() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
