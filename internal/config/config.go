// Package config provides the configuration schema, loader, watcher and
// back-end registry for the voxgate voice session daemon.
package config

import (
	"log/slog"
	"time"
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

// SlogLevel maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Strategy selects where end-of-speech is decided.
type Strategy string

const (
	// StrategyLocal gates on the on-device energy detector.
	StrategyLocal Strategy = "local"

	// StrategyServer streams right after wake and waits for STOP_RECORDING.
	StrategyServer Strategy = "server"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyLocal || s == StrategyServer
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Transport TransportConfig `yaml:"transport"`
	VAD       VADConfig       `yaml:"vad"`
	Session   SessionConfig   `yaml:"session"`
	Playback  PlaybackConfig  `yaml:"playback"`
}

// ServerConfig holds the control surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control/metrics HTTP server
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DeviceConfig selects the audio back-end and its formats.
type DeviceConfig struct {
	// Backend names a back-end registered in the [Registry]
	// ("portaudio" or "null"). Default: "portaudio".
	Backend string `yaml:"backend"`

	// CaptureRate is the microphone sample rate in Hz. Default: 16000.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the speaker sample rate in Hz. Default: 48000.
	PlaybackRate int `yaml:"playback_rate"`

	// PlaybackChannels is the speaker channel count. Default: 1.
	PlaybackChannels int `yaml:"playback_channels"`

	// FramesPerBuffer is the device I/O block size in samples. Default: 2048.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// CaptureBufferBytes is the capacity of the capture ring. Default: 64 KiB.
	CaptureBufferBytes int `yaml:"capture_buffer_bytes"`
}

// TransportConfig describes the connection to the inference service.
type TransportConfig struct {
	// URL is the ws:// or wss:// endpoint. Required.
	URL string `yaml:"url"`

	// AuthToken is sent as "Authorization: Bearer <token>" when set.
	AuthToken string `yaml:"auth_token"`

	// Headers are extra upgrade request headers.
	Headers map[string]string `yaml:"headers"`

	// DialTimeout bounds one dial. Default: 10s.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// SendTimeout bounds one frame write. Default: 5s.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// PingInterval is the keepalive period. Negative disables. Default: 10s.
	PingInterval time.Duration `yaml:"ping_interval"`

	// MaxRetries bounds one background reconnect cycle. Zero never gives up.
	// Default: 20.
	MaxRetries *int `yaml:"max_retries"`

	// ConnectPolls is the number of connect attempts a wake makes when the
	// link is down. Default: 5.
	ConnectPolls int `yaml:"connect_polls"`

	// Reconnect is the backoff between attempts.
	Reconnect BackoffConfig `yaml:"reconnect"`
}

// BackoffConfig is a capped exponential backoff.
type BackoffConfig struct {
	// Initial delay. Default: 500ms.
	Initial time.Duration `yaml:"initial"`

	// Max delay. Default: 8s.
	Max time.Duration `yaml:"max"`

	// Multiplier applied after each failure. Default: 2.
	Multiplier float64 `yaml:"multiplier"`
}

// VADConfig tunes the capture gate.
type VADConfig struct {
	// Strategy is "local" (default) or "server".
	Strategy Strategy `yaml:"strategy"`

	// Engine names a VAD engine registered in the [Registry]. Default: "energy".
	Engine string `yaml:"engine"`

	// FrameMs is the analysis frame length. Default: 128 (2048 samples at
	// 16 kHz).
	FrameMs int `yaml:"frame_ms"`

	// SpeechThreshold is the RMS at or above which a frame is loud.
	// Default: 1000.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the RMS below which a frame is quiet. Default: the
	// speech threshold.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MinSpeechFrames loud frames in a row confirm speech. Default: 3.
	MinSpeechFrames int `yaml:"min_speech_frames"`

	// SilenceFrames quiet frames in a row end speech. Default: 4.
	SilenceFrames int `yaml:"silence_frames"`

	// IgnoreFrames are dropped right after wake. Default: 3.
	IgnoreFrames *int `yaml:"ignore_frames"`

	// PrerollFrames are kept from before speech was confirmed. Default: 2.
	PrerollFrames *int `yaml:"preroll_frames"`

	// MaxEmptyReads in a row count as "no data". Default: 20.
	MaxEmptyReads int `yaml:"max_empty_reads"`

	// ListenTimeout bounds the wait for speech. Default: 5s.
	ListenTimeout time.Duration `yaml:"listen_timeout"`
}

// SessionConfig tunes a turn.
type SessionConfig struct {
	// BatchBytes is the outbound audio message size. Default: 8192.
	BatchBytes int `yaml:"batch_bytes"`

	// MaxTurnDuration bounds streaming. Default: 10s.
	MaxTurnDuration time.Duration `yaml:"max_turn_duration"`

	// ResponseTimeout bounds the wait for AUDIO_START. Default: 60s.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// ReadTimeout bounds a single frame read. Default: 200ms.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// ProgressLogBytes logs progress every that many bytes. Default: 50000.
	ProgressLogBytes int64 `yaml:"progress_log_bytes"`

	// Tone enables the wake confirmation tone. Default: true.
	Tone *bool `yaml:"tone"`
}

// PlaybackConfig describes the response audio and its rendering.
type PlaybackConfig struct {
	// Codec of inbound audio: "pcm" (default) or "opus".
	Codec string `yaml:"codec"`

	// SampleRate of inbound audio. Default: 24000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of inbound audio. Default: 1.
	Channels int `yaml:"channels"`

	// BufferBytes is the playback ring capacity. Default: 32 KiB.
	BufferBytes int `yaml:"buffer_bytes"`

	// WriteTimeout bounds how long a full ring is retried. Default: 2s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Volume in percent, 0–100. Default: 80.
	Volume *int `yaml:"volume"`

	// VolumeStep is the increment of relative volume changes. Default: 10.
	VolumeStep int `yaml:"volume_step"`
}
