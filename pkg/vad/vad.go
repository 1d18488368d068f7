// Package vad defines the Engine interface for voice activity detection and
// ships the energy (RMS) gate used on the capture path.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own run counters so
// that a fresh session (or a Reset) never inherits state from a previous turn.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, which keeps it usable inside the capture loop that gates streaming.
//
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session. Thresholds are expressed in
// the engine's native scale; for [EnergyEngine] that is RMS over raw int16
// samples (0–32767).
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the expected frame duration in milliseconds. Zero accepts
	// frames of any length.
	FrameSizeMs int

	// SpeechThreshold is the level at or above which a frame counts as loud.
	SpeechThreshold float64

	// SilenceThreshold is the level below which a frame counts as quiet. Must
	// be <= SpeechThreshold. Frames in between leave the run counters alone.
	SilenceThreshold float64

	// MinSpeechFrames is the number of consecutive loud frames that confirm
	// speech. Default: 3.
	MinSpeechFrames int

	// SilenceFrames is the number of consecutive quiet frames after confirmed
	// speech that end it. Default: 4.
	SilenceFrames int
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("vad: sample rate must be positive"))
	}
	if c.FrameSizeMs < 0 {
		errs = append(errs, errors.New("vad: frame size must not be negative"))
	}
	if c.SpeechThreshold <= 0 {
		errs = append(errs, errors.New("vad: speech threshold must be positive"))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, errors.New("vad: silence threshold must be in [0, speech threshold]"))
	}
	if c.MinSpeechFrames < 0 || c.SilenceFrames < 0 {
		errs = append(errs, errors.New("vad: frame counts must not be negative"))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one frame of little-endian int16 PCM and returns
	// the detection result. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
