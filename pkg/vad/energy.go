package vad

import (
	"fmt"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// GateState is the run-counter state of the energy gate.
type GateState struct {
	SpeechRun  int
	SilenceRun int
	Speaking   bool
}

// Step advances the gate by one frame of the given level. It is a pure
// function of its inputs; cfg must already carry defaults.
//
//   - level >= SpeechThreshold: speech run grows, silence run resets. Reaching
//     MinSpeechFrames latches speech (VADSpeechStart once).
//   - level < SilenceThreshold: speech run resets; once speech is latched the
//     silence run grows and reaching SilenceFrames ends it (VADSpeechEnd).
//   - anything in between leaves both counters untouched.
func Step(st GateState, level float64, cfg Config) (GateState, VADEventType) {
	switch {
	case level >= cfg.SpeechThreshold:
		st.SpeechRun++
		st.SilenceRun = 0
		if !st.Speaking && st.SpeechRun >= cfg.MinSpeechFrames {
			st.Speaking = true
			return st, VADSpeechStart
		}
	case level < cfg.SilenceThreshold:
		st.SpeechRun = 0
		if st.Speaking {
			st.SilenceRun++
			if st.SilenceRun >= cfg.SilenceFrames {
				st.Speaking = false
				st.SilenceRun = 0
				return st, VADSpeechEnd
			}
		}
	}
	if st.Speaking {
		return st, VADSpeechContinue
	}
	return st, VADSilence
}

// Gate defaults applied when the corresponding [Config] field is zero.
const (
	DefaultMinSpeechFrames = 3
	DefaultSilenceFrames   = 4
)

// EnergyEngine creates RMS-threshold gate sessions.
type EnergyEngine struct{}

var _ Engine = EnergyEngine{}

// NewSession validates cfg, applies defaults and returns a fresh gate.
func (EnergyEngine) NewSession(cfg Config) (SessionHandle, error) {
	if cfg.MinSpeechFrames == 0 {
		cfg.MinSpeechFrames = DefaultMinSpeechFrames
	}
	if cfg.SilenceFrames == 0 {
		cfg.SilenceFrames = DefaultSilenceFrames
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &energySession{cfg: cfg}
	if cfg.FrameSizeMs > 0 {
		s.frameBytes = cfg.SampleRate * cfg.FrameSizeMs / 1000 * audio.BytesPerSample
	}
	return s, nil
}

type energySession struct {
	cfg        Config
	frameBytes int
	state      GateState
	closed     bool
}

func (s *energySession) ProcessFrame(frame []byte) (VADEvent, error) {
	if s.closed {
		return VADEvent{}, ErrClosed
	}
	if len(frame)%audio.BytesPerSample != 0 {
		return VADEvent{}, fmt.Errorf("vad: frame length %d is not a whole number of samples", len(frame))
	}
	if s.frameBytes > 0 && len(frame) != s.frameBytes {
		return VADEvent{}, fmt.Errorf("vad: frame length %d, want %d", len(frame), s.frameBytes)
	}
	level := audio.RMS(frame)
	var typ VADEventType
	s.state, typ = Step(s.state, level, s.cfg)
	return VADEvent{
		Type:       typ,
		Level:      level,
		SpeechRun:  s.state.SpeechRun,
		SilenceRun: s.state.SilenceRun,
	}, nil
}

func (s *energySession) Reset() { s.state = GateState{} }

func (s *energySession) Close() error {
	s.closed = true
	return nil
}
