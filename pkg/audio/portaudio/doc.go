// Package portaudio adapts the host's default input and output devices to
// [audio.Source] and [audio.Sink] through PortAudio's blocking stream API.
//
// The real adapter is compiled only with the "portaudio" build tag, which
// needs the PortAudio C library. Without the tag [Open] returns
// [ErrUnavailable] so the rest of the program still builds and can run
// against other device back-ends.
package portaudio

import (
	"errors"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// ErrUnavailable is returned by [Open] in builds without PortAudio support.
var ErrUnavailable = errors.New(`portaudio: built without portaudio support; rebuild with "-tags portaudio" or use device.backend "null"`)

// Config selects the stream formats.
type Config struct {
	// Capture is the microphone format. Default: 16000 Hz mono.
	Capture audio.Format

	// Playback is the speaker format. Default: 48000 Hz mono.
	Playback audio.Format

	// FramesPerBuffer is the per-channel sample count of one blocking read or
	// write. Default: 2048.
	FramesPerBuffer int
}

func (c Config) withDefaults() Config {
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = 16000
	}
	if c.Capture.Channels == 0 {
		c.Capture.Channels = 1
	}
	if c.Playback.SampleRate == 0 {
		c.Playback.SampleRate = 48000
	}
	if c.Playback.Channels == 0 {
		c.Playback.Channels = 1
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = 2048
	}
	return c
}

var _ audio.Device = (*Device)(nil)
