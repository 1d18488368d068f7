package app

import (
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/portaudio"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// Built-in back-end names.
const (
	BackendPortAudio = "portaudio"
	BackendNull      = "null"
	VADEnergy        = "energy"
)

// NewRegistry returns a registry holding the built-in device back-ends and
// VAD engines.
func NewRegistry() *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterDevice(BackendPortAudio, func(c config.DeviceConfig) (audio.Device, error) {
		d, err := portaudio.Open(portaudio.Config{
			Capture:         audio.Format{SampleRate: c.CaptureRate, Channels: 1},
			Playback:        audio.Format{SampleRate: c.PlaybackRate, Channels: c.PlaybackChannels},
			FramesPerBuffer: c.FramesPerBuffer,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	})

	// null runs headless: the microphone stays silent and the speaker
	// discards audio, so only the HTTP control surface drives sessions.
	reg.RegisterDevice(BackendNull, func(c config.DeviceConfig) (audio.Device, error) {
		return audio.NewNullDevice(
			audio.Format{SampleRate: c.CaptureRate, Channels: 1},
			audio.Format{SampleRate: c.PlaybackRate, Channels: c.PlaybackChannels},
		), nil
	})

	reg.RegisterVAD(VADEnergy, func(config.VADConfig) (vad.Engine, error) {
		return vad.EnergyEngine{}, nil
	})

	return reg
}
