//go:build !portaudio

package portaudio

import "github.com/MrWong99/voxgate/pkg/audio"

// Device is unavailable in this build.
type Device struct{}

// Open always fails with [ErrUnavailable].
func Open(Config) (*Device, error) { return nil, ErrUnavailable }

// Source returns nil.
func (*Device) Source() audio.Source { return nil }

// Sink returns nil.
func (*Device) Sink() audio.Sink { return nil }

// Close is a no-op.
func (*Device) Close() error { return nil }
