//go:build portaudio

package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// Device owns one input and one output stream on the default devices.
type Device struct {
	mic     *microphone
	speaker *speaker
}

// Open initialises PortAudio and starts both streams. Close must be called to
// release them.
func Open(cfg Config) (*Device, error) {
	cfg = cfg.withDefaults()
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	mic, err := openMicrophone(cfg)
	if err != nil {
		portaudio.Terminate() //nolint:errcheck
		return nil, err
	}
	spk, err := openSpeaker(cfg)
	if err != nil {
		mic.close()
		portaudio.Terminate() //nolint:errcheck
		return nil, err
	}
	slog.Info("portaudio devices opened",
		"capture", cfg.Capture.String(),
		"playback", cfg.Playback.String(),
		"frames_per_buffer", cfg.FramesPerBuffer)
	return &Device{mic: mic, speaker: spk}, nil
}

// Source returns the microphone.
func (d *Device) Source() audio.Source { return d.mic }

// Sink returns the speaker.
func (d *Device) Sink() audio.Sink { return d.speaker }

// Close stops both streams and terminates PortAudio.
func (d *Device) Close() error {
	err := errors.Join(d.mic.close(), d.speaker.close())
	if terr := portaudio.Terminate(); terr != nil {
		err = errors.Join(err, fmt.Errorf("portaudio: terminate: %w", terr))
	}
	return err
}

// ── Microphone ────────────────────────────────────────────────────────────────

type microphone struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	pending []byte
	format  audio.Format
	closed  bool
}

var _ audio.Source = (*microphone)(nil)

func openMicrophone(cfg Config) (*microphone, error) {
	buf := make([]int16, cfg.FramesPerBuffer*cfg.Capture.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Capture.Channels, 0, float64(cfg.Capture.SampleRate), cfg.FramesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close() //nolint:errcheck
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	return &microphone{stream: stream, buf: buf, format: cfg.Capture}, nil
}

// Read blocks for at most one device buffer. ctx is checked between buffers
// since PortAudio's blocking read cannot be interrupted.
func (m *microphone) Read(ctx context.Context, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("portaudio: microphone closed")
	}
	if len(m.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := m.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return 0, fmt.Errorf("portaudio: read: %w", err)
		}
		m.pending = audio.SamplesToBytes(m.buf)
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *microphone) Format() audio.Format { return m.format }

func (m *microphone) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return errors.Join(m.stream.Stop(), m.stream.Close())
}

// ── Speaker ───────────────────────────────────────────────────────────────────

type speaker struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	pending []byte
	format  audio.Format
	closed  bool
}

var _ audio.Sink = (*speaker)(nil)

func openSpeaker(cfg Config) (*speaker, error) {
	buf := make([]int16, cfg.FramesPerBuffer*cfg.Playback.Channels)
	stream, err := portaudio.OpenDefaultStream(0, cfg.Playback.Channels, float64(cfg.Playback.SampleRate), cfg.FramesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close() //nolint:errcheck
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	return &speaker{stream: stream, buf: buf, format: cfg.Playback}, nil
}

// Write queues p and plays every complete device buffer. A trailing partial
// buffer is kept until the next Write or discarded by Flush.
func (s *speaker) Write(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("portaudio: speaker closed")
	}
	s.pending = append(s.pending, p...)
	frame := len(s.buf) * audio.BytesPerSample
	for len(s.pending) >= frame {
		if err := ctx.Err(); err != nil {
			return len(p), err
		}
		copy(s.buf, audio.BytesToSamples(s.pending[:frame]))
		s.pending = s.pending[frame:]
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return len(p), fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return len(p), nil
}

// Flush drops the queued partial buffer. Audio already handed to the driver
// is at most one device buffer long.
func (s *speaker) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *speaker) Format() audio.Format { return s.format }

func (s *speaker) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.stream.Stop(), s.stream.Close())
}
