// Package mock provides in-memory implementations of [audio.Source],
// [audio.Sink] and [audio.WakeSource] for use in unit tests.
//
// All mocks are safe for concurrent use. They record what they were given so
// that tests can assert on it, and they expose exported fields that the test
// can set to control behaviour.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Format{SampleRate: 16000, Channels: 1})
//	src.Push(loudFrame, loudFrame, quietFrame)
//	src.End()
//	sink := &mock.Sink{Fmt: audio.Format{SampleRate: 48000, Channels: 2}}
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a scripted [audio.Source]. Chunks pushed with [Source.Push] are
// returned by Read in order; once the queue is empty Read blocks until more
// chunks arrive, [Source.End] is called, or ctx is done.
type Source struct {
	mu      sync.Mutex
	fmt     audio.Format
	chunks  [][]byte
	ended   bool
	changed chan struct{}

	// ReadErr, if non-nil, is returned by every Read call.
	ReadErr error

	// CallCountRead records how many times Read was called.
	CallCountRead int
}

// NewSource returns an empty Source reporting format f.
func NewSource(f audio.Format) *Source {
	return &Source{fmt: f, changed: make(chan struct{})}
}

// Push queues chunks for subsequent reads.
func (s *Source) Push(chunks ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks = append(s.chunks, append([]byte(nil), c...))
	}
	s.wakeLocked()
}

// End makes Read return io.EOF once the queue is drained.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.wakeLocked()
}

// Pending returns the number of queued chunks.
func (s *Source) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context, p []byte) (int, error) {
	for {
		s.mu.Lock()
		s.CallCountRead++
		if s.ReadErr != nil {
			err := s.ReadErr
			s.mu.Unlock()
			return 0, err
		}
		if len(s.chunks) > 0 {
			n := copy(p, s.chunks[0])
			if n < len(s.chunks[0]) {
				s.chunks[0] = s.chunks[0][n:]
			} else {
				s.chunks = s.chunks[1:]
			}
			s.mu.Unlock()
			return n, nil
		}
		if s.ended {
			s.mu.Unlock()
			return 0, io.EOF
		}
		wait := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-wait:
		}
	}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.fmt }

func (s *Source) wakeLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

var _ audio.Source = (*Source)(nil)

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a recording [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// Fmt is returned by Format.
	Fmt audio.Format

	// WriteErr, if non-nil, is returned by every Write call.
	WriteErr error

	// WriteDelay simulates device latency on every Write.
	WriteDelay time.Duration

	written    []byte
	writes     int
	flushCount int
}

// Write implements [audio.Sink].
func (s *Sink) Write(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	delay, werr := s.WriteDelay, s.WriteErr
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	if werr != nil {
		return 0, werr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, p...)
	s.writes++
	return len(p), nil
}

// Flush implements [audio.Sink].
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushCount++
	return nil
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format { return s.Fmt }

// Bytes returns a copy of everything written so far.
func (s *Sink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

// Writes returns the number of successful Write calls.
func (s *Sink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FlushCount returns the number of Flush calls.
func (s *Sink) FlushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushCount
}

// Clear forgets everything written so far.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = nil
	s.writes = 0
}

var _ audio.Sink = (*Sink)(nil)

// ─── WakeSource ──────────────────────────────────────────────────────────────

// WakeSource is an [audio.WakeSource] driven by [WakeSource.Fire].
type WakeSource struct {
	ch chan audio.WakeEvent
}

// NewWakeSource returns a WakeSource with the given channel buffer.
func NewWakeSource(buffer int) *WakeSource {
	return &WakeSource{ch: make(chan audio.WakeEvent, buffer)}
}

// Fire emits an event of type t. It blocks if the buffer is full.
func (w *WakeSource) Fire(t audio.WakeEventType) {
	w.ch <- audio.WakeEvent{Type: t, At: time.Now(), Origin: "mock"}
}

// WakeEvents implements [audio.WakeSource].
func (w *WakeSource) WakeEvents() <-chan audio.WakeEvent { return w.ch }

var _ audio.WakeSource = (*WakeSource)(nil)
