// Package mock provides a scripted [vad.Engine] for tests that need to drive
// the speech gate directly instead of through frame energy.
package mock

import (
	"sync"

	"github.com/MrWong99/voxgate/pkg/vad"
)

// Engine hands out one scripted [Session] per NewSession call.
type Engine struct {
	// Script builds the session for the n-th NewSession call (from 0). Nil
	// yields sessions that report silence for every frame.
	Script func(n int) *Session

	// Err, if non-nil, is returned by NewSession.
	Err error

	mu       sync.Mutex
	configs  []vad.Config
	sessions []*Session
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	s := &Session{}
	if e.Script != nil {
		s = e.Script(len(e.sessions))
	}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Configs returns the configs passed to NewSession so far.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Sessions returns the sessions handed out so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

var _ vad.Engine = (*Engine)(nil)

// Session replays Events, one per frame, then keeps returning Default.
type Session struct {
	Events  []vad.VADEvent
	Default vad.VADEvent

	// Err is returned by every frame after the first FailAfter frames.
	Err       error
	FailAfter int

	mu     sync.Mutex
	frames int
	resets int
	closed bool
}

// Speech returns the events of a confirmed speech run of n frames preceded by
// quiet frames of silence.
func Speech(quiet, n int) []vad.VADEvent {
	evs := make([]vad.VADEvent, 0, quiet+n)
	for range quiet {
		evs = append(evs, vad.VADEvent{Type: vad.VADSilence})
	}
	for i := 1; i <= n; i++ {
		typ := vad.VADSilence
		if i == n {
			typ = vad.VADSpeechStart
		}
		evs = append(evs, vad.VADEvent{Type: typ, SpeechRun: i})
	}
	return evs
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.frames
	s.frames++
	if s.Err != nil && i >= s.FailAfter {
		return vad.VADEvent{}, s.Err
	}
	if i < len(s.Events) {
		return s.Events[i], nil
	}
	return s.Default, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Frames returns how many frames were processed.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ vad.SessionHandle = (*Session)(nil)
