// Package session implements the voice session engine: the state machine
// that turns wake events, captured audio and server control messages into
// one conversational turn at a time.
//
// The engine is an actor. A single goroutine ([Engine.Run]) owns the current
// [Session] and applies [HandleEvent] to every incoming [Event], then
// executes the resulting actions in order. Everything else (the per-turn
// stream worker, the network delivery loop, timers, the wake source) only
// posts events. Readers that need the current state use [Engine.State] or
// [Engine.Status], which never block on the actor.
package session

import (
	"fmt"
	"time"
)

// State is the lifecycle phase of the engine.
type State int32

const (
	// Idle: no turn in progress.
	Idle State = iota

	// Listening: woken, capturing, waiting for confirmed speech.
	Listening

	// Streaming: forwarding captured audio to the service.
	Streaming

	// Waiting: END sent, waiting for the response to start.
	Waiting

	// Playing: rendering the response.
	Playing
)

// String returns the upper-case name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Listening:
		return "LISTENING"
	case Streaming:
		return "STREAMING"
	case Waiting:
		return "WAITING"
	case Playing:
		return "PLAYING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Active reports whether a session is live in s.
func (s State) Active() bool { return s != Idle }

// Session is the per-turn bookkeeping owned by the engine. It is created on
// wake and discarded on the return to Idle.
type Session struct {
	// ID identifies the session in logs and traces.
	ID string

	// Turn is a sequence number that increases with every new session.
	// Events posted by workers carry it so that stale ones can be dropped.
	Turn uint64

	// Start is the wake time (carries a monotonic clock reading).
	Start time.Time

	// EndSent is when END was sent; zero until then.
	EndSent time.Time

	// FirstAudio is when the response started; zero until then.
	FirstAudio time.Time
}

// Status is a point-in-time snapshot of the engine for the control surface.
type Status struct {
	State      State     `json:"-"`
	StateName  string    `json:"state"`
	SessionID  string    `json:"session_id,omitempty"`
	Turn       uint64    `json:"turn"`
	Since      time.Time `json:"since,omitzero"`
	BytesSent  int64     `json:"bytes_sent"`
	SpeechRun  int       `json:"speech_run"`
	SilenceRun int       `json:"silence_run"`
	Flush      bool      `json:"flush"`
}
