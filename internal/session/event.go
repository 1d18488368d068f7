package session

import "fmt"

// Event is an input to the state machine. The set of events is closed: only
// the types declared in this package implement it.
type Event interface {
	fmt.Stringer
	event()
}

// Wake is a wake-phrase detection (or a manual trigger).
type Wake struct {
	// Origin names what produced the wake, e.g. "detector" or "http".
	Origin string
}

// WakeEnd is posted when the wake source closes its listening window.
type WakeEnd struct{}

// SpeechConfirmed is posted by the stream worker once the gate latched.
type SpeechConfirmed struct{ Turn uint64 }

// ListenTimeout is posted by the stream worker when no speech was confirmed
// within the listen window.
type ListenTimeout struct{ Turn uint64 }

// TurnEnded is posted by the stream worker after END went out.
type TurnEnded struct {
	Turn   uint64
	Reason EndReason
}

// TurnAborted is posted by the stream worker when the turn cannot go on:
// connect attempts ran out, a send failed or capture stopped before speech.
type TurnAborted struct {
	Turn uint64
	Err  error
}

// Disconnected is posted when the transport lost its connection.
type Disconnected struct{}

// ResponseStarted is the server's AUDIO_START.
type ResponseStarted struct{}

// ResponseEnded is the server's AUDIO_END.
type ResponseEnded struct{}

// StopRecording is the server's STOP_RECORDING.
type StopRecording struct{}

// ResponseTimeout fires when the response did not start in time.
type ResponseTimeout struct{ Turn uint64 }

func (Wake) event()            {}
func (WakeEnd) event()         {}
func (SpeechConfirmed) event() {}
func (ListenTimeout) event()   {}
func (TurnEnded) event()       {}
func (TurnAborted) event()     {}
func (Disconnected) event()    {}
func (ResponseStarted) event() {}
func (ResponseEnded) event()   {}
func (StopRecording) event()   {}
func (ResponseTimeout) event() {}

func (Wake) String() string            { return "wake" }
func (WakeEnd) String() string         { return "wake_end" }
func (SpeechConfirmed) String() string { return "speech_confirmed" }
func (ListenTimeout) String() string   { return "listen_timeout" }
func (TurnEnded) String() string       { return "turn_ended" }
func (TurnAborted) String() string     { return "turn_aborted" }
func (Disconnected) String() string    { return "disconnected" }
func (ResponseStarted) String() string { return "audio_start" }
func (ResponseEnded) String() string   { return "audio_end" }
func (StopRecording) String() string   { return "stop_recording" }
func (ResponseTimeout) String() string { return "response_timeout" }

// EndReason explains why a streaming turn ended.
type EndReason int

const (
	// EndSilence: the gate saw a long enough silence run.
	EndSilence EndReason = iota

	// EndMaxDuration: the turn hit the configured maximum duration.
	EndMaxDuration

	// EndNoData: capture produced no audio for too many reads or ended.
	EndNoData

	// EndRequested: the server or the wake source asked to stop.
	EndRequested
)

// String returns the lower-case name of the reason.
func (r EndReason) String() string {
	switch r {
	case EndSilence:
		return "silence"
	case EndMaxDuration:
		return "max_duration"
	case EndNoData:
		return "no_data"
	case EndRequested:
		return "requested"
	default:
		return fmt.Sprintf("EndReason(%d)", int(r))
	}
}

// turnOf returns the turn number carried by worker and timer events.
func turnOf(ev Event) (uint64, bool) {
	switch e := ev.(type) {
	case SpeechConfirmed:
		return e.Turn, true
	case ListenTimeout:
		return e.Turn, true
	case TurnEnded:
		return e.Turn, true
	case TurnAborted:
		return e.Turn, true
	case ResponseTimeout:
		return e.Turn, true
	default:
		return 0, false
	}
}
