package session

import (
	"fmt"
	"strings"
)

// Action is a side effect requested by a transition. The engine executes the
// actions of a [Transition] in slice order.
type Action int

const (
	// ActSetFlush makes the delivery loop discard inbound response audio.
	ActSetFlush Action = iota

	// ActStopPlayback stops rendering and drops buffered audio and decoder
	// state.
	ActStopPlayback

	// ActSendBargeIn tells the service the response was interrupted.
	ActSendBargeIn

	// ActPlayTone plays the wake confirmation tone.
	ActPlayTone

	// ActStartTurn creates a fresh Session and launches its stream worker.
	ActStartTurn

	// ActEndTurn asks the stream worker to flush its batch and send END.
	ActEndTurn

	// ActCancelTurn stops the stream worker without sending END.
	ActCancelTurn

	// ActArmResponseTimer starts the response timeout.
	ActArmResponseTimer

	// ActDisarmResponseTimer stops the response timeout.
	ActDisarmResponseTimer

	// ActStartPlayback clears the flush flag, drops stale audio and starts
	// rendering.
	ActStartPlayback

	// ActEndSession records the finished session and forgets it.
	ActEndSession
)

var actionNames = [...]string{
	ActSetFlush:            "set_flush",
	ActStopPlayback:        "stop_playback",
	ActSendBargeIn:         "send_barge_in",
	ActPlayTone:            "play_tone",
	ActStartTurn:           "start_turn",
	ActEndTurn:             "end_turn",
	ActCancelTurn:          "cancel_turn",
	ActArmResponseTimer:    "arm_response_timer",
	ActDisarmResponseTimer: "disarm_response_timer",
	ActStartPlayback:       "start_playback",
	ActEndSession:          "end_session",
}

// String returns the snake_case name of the action.
func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Transition is the outcome of feeding one event to the state machine.
type Transition struct {
	From    State
	To      State
	Event   Event
	Actions []Action

	// Ignored is set when the event has no meaning in From. To equals From
	// and Actions is empty.
	Ignored bool
}

// String renders the transition for logs, e.g.
// "PLAYING --wake--> LISTENING [set_flush stop_playback ...]".
func (t Transition) String() string {
	if t.Ignored {
		return fmt.Sprintf("%s --%s--> (ignored)", t.From, t.Event)
	}
	names := make([]string, len(t.Actions))
	for i, a := range t.Actions {
		names[i] = a.String()
	}
	return fmt.Sprintf("%s --%s--> %s [%s]", t.From, t.Event, t.To, strings.Join(names, " "))
}

// Has reports whether a is among the transition's actions.
func (t Transition) Has(a Action) bool {
	for _, x := range t.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// wakeActions is the Idle→Listening sequence, shared by barge-in.
var wakeActions = []Action{ActSetFlush, ActStopPlayback, ActPlayTone, ActStartTurn}

// HandleEvent is the pure state machine. It decides the next state and the
// ordered side effects for ev in state s without performing any I/O. Turn
// numbers are not inspected; the engine drops stale worker events before
// calling it.
func HandleEvent(s State, ev Event) Transition {
	to := func(next State, acts ...Action) Transition {
		return Transition{From: s, To: next, Event: ev, Actions: acts}
	}
	ignore := Transition{From: s, To: s, Event: ev, Ignored: true}

	switch s {
	case Idle:
		if _, ok := ev.(Wake); ok {
			return to(Listening, wakeActions...)
		}

	case Listening:
		switch ev.(type) {
		case SpeechConfirmed:
			return to(Streaming)
		case ListenTimeout, TurnAborted, StopRecording, WakeEnd, Disconnected:
			return to(Idle, ActCancelTurn, ActEndSession)
		}

	case Streaming:
		switch ev.(type) {
		case TurnEnded:
			return to(Waiting, ActArmResponseTimer)
		case StopRecording, WakeEnd:
			// The worker answers with TurnEnded.
			return to(Streaming, ActEndTurn)
		case ResponseStarted:
			return to(Playing, ActEndTurn, ActStartPlayback)
		case TurnAborted, Disconnected:
			return to(Idle, ActCancelTurn, ActEndSession)
		}

	case Waiting:
		switch ev.(type) {
		case ResponseStarted:
			return to(Playing, ActDisarmResponseTimer, ActStartPlayback)
		case ResponseEnded, TurnAborted:
			return to(Idle, ActDisarmResponseTimer, ActEndSession)
		case ResponseTimeout:
			return to(Idle, ActEndSession)
		case Disconnected:
			return to(Idle, ActDisarmResponseTimer, ActCancelTurn, ActEndSession)
		}

	case Playing:
		switch ev.(type) {
		case ResponseEnded:
			// Buffered audio keeps rendering until the next wake.
			return to(Idle, ActEndSession)
		case Wake:
			return to(Listening,
				ActCancelTurn, ActSetFlush, ActStopPlayback, ActSendBargeIn,
				ActEndSession, ActPlayTone, ActStartTurn)
		case Disconnected:
			return to(Idle, ActCancelTurn, ActSetFlush, ActStopPlayback, ActEndSession)
		}
	}
	return ignore
}
