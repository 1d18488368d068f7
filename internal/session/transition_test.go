package session

import (
	"errors"
	"slices"
	"testing"
)

var allStates = []State{Idle, Listening, Streaming, Waiting, Playing}

func allEvents() []Event {
	return []Event{
		Wake{}, WakeEnd{}, SpeechConfirmed{}, ListenTimeout{}, TurnEnded{},
		TurnAborted{Err: errors.New("x")}, Disconnected{}, ResponseStarted{},
		ResponseEnded{}, StopRecording{}, ResponseTimeout{},
	}
}

func TestHandleEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    State
		ev      Event
		to      State
		actions []Action
	}{
		{"idle wake", Idle, Wake{}, Listening,
			[]Action{ActSetFlush, ActStopPlayback, ActPlayTone, ActStartTurn}},
		{"speech confirmed", Listening, SpeechConfirmed{}, Streaming, nil},
		{"listen timeout", Listening, ListenTimeout{}, Idle,
			[]Action{ActCancelTurn, ActEndSession}},
		{"listening stop recording", Listening, StopRecording{}, Idle,
			[]Action{ActCancelTurn, ActEndSession}},
		{"listening wake end", Listening, WakeEnd{}, Idle,
			[]Action{ActCancelTurn, ActEndSession}},
		{"listening disconnect", Listening, Disconnected{}, Idle,
			[]Action{ActCancelTurn, ActEndSession}},
		{"listening abort", Listening, TurnAborted{}, Idle,
			[]Action{ActCancelTurn, ActEndSession}},
		{"turn ended", Streaming, TurnEnded{Reason: EndSilence}, Waiting,
			[]Action{ActArmResponseTimer}},
		{"streaming stop recording", Streaming, StopRecording{}, Streaming,
			[]Action{ActEndTurn}},
		{"streaming wake end", Streaming, WakeEnd{}, Streaming,
			[]Action{ActEndTurn}},
		{"streaming audio start", Streaming, ResponseStarted{}, Playing,
			[]Action{ActEndTurn, ActStartPlayback}},
		{"streaming disconnect", Streaming, Disconnected{}, Idle,
			[]Action{ActCancelTurn, ActEndSession}},
		{"streaming abort", Streaming, TurnAborted{}, Idle,
			[]Action{ActCancelTurn, ActEndSession}},
		{"waiting audio start", Waiting, ResponseStarted{}, Playing,
			[]Action{ActDisarmResponseTimer, ActStartPlayback}},
		{"waiting audio end", Waiting, ResponseEnded{}, Idle,
			[]Action{ActDisarmResponseTimer, ActEndSession}},
		{"waiting abort", Waiting, TurnAborted{}, Idle,
			[]Action{ActDisarmResponseTimer, ActEndSession}},
		{"waiting timeout", Waiting, ResponseTimeout{}, Idle,
			[]Action{ActEndSession}},
		{"waiting disconnect", Waiting, Disconnected{}, Idle,
			[]Action{ActDisarmResponseTimer, ActCancelTurn, ActEndSession}},
		{"playing audio end", Playing, ResponseEnded{}, Idle,
			[]Action{ActEndSession}},
		{"barge-in", Playing, Wake{}, Listening,
			[]Action{ActCancelTurn, ActSetFlush, ActStopPlayback, ActSendBargeIn,
				ActEndSession, ActPlayTone, ActStartTurn}},
		{"playing disconnect", Playing, Disconnected{}, Idle,
			[]Action{ActCancelTurn, ActSetFlush, ActStopPlayback, ActEndSession}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HandleEvent(tt.from, tt.ev)
			if got.Ignored {
				t.Fatalf("HandleEvent(%s, %s) ignored", tt.from, tt.ev)
			}
			if got.From != tt.from || got.To != tt.to {
				t.Errorf("transition = %s → %s, want %s → %s", got.From, got.To, tt.from, tt.to)
			}
			if !slices.Equal(got.Actions, tt.actions) {
				t.Errorf("actions = %v, want %v", got.Actions, tt.actions)
			}
		})
	}
}

func TestHandleEvent_Ignored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from State
		ev   Event
	}{
		{Listening, Wake{}},
		{Streaming, Wake{}},
		{Waiting, Wake{}},
		{Idle, ResponseEnded{}},
		{Listening, ResponseEnded{}},
		{Streaming, ResponseEnded{}},
		{Idle, ResponseStarted{}},
		{Idle, Disconnected{}},
		{Idle, StopRecording{}},
		{Idle, WakeEnd{}},
		{Waiting, StopRecording{}},
		{Playing, TurnEnded{}},
		{Playing, ResponseStarted{}},
		{Listening, ResponseTimeout{}},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			t.Parallel()
			got := HandleEvent(tt.from, tt.ev)
			if !got.Ignored {
				t.Fatalf("HandleEvent(%s, %s) = %s, want ignored", tt.from, tt.ev, got)
			}
			if got.To != tt.from || len(got.Actions) != 0 {
				t.Errorf("ignored transition changed state or has actions: %s", got)
			}
		})
	}
}

// Only Idle→Listening and barge-in create a session; nothing else starts a
// turn, so at most one session can be live.
func TestHandleEvent_OnlyWakeStartsTurns(t *testing.T) {
	t.Parallel()
	for _, s := range allStates {
		for _, ev := range allEvents() {
			tr := HandleEvent(s, ev)
			if !tr.Has(ActStartTurn) {
				continue
			}
			if _, ok := ev.(Wake); !ok {
				t.Errorf("%s starts a turn on %s", s, ev)
			}
			if s != Idle && s != Playing {
				t.Errorf("wake in %s starts a turn", s)
			}
			if s == Playing && !tr.Has(ActEndSession) {
				t.Errorf("barge-in starts a turn without ending the old session")
			}
		}
	}
}

// Waiting is left only through a completion signal, a failure or the bounded
// timeout.
func TestHandleEvent_WaitingExits(t *testing.T) {
	t.Parallel()
	allowed := map[string]bool{
		ResponseStarted{}.String(): true,
		ResponseEnded{}.String():   true,
		ResponseTimeout{}.String(): true,
		TurnAborted{}.String():     true,
		Disconnected{}.String():    true,
	}
	for _, ev := range allEvents() {
		tr := HandleEvent(Waiting, ev)
		if tr.To != Waiting && !allowed[ev.String()] {
			t.Errorf("Waiting left on %s", ev)
		}
	}
}

// Every path back to Idle ends the session.
func TestHandleEvent_IdleEndsSession(t *testing.T) {
	t.Parallel()
	for _, s := range allStates[1:] {
		for _, ev := range allEvents() {
			tr := HandleEvent(s, ev)
			if tr.To == Idle && !tr.Has(ActEndSession) {
				t.Errorf("%s → Idle on %s does not end the session", s, ev)
			}
		}
	}
}

// Before rendering a new response, stale audio is dropped; on barge-in the
// playback is stopped before the service is told.
func TestHandleEvent_ActionOrder(t *testing.T) {
	t.Parallel()

	barge := HandleEvent(Playing, Wake{})
	idx := func(a Action) int { return slices.Index(barge.Actions, a) }
	if !(idx(ActSetFlush) < idx(ActStopPlayback) &&
		idx(ActStopPlayback) < idx(ActSendBargeIn) &&
		idx(ActSendBargeIn) < idx(ActStartTurn)) {
		t.Errorf("barge-in order = %v", barge.Actions)
	}

	disc := HandleEvent(Playing, Disconnected{})
	if disc.Has(ActSendBargeIn) {
		t.Error("disconnect sends BARGE_IN")
	}
}

func TestStringers(t *testing.T) {
	t.Parallel()

	if got := Playing.String(); got != "PLAYING" {
		t.Errorf("Playing.String() = %q", got)
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("State(42).String() = %q", got)
	}
	if got := ActSendBargeIn.String(); got != "send_barge_in" {
		t.Errorf("ActSendBargeIn.String() = %q", got)
	}
	if got := Action(99).String(); got != "Action(99)" {
		t.Errorf("Action(99).String() = %q", got)
	}
	if got := EndMaxDuration.String(); got != "max_duration" {
		t.Errorf("EndMaxDuration.String() = %q", got)
	}
	tr := HandleEvent(Idle, Wake{})
	if got, want := tr.String(), "IDLE --wake--> LISTENING [set_flush stop_playback play_tone start_turn]"; got != want {
		t.Errorf("Transition.String() = %q, want %q", got, want)
	}
	if got, want := HandleEvent(Idle, ResponseEnded{}).String(), "IDLE --audio_end--> (ignored)"; got != want {
		t.Errorf("ignored String() = %q, want %q", got, want)
	}
}
