package transport

// Control vocabulary exchanged as text frames. Everything else on the wire is
// binary little-endian int16 PCM (outbound) or encoded response audio
// (inbound).
const (
	// MsgEnd marks the end of the captured utterance.
	MsgEnd = "END"

	// MsgBargeIn tells the service the user interrupted the response.
	MsgBargeIn = "BARGE_IN"

	// MsgAudioStart announces the first response audio frame.
	MsgAudioStart = "AUDIO_START"

	// MsgAudioEnd marks the end of the response audio.
	MsgAudioEnd = "AUDIO_END"

	// MsgStopRecording asks the device to stop capturing.
	MsgStopRecording = "STOP_RECORDING"
)

// EventType classifies an [Event].
type EventType int

const (
	// EventConnected is emitted after a successful dial.
	EventConnected EventType = iota

	// EventDisconnected is emitted once per lost connection.
	EventDisconnected

	// EventText carries an inbound text frame in Event.Text.
	EventText

	// EventBinary carries an inbound binary frame in Event.Data.
	EventBinary

	// EventError reports a non-fatal failure in Event.Err.
	EventError
)

// String returns the lower-case name of the event type.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventText:
		return "text"
	case EventBinary:
		return "binary"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a notification from the connection's receive side.
type Event struct {
	Type EventType
	Text string
	Data []byte
	Err  error
}
