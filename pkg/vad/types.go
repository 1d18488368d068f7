package vad

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Level is the frame's measured level in the engine's native scale.
	Level float64

	// SpeechRun is the number of consecutive loud frames so far.
	SpeechRun int

	// SilenceRun is the number of consecutive quiet frames since speech was
	// confirmed.
	SilenceRun int
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSilence indicates no confirmed speech.
	VADSilence VADEventType = iota

	// VADSpeechStart indicates speech has just been confirmed.
	VADSpeechStart

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates confirmed speech has just ended.
	VADSpeechEnd
)

// String returns the lower-case name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSilence:
		return "silence"
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}
