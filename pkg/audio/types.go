package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the width of one little-endian int16 PCM sample.
const BytesPerSample = 2

// AudioFrame is a fixed-size block of captured audio. Frames are read from the
// capture gate one at a time and are owned by the caller for the duration of a
// single processing step; callers that keep a frame must copy Data.
type AudioFrame struct {
	// Data holds little-endian signed 16-bit PCM samples.
	Data []byte

	// SampleRate in Hz (16000 for the device microphone).
	SampleRate int

	// Channels: 1 for mono capture.
	Channels int

	// Seq is the capture order of the frame within the current turn.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to turn start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (BytesPerSample * ch)
}

// Duration returns the playback duration of the frame. Zero when the sample
// rate is unknown.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return f.SampleRate * ch * BytesPerSample
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
