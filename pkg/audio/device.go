// Package audio defines the device-facing abstractions of voxgate and the PCM
// helpers shared by the capture and playback paths.
//
// The session engine never talks to hardware directly. It consumes three
// narrow collaborators:
//
//   - [Source] — the blocking "read next captured audio" call exposed by the
//     wake-word front-end.
//   - [Sink] — the speaker output stage, fed with decoded PCM.
//   - [WakeSource] — the wake-phrase detector, delivering [WakeEvent] values.
//
// Implementations live in adapter packages (audio/portaudio for real devices,
// audio/mock for tests).
package audio

import (
	"context"
	"time"
)

// Source delivers captured PCM audio.
//
// Read blocks until at least one byte is available, ctx is done, or the
// source has ended. It returns io.EOF once the source is exhausted and will
// never produce data again.
//
// Implementations must be safe for use by a single reader goroutine.
type Source interface {
	Read(ctx context.Context, p []byte) (int, error)

	// Format reports the PCM format of the captured audio.
	Format() Format
}

// Sink renders PCM audio on the output device.
//
// Write blocks until the device has accepted p, ctx is done, or the device
// failed. Flush discards any audio queued inside the device (DMA buffers,
// driver queues) so that nothing written before the call is heard after it.
//
// Implementations must tolerate Flush being called concurrently with Write.
type Sink interface {
	Write(ctx context.Context, p []byte) (int, error)
	Flush() error

	// Format reports the PCM format the device expects.
	Format() Format
}

// WakeEventType classifies events emitted by a [WakeSource].
type WakeEventType int

const (
	// WakeStart is emitted when the trigger phrase was recognised.
	WakeStart WakeEventType = iota

	// WakeEnd is emitted when the detector closes its listening window.
	WakeEnd
)

// String returns the human-readable name of the event type.
func (t WakeEventType) String() string {
	switch t {
	case WakeStart:
		return "WAKE_START"
	case WakeEnd:
		return "WAKE_END"
	default:
		return "UNKNOWN"
	}
}

// WakeEvent is a single notification from the wake-phrase detector.
type WakeEvent struct {
	Type WakeEventType

	// At is the time the detector fired.
	At time.Time

	// Origin names what produced the event (e.g. "detector", "http").
	Origin string
}

// WakeSource is the wake-phrase detector. The returned channel stays open for
// the lifetime of the source.
type WakeSource interface {
	WakeEvents() <-chan WakeEvent
}

// Device bundles the capture and playback ends of one audio back-end.
type Device interface {
	Source() Source
	Sink() Sink
	Close() error
}
