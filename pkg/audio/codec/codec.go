// Package codec turns response payloads received from the inference service
// into little-endian int16 PCM for the playback engine.
//
// Two decoders are provided: [PCM] (raw passthrough that repairs sample
// boundaries split across frames) and [Opus] (one packet per binary frame,
// backed by libopus through gopus). Decoders carry stream state and are reset
// on barge-in so that nothing from an interrupted response leaks into the next.
package codec

import (
	"fmt"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// Decoder converts one inbound payload to PCM. Implementations are not safe
// for concurrent use; the playback engine serialises calls.
type Decoder interface {
	// Decode returns the PCM contained in payload. It may return an empty
	// slice when the payload completes no sample.
	Decode(payload []byte) ([]byte, error)

	// Reset discards any stream state carried between payloads.
	Reset() error

	// Format reports the PCM format produced by Decode.
	Format() audio.Format
}

// Names of the built-in decoders as used in configuration.
const (
	NamePCM  = "pcm"
	NameOpus = "opus"
)

// New returns the decoder registered under name, producing PCM in format f.
func New(name string, f audio.Format) (Decoder, error) {
	switch name {
	case "", NamePCM:
		return NewPCM(f), nil
	case NameOpus:
		return NewOpus(f)
	default:
		return nil, fmt.Errorf("codec: unknown decoder %q", name)
	}
}
