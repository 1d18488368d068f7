package codec

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// Opus's longest frame is 120 ms.
const opusMaxFrameMs = 120

// Opus decodes one Opus packet per payload.
type Opus struct {
	format   audio.Format
	maxFrame int
	dec      *gopus.Decoder
}

var _ Decoder = (*Opus)(nil)

// NewOpus creates an Opus decoder. f.SampleRate must be one of the rates
// libopus supports (8000, 12000, 16000, 24000, 48000).
func NewOpus(f audio.Format) (*Opus, error) {
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("codec: opus: unsupported channel count %d", f.Channels)
	}
	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}
	return &Opus{
		format:   f,
		maxFrame: f.SampleRate * opusMaxFrameMs / 1000,
		dec:      dec,
	}, nil
}

// Decode implements [Decoder].
func (d *Opus) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	pcm, err := d.dec.Decode(payload, d.maxFrame, false)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return audio.SamplesToBytes(pcm), nil
}

// Reset replaces the libopus decoder state.
func (d *Opus) Reset() error {
	dec, err := gopus.NewDecoder(d.format.SampleRate, d.format.Channels)
	if err != nil {
		return fmt.Errorf("codec: reset opus decoder: %w", err)
	}
	d.dec = dec
	return nil
}

// Format implements [Decoder].
func (d *Opus) Format() audio.Format { return d.format }
