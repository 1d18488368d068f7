package codec

import "github.com/MrWong99/voxgate/pkg/audio"

// PCM is a passthrough decoder for raw int16 PCM. A trailing odd byte is held
// back and prefixed to the next payload so samples are never split.
type PCM struct {
	format audio.Format
	carry  []byte
}

var _ Decoder = (*PCM)(nil)

// NewPCM returns a passthrough decoder for format f.
func NewPCM(f audio.Format) *PCM { return &PCM{format: f} }

// Decode implements [Decoder].
func (d *PCM) Decode(payload []byte) ([]byte, error) {
	var buf []byte
	if len(d.carry) > 0 {
		buf = append(d.carry, payload...)
		d.carry = nil
	} else {
		buf = payload
	}
	frame := d.format.Channels * audio.BytesPerSample
	if frame <= 0 {
		frame = audio.BytesPerSample
	}
	whole := len(buf) - len(buf)%frame
	if whole < len(buf) {
		d.carry = append([]byte(nil), buf[whole:]...)
	}
	return buf[:whole], nil
}

// Reset implements [Decoder].
func (d *PCM) Reset() error {
	d.carry = nil
	return nil
}

// Format implements [Decoder].
func (d *PCM) Format() audio.Format { return d.format }
