package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// ToneSegment is one sine segment of a synthesized tone.
type ToneSegment struct {
	Frequency float64
	Duration  time.Duration
	// Amplitude in the range (0, 1].
	Amplitude float64
}

// fadeDuration is applied at both ends of each segment to avoid clicks.
const fadeDuration = 5 * time.Millisecond

// Tone synthesizes the given segments as 16-bit PCM in format f. Each mono
// sample is duplicated across all channels.
func Tone(f Format, segments ...ToneSegment) []byte {
	ch := max(f.Channels, 1)
	var out []byte
	for _, seg := range segments {
		n := int(int64(f.SampleRate) * int64(seg.Duration) / int64(time.Second))
		fade := int(int64(f.SampleRate) * int64(fadeDuration) / int64(time.Second))
		buf := make([]byte, n*ch*BytesPerSample)
		for i := range n {
			env := 1.0
			if fade > 0 {
				if i < fade {
					env = float64(i) / float64(fade)
				} else if n-i < fade {
					env = float64(n-i) / float64(fade)
				}
			}
			v := seg.Amplitude * env * math.Sin(2*math.Pi*seg.Frequency*float64(i)/float64(f.SampleRate))
			s := uint16(int16(v * math.MaxInt16))
			for c := range ch {
				binary.LittleEndian.PutUint16(buf[(i*ch+c)*BytesPerSample:], s)
			}
		}
		out = append(out, buf...)
	}
	return out
}

// ConfirmationTone is the two-note chime played when a wake event opens a
// session.
func ConfirmationTone(f Format) []byte {
	return Tone(f,
		ToneSegment{Frequency: 880, Duration: 120 * time.Millisecond, Amplitude: 0.4},
		ToneSegment{Frequency: 660, Duration: 180 * time.Millisecond, Amplitude: 0.4},
	)
}
