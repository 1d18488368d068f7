package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS returns the root-mean-square loudness of little-endian int16 PCM on the
// raw sample scale (0 … 32768). A trailing odd byte is ignored. Input shorter
// than one sample yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// SamplesToBytes encodes int16 samples as little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// BytesToSamples decodes little-endian PCM into int16 samples. A trailing odd
// byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return out
}

// ApplyGain scales PCM in place by percent/100 and clamps to the int16 range.
// 100 leaves the data untouched; 0 silences it.
func ApplyGain(pcm []byte, percent int) {
	if percent == 100 {
		return
	}
	if percent < 0 {
		percent = 0
	}
	for i := 0; i+1 < len(pcm); i += BytesPerSample {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		s = s * int32(percent) / 100
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(s)))
	}
}

// Silence returns d worth of zeroed PCM in format f.
func Silence(f Format, d time.Duration) []byte {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	n -= n % (BytesPerSample * max(f.Channels, 1))
	return make([]byte, n)
}
