package audio

import (
	"log/slog"
	"sync"
)

// Converter converts PCM chunks from a source format to the format expected by
// a [Sink]. It logs once on the first mismatch and drops chunks that are not
// aligned to whole frames.
//
// Create one per stream; a Converter is not safe for concurrent use.
type Converter struct {
	From Format
	To   Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns pcm in the target format. When the formats match, pcm is
// returned unchanged. Conversion order: resample first, then channel convert.
func (c *Converter) Convert(pcm []byte) []byte {
	frameBytes := BytesPerSample * max(c.From.Channels, 1)
	if len(pcm)%frameBytes != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: chunk not aligned to whole frames, dropping",
				"bytes", len(pcm),
				"format", c.From.String(),
			)
		})
		return nil
	}

	if c.From == c.To {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio converter: converting",
			"from", c.From.String(),
			"to", c.To.String(),
		)
	})

	rate := c.From.SampleRate
	channels := c.From.Channels

	if rate != c.To.SampleRate {
		if channels == 2 {
			pcm = ResampleStereo16(pcm, rate, c.To.SampleRate)
		} else {
			pcm = ResampleMono16(pcm, rate, c.To.SampleRate)
		}
	}

	if channels != c.To.Channels {
		switch {
		case channels <= 1 && c.To.Channels == 2:
			pcm = MonoToStereo(pcm)
		case channels == 2 && c.To.Channels == 1:
			pcm = StereoToMono(pcm)
		}
	}
	return pcm
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or are invalid, pcm is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 1)
}

// ResampleStereo16 resamples interleaved 16-bit stereo PCM from srcRate to
// dstRate using linear interpolation on each channel.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 2)
}

func resample16(pcm []byte, srcRate, dstRate, channels int) []byte {
	frameBytes := 2 * channels
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameBytes {
		return pcm
	}
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) int16 {
		off := frame*frameBytes + ch*2
		return int16(pcm[off]) | int16(pcm[off+1])<<8
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0, s1 := sample(idx, ch), sample(next, ch)
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			off := i*frameBytes + ch*2
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
		}
	}
	return out
}
