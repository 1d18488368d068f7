// Package capture moves microphone audio from an [audio.Source] into the
// capture ring and hands it to the stream worker as fixed-size frames.
//
// [Pump] runs for the lifetime of the process and never blocks on a slow
// consumer: when the ring is full the newest bytes are dropped and counted.
// [Reader] is used by one turn at a time; it reports every read as a frame,
// an empty read (timeout) or the end of the source.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/ringbuf"
)

// Pump copies audio from a Source into a ring buffer.
type Pump struct {
	src      audio.Source
	ring     *ringbuf.Buffer
	chunk    int
	retry    resilience.Policy
	metrics  *observe.Metrics
	overflow atomic.Int64
}

// PumpOption is a functional option for [NewPump].
type PumpOption func(*Pump)

// WithChunkSize sets the size of each Source read. Default: 4096 bytes.
func WithChunkSize(n int) PumpOption {
	return func(p *Pump) { p.chunk = n }
}

// WithRetryPolicy sets the backoff applied after transient read errors.
func WithRetryPolicy(rp resilience.Policy) PumpOption {
	return func(p *Pump) { p.retry = rp }
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) PumpOption {
	return func(p *Pump) { p.metrics = m }
}

// NewPump creates a pump from src into ring.
func NewPump(src audio.Source, ring *ringbuf.Buffer, opts ...PumpOption) *Pump {
	p := &Pump{
		src:   src,
		ring:  ring,
		chunk: 4096,
		retry: resilience.Policy{Initial: 10 * time.Millisecond, Max: time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Run pumps until ctx is cancelled or the source ends. The ring is closed on
// return so readers observe the end of capture. Source errors other than
// io.EOF are treated as transient and retried with backoff.
func (p *Pump) Run(ctx context.Context) error {
	defer p.ring.Close()

	buf := make([]byte, p.chunk)
	b := p.retry.New()
	for {
		n, err := p.src.Read(ctx, buf)
		if n > 0 {
			p.push(ctx, buf[:n])
		}
		switch {
		case err == nil:
			b.Reset()
		case errors.Is(err, io.EOF):
			slog.Info("capture: source ended")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			d := b.Next()
			slog.Warn("capture: read failed, retrying", "err", err, "backoff", d)
			if werr := resilience.Wait(ctx, d); werr != nil {
				return nil
			}
		}
	}
}

func (p *Pump) push(ctx context.Context, data []byte) {
	w, err := p.ring.TryWrite(data)
	if err != nil {
		return
	}
	if dropped := len(data) - w; dropped > 0 {
		total := p.overflow.Add(int64(dropped))
		p.metrics.CaptureOverflowBytes.Add(ctx, int64(dropped))
		slog.Debug("capture: ring full, dropping newest audio", "dropped", dropped, "total_dropped", total)
	}
}

// Overflow returns the total number of bytes dropped on a full ring.
func (p *Pump) Overflow() int64 { return p.overflow.Load() }

// Status is the outcome of [Reader.ReadFrame].
type Status int

const (
	// FrameOK means a frame with at least one sample was returned.
	FrameOK Status = iota

	// Empty means no audio arrived within the timeout.
	Empty

	// Ended means the source is exhausted and no more frames will come.
	Ended
)

// String returns a lower-case name for s.
func (s Status) String() string {
	switch s {
	case FrameOK:
		return "frame"
	case Empty:
		return "empty"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Reader slices the capture ring into frames for one turn at a time.
type Reader struct {
	ring       *ringbuf.Buffer
	format     audio.Format
	frameBytes int

	seq   uint64
	start time.Time
}

// NewReader returns a Reader that yields frames of frameSamples samples per
// channel in format f.
func NewReader(ring *ringbuf.Buffer, f audio.Format, frameSamples int) *Reader {
	ch := max(f.Channels, 1)
	return &Reader{
		ring:       ring,
		format:     f,
		frameBytes: frameSamples * ch * audio.BytesPerSample,
	}
}

// FrameBytes returns the size of a full frame.
func (r *Reader) FrameBytes() int { return r.frameBytes }

// Begin starts a new turn: audio buffered before the call is discarded and
// frame numbering restarts.
func (r *Reader) Begin() {
	r.ring.Reset()
	r.seq = 0
	r.start = time.Now()
}

// ReadFrame waits up to timeout for a full frame. A frame cut short by the
// timeout or by the end of the source is still returned (trimmed to whole
// samples) with FrameOK. Empty is returned when nothing arrived, Ended once
// the source is exhausted and drained. ctx cancellation is reported as Ended.
func (r *Reader) ReadFrame(ctx context.Context, timeout time.Duration) (audio.AudioFrame, Status) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf := make([]byte, r.frameBytes)
	n, err := r.ring.ReadFull(rctx, buf)
	n -= n % audio.BytesPerSample
	if n == 0 {
		if err == nil || errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return audio.AudioFrame{}, Empty
		}
		return audio.AudioFrame{}, Ended
	}
	frame := audio.AudioFrame{
		Data:       buf[:n],
		SampleRate: r.format.SampleRate,
		Channels:   max(r.format.Channels, 1),
		Seq:        r.seq,
		Timestamp:  time.Since(r.start),
	}
	r.seq++
	return frame, FrameOK
}
