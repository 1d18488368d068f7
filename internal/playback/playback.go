// Package playback renders response audio received from the inference
// service.
//
// Payloads pass through a [codec.Decoder] into a bounded ring; a render
// worker ([Engine.Run]) pulls from the ring, converts to the device format,
// applies the volume and writes to the [audio.Sink]. The confirmation tone
// bypasses the ring and has priority over response audio.
//
// [Engine.Reset] starts a new epoch: feeds that began before it are
// discarded, the ring and decoder state are cleared and the sink is flushed.
// Once Reset returns no pre-reset audio can reach the sink.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/codec"
	"github.com/MrWong99/voxgate/pkg/audio/ringbuf"
)

// ErrDropped is returned by [Engine.Feed] when the ring stayed full for the
// whole write timeout and the remainder of the payload was discarded.
var ErrDropped = errors.New("playback: audio dropped")

const (
	defaultBufferBytes  = 32 * 1024
	defaultWriteTimeout = 2 * time.Second
	defaultVolume       = 80
	renderChunkBytes    = 4096
	renderPoll          = 50 * time.Millisecond
)

// Config tunes an [Engine].
type Config struct {
	// BufferBytes is the ring capacity. Default: 32 KiB.
	BufferBytes int

	// WriteTimeout bounds how long Feed retries against a full ring.
	// Default: 2s.
	WriteTimeout time.Duration

	// Retry is the backoff between Feed attempts. Default: 10ms doubling to
	// 100ms.
	Retry resilience.Policy

	// Volume is the initial volume in percent. Default: 80.
	Volume *int

	// Metrics records dropped audio. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Engine is the playback pipeline. Feed, Reset, Start, Stop and PlayTone may
// be called from any goroutine; Run must be called exactly once.
type Engine struct {
	sink    audio.Sink
	dec     codec.Decoder
	conv    *audio.Converter
	ring    *ringbuf.Buffer
	cfg     Config
	metrics *observe.Metrics
	align   int

	writeMu  sync.Mutex // guards epoch bumps, ring access and the decoder
	renderMu sync.Mutex // held while a chunk is handed to the sink
	epoch    atomic.Uint64
	started  atomic.Bool
	volume   atomic.Int32

	startCh chan struct{}
	toneCh  chan []byte
}

// New creates an Engine that decodes with dec and renders to sink.
func New(sink audio.Sink, dec codec.Decoder, cfg Config) *Engine {
	if cfg.BufferBytes <= 0 {
		cfg.BufferBytes = defaultBufferBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Retry.Initial <= 0 {
		cfg.Retry.Initial = 10 * time.Millisecond
	}
	if cfg.Retry.Max <= 0 {
		cfg.Retry.Max = 100 * time.Millisecond
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	e := &Engine{
		sink:    sink,
		dec:     dec,
		conv:    &audio.Converter{From: dec.Format(), To: sink.Format()},
		ring:    ringbuf.New(cfg.BufferBytes),
		cfg:     cfg,
		metrics: m,
		align:   max(dec.Format().Channels, 1) * audio.BytesPerSample,
		startCh: make(chan struct{}, 1),
		toneCh:  make(chan []byte, 1),
	}
	vol := defaultVolume
	if cfg.Volume != nil {
		vol = *cfg.Volume
	}
	e.SetVolume(vol)
	return e
}

// Start lets the render worker pull response audio.
func (e *Engine) Start() {
	e.started.Store(true)
	select {
	case e.startCh <- struct{}{}:
	default:
	}
}

// Stop pauses rendering. Buffered audio is kept until Reset.
func (e *Engine) Stop() { e.started.Store(false) }

// Playing reports whether the render worker is pulling response audio.
func (e *Engine) Playing() bool { return e.started.Load() }

// Reset discards all pending response audio and decoder state and flushes
// the sink. It waits for an in-flight sink write to finish.
func (e *Engine) Reset() {
	e.writeMu.Lock()
	e.epoch.Add(1)
	e.ring.Reset()
	if err := e.dec.Reset(); err != nil {
		slog.Warn("playback: decoder reset failed", "err", err)
	}
	e.writeMu.Unlock()

	e.renderMu.Lock()
	if err := e.sink.Flush(); err != nil {
		slog.Warn("playback: sink flush failed", "err", err)
	}
	e.renderMu.Unlock()
}

// Buffered returns the number of decoded bytes waiting in the ring.
func (e *Engine) Buffered() int { return e.ring.Len() }

// Volume returns the current volume in percent.
func (e *Engine) Volume() int { return int(e.volume.Load()) }

// SetVolume sets the volume, clamped to [0, 100], and returns the value set.
func (e *Engine) SetVolume(percent int) int {
	percent = min(max(percent, 0), 100)
	e.volume.Store(int32(percent))
	return percent
}

// AdjustVolume adds delta to the volume (clamped) and returns the new value.
func (e *Engine) AdjustVolume(delta int) int {
	for {
		cur := e.volume.Load()
		next := int32(min(max(int(cur)+delta, 0), 100))
		if e.volume.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

// PlayTone queues pcm (already in the sink's format) ahead of response
// audio. A tone that has not started yet is replaced.
func (e *Engine) PlayTone(pcm []byte) {
	for {
		select {
		case e.toneCh <- pcm:
			return
		default:
		}
		select {
		case <-e.toneCh:
		default:
		}
	}
}

// Epoch identifies the current playback epoch. Every Reset starts a new one.
func (e *Engine) Epoch() uint64 { return e.epoch.Load() }

// Feed decodes payload and writes it into the ring. While the ring is full
// it backs off exponentially and retries until the write timeout, after
// which the remainder is dropped and ErrDropped returned. A Reset during the
// call discards the rest of payload without error. The returned count is the
// number of decoded bytes accepted.
func (e *Engine) Feed(ctx context.Context, payload []byte) (int, error) {
	return e.FeedEpoch(ctx, e.Epoch(), payload)
}

// FeedEpoch is Feed for a payload that was accepted while epoch was
// current. If a Reset has happened since, payload is discarded untouched.
func (e *Engine) FeedEpoch(ctx context.Context, epoch uint64, payload []byte) (int, error) {
	e.writeMu.Lock()
	ep := e.epoch.Load()
	if ep != epoch {
		e.writeMu.Unlock()
		return 0, nil
	}
	pcm, err := e.dec.Decode(payload)
	e.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("playback: decode: %w", err)
	}

	deadline := time.Now().Add(e.cfg.WriteTimeout)
	b := e.cfg.Retry.New()
	written := 0
	for written < len(pcm) {
		n, stale := e.writeAligned(ep, pcm[written:])
		if stale {
			return written, nil
		}
		if n > 0 {
			written += n
			b.Reset()
			continue
		}

		d := b.Next()
		if time.Now().Add(d).After(deadline) {
			dropped := len(pcm) - written
			e.metrics.PlaybackDroppedBytes.Add(ctx, int64(dropped))
			slog.Warn("playback: ring full, dropping audio",
				"dropped", dropped,
				"buffered", e.ring.Len(),
				"timeout", e.cfg.WriteTimeout)
			return written, ErrDropped
		}
		if err := resilience.Wait(ctx, d); err != nil {
			return written, err
		}
	}
	return written, nil
}

// writeAligned writes as many whole sample frames of p as fit.
func (e *Engine) writeAligned(ep uint64, p []byte) (n int, stale bool) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.epoch.Load() != ep {
		return 0, true
	}
	free := e.ring.Free()
	n = min(free, len(p))
	n -= n % e.align
	if n == 0 {
		return 0, false
	}
	w, err := e.ring.TryWrite(p[:n])
	if err != nil {
		return 0, true
	}
	return w, false
}

// Run is the render worker. It returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	chunk := renderChunkBytes - renderChunkBytes%e.align
	buf := make([]byte, chunk)
	for {
		select {
		case <-ctx.Done():
			return nil
		case tone := <-e.toneCh:
			e.render(ctx, e.epoch.Load(), tone, false)
			continue
		default:
		}

		if !e.started.Load() {
			select {
			case <-ctx.Done():
				return nil
			case tone := <-e.toneCh:
				e.render(ctx, e.epoch.Load(), tone, false)
			case <-e.startCh:
			}
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, renderPoll)
		err := e.ring.Wait(wctx)
		cancel()
		if err != nil {
			continue
		}

		// Snapshot the epoch together with the read so the chunk is tagged
		// with the epoch it was written in.
		e.writeMu.Lock()
		ep := e.epoch.Load()
		n, _ := e.ring.TryRead(buf)
		e.writeMu.Unlock()
		if n == 0 {
			continue
		}
		pcm := e.conv.Convert(buf[:n])
		if len(pcm) == 0 {
			continue
		}
		e.render(ctx, ep, pcm, true)
	}
}

// render hands pcm to the sink unless a Reset happened since ep was read.
func (e *Engine) render(ctx context.Context, ep uint64, pcm []byte, gain bool) {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	if e.epoch.Load() != ep {
		return
	}
	if gain {
		audio.ApplyGain(pcm, e.Volume())
	}
	if _, err := e.sink.Write(ctx, pcm); err != nil && ctx.Err() == nil {
		slog.Warn("playback: sink write failed", "err", err)
	}
}
