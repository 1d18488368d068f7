// Package mock provides in-memory implementations of the session engine's
// collaborators ([session.Transport], [session.Player] and
// [session.FrameSource]) for use in unit tests.
//
// All mocks are safe for concurrent use and record every call so that tests
// can assert on order and content.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/internal/transport"
	"github.com/MrWong99/voxgate/pkg/audio"
)

// ─── Transport ───────────────────────────────────────────────────────────────

// Transport is a scripted [session.Transport]. Sends are recorded; inbound
// events are injected with [Transport.Push].
type Transport struct {
	mu        sync.Mutex
	connected bool
	binary    [][]byte
	texts     []string
	log       []string // "bin" or the text message, in send order
	connects  int
	events    chan transport.Event

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// ConnectDelay makes every Connect call take that long.
	ConnectDelay time.Duration

	sendErr error
}

// NewTransport returns a Transport in the given connection state.
func NewTransport(connected bool) *Transport {
	return &Transport{connected: connected, events: make(chan transport.Event, 64)}
}

// Connect implements [session.Transport].
func (t *Transport) Connect(ctx context.Context) error {
	if t.ConnectDelay > 0 {
		select {
		case <-time.After(t.ConnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	t.connected = true
	return nil
}

// IsConnected implements [session.Transport].
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// SendBinary implements [session.Transport].
func (t *Transport) SendBinary(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendErrLocked(); err != nil {
		return err
	}
	t.binary = append(t.binary, append([]byte(nil), data...))
	t.log = append(t.log, "bin")
	return nil
}

// SendText implements [session.Transport].
func (t *Transport) SendText(ctx context.Context, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendErrLocked(); err != nil {
		return err
	}
	t.texts = append(t.texts, msg)
	t.log = append(t.log, msg)
	return nil
}

func (t *Transport) sendErrLocked() error {
	if !t.connected {
		return transport.ErrNotConnected
	}
	return t.sendErr
}

// FailSends makes every later send return err (nil restores success).
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// Events implements [session.Transport].
func (t *Transport) Events() <-chan transport.Event { return t.events }

// Push injects an inbound event.
func (t *Transport) Push(ev transport.Event) { t.events <- ev }

// PushText injects an inbound text frame.
func (t *Transport) PushText(msg string) {
	t.Push(transport.Event{Type: transport.EventText, Text: msg})
}

// PushBinary injects an inbound binary frame.
func (t *Transport) PushBinary(data []byte) {
	t.Push(transport.Event{Type: transport.EventBinary, Data: data})
}

// Drop marks the transport disconnected and emits EventDisconnected.
func (t *Transport) Drop() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.Push(transport.Event{Type: transport.EventDisconnected})
}

// Texts returns the text messages sent so far.
func (t *Transport) Texts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.texts...)
}

// Binary returns the binary messages sent so far.
func (t *Transport) Binary() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.binary))
	copy(out, t.binary)
	return out
}

// BytesSent returns the total size of all binary messages.
func (t *Transport) BytesSent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.binary {
		n += len(b)
	}
	return n
}

// Log returns every send in order: "bin" for binary messages, the message
// itself for text.
func (t *Transport) Log() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.log...)
}

// ConnectCalls returns how many times Connect was called.
func (t *Transport) ConnectCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

var _ session.Transport = (*Transport)(nil)

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a recording [session.Player] with an in-memory buffer. Reset
// advances the epoch; feeds tagged with an older epoch are discarded.
type Player struct {
	mu      sync.Mutex
	calls   []string
	buf     []byte
	tones   int
	playing bool
	epoch   uint64
	feeds   int

	// FeedErr, if non-nil, is returned by FeedEpoch.
	FeedErr error

	// BeforeFeed, if set, runs at the start of every FeedEpoch call before
	// the epoch is checked.
	BeforeFeed func()
}

// Start implements [session.Player].
func (p *Player) Start() { p.record("start", func() { p.playing = true }) }

// Stop implements [session.Player].
func (p *Player) Stop() { p.record("stop", func() { p.playing = false }) }

// Reset implements [session.Player].
func (p *Player) Reset() {
	p.record("reset", func() {
		p.buf = nil
		p.epoch++
	})
}

// PlayTone implements [session.Player].
func (p *Player) PlayTone(pcm []byte) { p.record("tone", func() { p.tones++ }) }

// Epoch implements [session.Player].
func (p *Player) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// FeedEpoch implements [session.Player].
func (p *Player) FeedEpoch(ctx context.Context, epoch uint64, payload []byte) (int, error) {
	if p.BeforeFeed != nil {
		p.BeforeFeed()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeds++
	if p.FeedErr != nil {
		return 0, p.FeedErr
	}
	if epoch != p.epoch {
		return 0, nil
	}
	p.buf = append(p.buf, payload...)
	return len(payload), nil
}

// Feeds returns how many FeedEpoch calls have completed.
func (p *Player) Feeds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feeds
}

func (p *Player) record(name string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
	fn()
}

// Calls returns the control calls in order ("start", "stop", "reset", "tone").
func (p *Player) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Buffered returns the number of fed bytes not discarded by Reset.
func (p *Player) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Playing reports whether Start was called more recently than Stop.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Tones returns how many tones were played.
func (p *Player) Tones() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tones
}

var _ session.Player = (*Player)(nil)

// ─── Frames ──────────────────────────────────────────────────────────────────

// Frames is a scripted [session.FrameSource]. Begin only counts calls; it
// does not discard queued frames, so tests can push frames right after a
// wake without racing the worker.
type Frames struct {
	mu      sync.Mutex
	queue   [][]byte
	ended   bool
	begins  int
	reads   int
	seq     uint64
	changed chan struct{}
}

// NewFrames returns an empty Frames.
func NewFrames() *Frames {
	return &Frames{changed: make(chan struct{})}
}

// Push queues frames.
func (f *Frames) Push(frames ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range frames {
		f.queue = append(f.queue, append([]byte(nil), fr...))
	}
	f.wakeLocked()
}

// End makes ReadFrame report Ended once the queue is drained.
func (f *Frames) End() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	f.wakeLocked()
}

// Pending returns the number of queued frames.
func (f *Frames) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Begins returns how many times Begin was called.
func (f *Frames) Begins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins
}

// Reads returns how many frames were handed out.
func (f *Frames) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Begin implements [session.FrameSource].
func (f *Frames) Begin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	f.seq = 0
}

// ReadFrame implements [session.FrameSource].
func (f *Frames) ReadFrame(ctx context.Context, timeout time.Duration) (audio.AudioFrame, capture.Status) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			data := f.queue[0]
			f.queue = f.queue[1:]
			f.reads++
			fr := audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1, Seq: f.seq}
			f.seq++
			f.mu.Unlock()
			return fr, capture.FrameOK
		}
		if f.ended {
			f.mu.Unlock()
			return audio.AudioFrame{}, capture.Ended
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return audio.AudioFrame{}, capture.Ended
		case <-t.C:
			return audio.AudioFrame{}, capture.Empty
		case <-ch:
		}
	}
}

func (f *Frames) wakeLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

var _ session.FrameSource = (*Frames)(nil)
