package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/playback"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/internal/transport"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// ErrStopped is returned by [Engine.Post] and [Engine.Dispatch] once Run has
// returned.
var ErrStopped = errors.New("session: engine stopped")

// ── Collaborators ─────────────────────────────────────────────────────────────

// Transport is the duplex channel to the inference service.
type Transport interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	SendBinary(ctx context.Context, data []byte) error
	SendText(ctx context.Context, msg string) error
	Events() <-chan transport.Event
}

// Player renders response audio.
type Player interface {
	Start()
	Stop()
	Reset()
	Epoch() uint64
	FeedEpoch(ctx context.Context, epoch uint64, payload []byte) (int, error)
	PlayTone(pcm []byte)
}

// FrameSource yields captured frames for one turn at a time.
type FrameSource interface {
	Begin()
	ReadFrame(ctx context.Context, timeout time.Duration) (audio.AudioFrame, capture.Status)
}

var (
	_ Transport   = (*transport.Client)(nil)
	_ Player      = (*playback.Engine)(nil)
	_ FrameSource = (*capture.Reader)(nil)
)

// Deps bundles the engine's collaborators. VAD defaults to
// [vad.EnergyEngine].
type Deps struct {
	Transport Transport
	Player    Player
	Frames    FrameSource
	VAD       vad.Engine
}

// ── Configuration ─────────────────────────────────────────────────────────────

// Strategy selects how a turn decides that the user is speaking.
type Strategy string

const (
	// StrategyLocal gates streaming on the on-device energy detector and
	// ends the turn on a silence run.
	StrategyLocal Strategy = "local"

	// StrategyServer streams right after wake and leaves end-of-speech to
	// the service (STOP_RECORDING), the turn limit or a capture stall.
	StrategyServer Strategy = "server"
)

// Default engine parameters.
const (
	defaultReadTimeout     = 100 * time.Millisecond
	defaultListenTimeout   = 5 * time.Second
	defaultMaxTurn         = 30 * time.Second
	defaultResponseTimeout = 15 * time.Second
	defaultBatchBytes      = 8192
	defaultConnectPolls    = 5
	defaultMaxEmptyReads   = 20
	defaultEventBuffer     = 64
)

// Config tunes the engine. Zero values select the defaults noted per field.
type Config struct {
	// Strategy is the speech gating mode. Default: StrategyLocal.
	Strategy Strategy

	// VAD configures the per-turn gate.
	VAD vad.Config

	// IgnoreFrames are dropped right after wake (tone and detector residue).
	IgnoreFrames int

	// PrerollFrames is how many frames before the confirming speech run are
	// kept and sent once speech is confirmed.
	PrerollFrames int

	// MaxEmptyReads consecutive empty reads count as "no data". Default: 20.
	MaxEmptyReads int

	// ReadTimeout bounds a single frame read. Default: 100ms.
	ReadTimeout time.Duration

	// ListenTimeout bounds Listening once the transport is up and the
	// residue frames are skipped. Default: 5s.
	ListenTimeout time.Duration

	// MaxTurnDuration bounds Streaming. Default: 30s.
	MaxTurnDuration time.Duration

	// ResponseTimeout bounds Waiting. Default: 15s.
	ResponseTimeout time.Duration

	// BatchBytes is the size of outbound audio messages. Default: 8192.
	BatchBytes int

	// ConnectPolls is the number of connect attempts made on wake when the
	// transport is down. Default: 5.
	ConnectPolls int

	// ConnectBackoff separates connect attempts.
	ConnectBackoff resilience.Policy

	// ProgressLogBytes logs a progress line every that many bytes sent.
	// Zero disables progress logs.
	ProgressLogBytes int64

	// Tone is played on wake. Nil plays nothing.
	Tone []byte
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyLocal
	}
	if c.VAD.MinSpeechFrames <= 0 {
		c.VAD.MinSpeechFrames = vad.DefaultMinSpeechFrames
	}
	if c.VAD.SilenceFrames <= 0 {
		c.VAD.SilenceFrames = vad.DefaultSilenceFrames
	}
	c.IgnoreFrames = max(c.IgnoreFrames, 0)
	c.PrerollFrames = max(c.PrerollFrames, 0)
	if c.MaxEmptyReads <= 0 {
		c.MaxEmptyReads = defaultMaxEmptyReads
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.ListenTimeout <= 0 {
		c.ListenTimeout = defaultListenTimeout
	}
	if c.MaxTurnDuration <= 0 {
		c.MaxTurnDuration = defaultMaxTurn
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = defaultResponseTimeout
	}
	if c.BatchBytes <= 0 {
		c.BatchBytes = defaultBatchBytes
	}
	if c.ConnectPolls <= 0 {
		c.ConnectPolls = defaultConnectPolls
	}
	return c
}

// Option customises an [Engine].
type Option func(*Engine)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithObserver registers fn to be called on the actor goroutine after every
// transition, including ignored events. fn must not block.
func WithObserver(fn func(Transition)) Option {
	return func(e *Engine) { e.observer = fn }
}

// ── Engine ────────────────────────────────────────────────────────────────────

type envelope struct {
	ev   Event
	done chan struct{}
}

// turn is the handle the actor keeps on a running stream worker.
type turn struct {
	id      uint64
	cancel  context.CancelFunc
	done    chan struct{}
	endReq  chan struct{}
	endOnce sync.Once

	bytesSent  atomic.Int64
	speechRun  atomic.Int32
	silenceRun atomic.Int32
}

func (t *turn) requestEnd() { t.endOnce.Do(func() { close(t.endReq) }) }

func (t *turn) ending() bool {
	select {
	case <-t.endReq:
		return true
	default:
		return false
	}
}

// Engine runs the session state machine.
type Engine struct {
	cfg      Config
	deps     Deps
	metrics  *observe.Metrics
	observer func(Transition)

	events  chan envelope
	stopped chan struct{}
	runOnce sync.Once

	state atomic.Int32
	flush atomic.Bool

	// Owned by the actor goroutine.
	sess     *Session
	cur      *turn
	timer    *time.Timer
	lastTurn uint64

	mu   sync.Mutex // guards snap and live
	snap Session
	live *turn
}

// New validates deps and returns an idle Engine. Call [Engine.Run] and
// [Engine.Deliver] to start it.
func New(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	var errs []error
	if deps.Transport == nil {
		errs = append(errs, errors.New("transport is required"))
	}
	if deps.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if deps.Frames == nil {
		errs = append(errs, errors.New("frame source is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: new engine: %w", err)
	}
	if deps.VAD == nil {
		deps.VAD = vad.EnergyEngine{}
	}
	cfg = cfg.withDefaults()
	if cfg.Strategy != StrategyLocal && cfg.Strategy != StrategyServer {
		return nil, fmt.Errorf("session: new engine: unknown strategy %q", cfg.Strategy)
	}

	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		events:  make(chan envelope, defaultEventBuffer),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e, nil
}

// State returns the current state without waiting for the actor.
func (e *Engine) State() State { return State(e.state.Load()) }

// Flushing reports whether inbound response audio is being discarded.
func (e *Engine) Flushing() bool { return e.flush.Load() }

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	st := e.State()
	e.mu.Lock()
	snap, live := e.snap, e.live
	e.mu.Unlock()

	s := Status{
		State:     st,
		StateName: st.String(),
		Flush:     e.flush.Load(),
	}
	if snap.ID != "" {
		s.SessionID = snap.ID
		s.Turn = snap.Turn
		s.Since = snap.Start
	}
	if live != nil {
		s.BytesSent = live.bytesSent.Load()
		s.SpeechRun = int(live.speechRun.Load())
		s.SilenceRun = int(live.silenceRun.Load())
	}
	return s
}

// Wake posts a wake event.
func (e *Engine) Wake(ctx context.Context, origin string) error {
	return e.Post(ctx, Wake{Origin: origin})
}

// Post queues ev for the actor. It blocks while the queue is full.
func (e *Engine) Post(ctx context.Context, ev Event) error {
	select {
	case e.events <- envelope{ev: ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

// Dispatch queues ev and waits until the actor has applied it.
func (e *Engine) Dispatch(ctx context.Context, ev Event) error {
	done := make(chan struct{})
	select {
	case e.events <- envelope{ev: ev, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

// Run is the actor loop. It returns nil when ctx is cancelled, after stopping
// the running turn.
func (e *Engine) Run(ctx context.Context) error {
	defer e.runOnce.Do(func() { close(e.stopped) })
	defer e.shutdown(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-e.events:
			e.handle(ctx, env.ev)
			if env.done != nil {
				close(env.done)
			}
		}
	}
}

func (e *Engine) shutdown(ctx context.Context) {
	e.disarmTimer()
	e.cancelTurn()
	if e.sess != nil {
		e.endSession(ctx, nil)
	}
	e.setState(Idle)
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	if n, ok := turnOf(ev); ok && (e.sess == nil || n != e.sess.Turn) {
		slog.Debug("session: dropping stale event", "event", ev.String(), "turn", n)
		return
	}

	from := e.State()
	tr := HandleEvent(from, ev)
	if tr.Ignored {
		slog.Debug("session: event ignored", "state", from.String(), "event", ev.String())
		e.notify(tr)
		return
	}

	e.record(ctx, tr)
	for _, a := range tr.Actions {
		e.apply(ctx, a, ev)
	}
	e.setState(tr.To)
	e.metrics.RecordTransition(ctx, from.String(), tr.To.String())

	log := slog.Default()
	if e.sess != nil {
		log = log.With("session_id", e.sess.ID, "turn", e.sess.Turn)
	}
	log.Info("session: transition", "from", from.String(), "to", tr.To.String(), "event", ev.String())
	e.notify(tr)
}

func (e *Engine) notify(tr Transition) {
	if e.observer != nil {
		e.observer(tr)
	}
}

// record handles the bookkeeping that depends on the event rather than on a
// single action.
func (e *Engine) record(ctx context.Context, tr Transition) {
	switch ev := tr.Event.(type) {
	case Wake:
		if tr.From == Playing {
			e.metrics.BargeIns.Add(ctx, 1)
			slog.Info("session: barge-in", "origin", ev.Origin)
		}
	case ResponseTimeout:
		e.metrics.ResponseTimeouts.Add(ctx, 1)
		slog.Warn("session: no response from service, giving up on turn",
			"timeout", e.cfg.ResponseTimeout)
	case TurnAborted:
		slog.Warn("session: turn aborted", "state", tr.From.String(), "err", ev.Err)
	case Disconnected:
		if tr.From != Idle {
			slog.Warn("session: transport lost", "state", tr.From.String())
		}
	}
}

func (e *Engine) apply(ctx context.Context, a Action, ev Event) {
	switch a {
	case ActSetFlush:
		e.flush.Store(true)
	case ActStopPlayback:
		e.deps.Player.Stop()
		e.deps.Player.Reset()
	case ActSendBargeIn:
		if err := e.deps.Transport.SendText(ctx, transport.MsgBargeIn); err != nil {
			slog.Warn("session: failed to send barge-in", "err", err)
		}
	case ActPlayTone:
		if len(e.cfg.Tone) > 0 {
			e.deps.Player.PlayTone(e.cfg.Tone)
		}
	case ActStartTurn:
		e.startTurn(ctx, ev)
	case ActEndTurn:
		if e.cur != nil {
			e.cur.requestEnd()
		}
	case ActCancelTurn:
		e.cancelTurn()
	case ActArmResponseTimer:
		e.armTimer(ctx)
	case ActDisarmResponseTimer:
		e.disarmTimer()
	case ActStartPlayback:
		e.deps.Player.Reset()
		e.flush.Store(false)
		e.deps.Player.Start()
		if e.sess != nil && e.sess.FirstAudio.IsZero() {
			e.sess.FirstAudio = time.Now()
			if !e.sess.EndSent.IsZero() {
				e.metrics.ResponseLatency.Record(ctx, e.sess.FirstAudio.Sub(e.sess.EndSent).Seconds())
			}
		}
	case ActEndSession:
		e.endSession(ctx, ev)
	}
}

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// ── Turn lifecycle ────────────────────────────────────────────────────────────

func (e *Engine) startTurn(ctx context.Context, ev Event) {
	e.cancelTurn()
	e.lastTurn++
	s := &Session{
		ID:    uuid.NewString(),
		Turn:  e.lastTurn,
		Start: time.Now(),
	}
	e.sess = s

	tctx, cancel := context.WithCancel(observe.WithSessionID(ctx, s.ID))
	t := &turn{
		id:     s.Turn,
		cancel: cancel,
		done:   make(chan struct{}),
		endReq: make(chan struct{}),
	}
	e.cur = t
	e.publish(s, t)
	e.metrics.ActiveSessions.Add(ctx, 1)

	origin := ""
	if w, ok := ev.(Wake); ok {
		origin = w.Origin
	}
	slog.Info("session: started", "session_id", s.ID, "turn", s.Turn, "origin", origin)

	go func() {
		defer close(t.done)
		defer cancel()
		newWorker(e, t, s.Start).run(tctx)
	}()
}

// cancelTurn stops the running worker and waits for it to exit.
func (e *Engine) cancelTurn() {
	t := e.cur
	if t == nil {
		return
	}
	e.cur = nil
	t.cancel()
	<-t.done
}

func (e *Engine) endSession(ctx context.Context, ev Event) {
	s := e.sess
	if s == nil {
		return
	}
	e.disarmTimer()
	e.sess = nil

	var sent int64
	e.mu.Lock()
	if e.live != nil {
		sent = e.live.bytesSent.Load()
	}
	e.snap = Session{}
	e.live = nil
	e.mu.Unlock()

	e.metrics.ActiveSessions.Add(ctx, -1)
	reason := "shutdown"
	if ev != nil {
		reason = ev.String()
	}
	slog.Info("session: finished",
		"session_id", s.ID,
		"turn", s.Turn,
		"reason", reason,
		"bytes_sent", sent,
		"duration", time.Since(s.Start).Round(time.Millisecond),
	)
}

func (e *Engine) publish(s *Session, t *turn) {
	e.mu.Lock()
	e.snap = *s
	e.live = t
	e.mu.Unlock()
}

func (e *Engine) armTimer(ctx context.Context) {
	e.disarmTimer()
	if e.sess == nil {
		return
	}
	e.sess.EndSent = time.Now()
	e.metrics.TurnDuration.Record(ctx, e.sess.EndSent.Sub(e.sess.Start).Seconds())

	n := e.sess.Turn
	e.timer = time.AfterFunc(e.cfg.ResponseTimeout, func() {
		_ = e.Post(ctx, ResponseTimeout{Turn: n})
	})
}

func (e *Engine) disarmTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// ── Network delivery ──────────────────────────────────────────────────────────

// Deliver consumes transport events until ctx is cancelled. Control messages
// are applied synchronously so that the flush flag is up to date before the
// next audio frame is looked at.
func (e *Engine) Deliver(ctx context.Context) error {
	events := e.deps.Transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			e.deliver(ctx, ev)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, ev transport.Event) {
	switch ev.Type {
	case transport.EventBinary:
		// Read before the flush check: a barge-in in between makes the
		// feed stale instead of landing in the freshly reset buffer.
		ep := e.deps.Player.Epoch()
		if e.flush.Load() {
			slog.Debug("session: discarding response audio", "bytes", len(ev.Data))
			return
		}
		e.metrics.BytesReceived.Add(ctx, int64(len(ev.Data)))
		if _, err := e.deps.Player.FeedEpoch(ctx, ep, ev.Data); err != nil && !errors.Is(err, playback.ErrDropped) {
			slog.Warn("session: playback feed failed", "err", err)
		}

	case transport.EventText:
		var sev Event
		switch ev.Text {
		case transport.MsgAudioStart:
			sev = ResponseStarted{}
		case transport.MsgAudioEnd:
			sev = ResponseEnded{}
		case transport.MsgStopRecording:
			sev = StopRecording{}
		default:
			slog.Warn("session: unknown control message", "text", ev.Text)
			return
		}
		_ = e.Dispatch(ctx, sev)

	case transport.EventDisconnected:
		_ = e.Dispatch(ctx, Disconnected{})

	case transport.EventConnected:
		slog.Debug("session: transport connected")

	case transport.EventError:
		slog.Warn("session: transport error", "err", ev.Err)
	}
}
