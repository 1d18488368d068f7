package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/internal/transport"
	"github.com/MrWong99/voxgate/pkg/vad"
)

var (
	errCaptureEnded = errors.New("session: capture ended")
	errNoAudio      = errors.New("session: capture yields no data")
)

// worker runs one turn: connect, gate, stream, END. It reports back to the
// actor only through events carrying its turn number.
type worker struct {
	e     *Engine
	t     *turn
	cfg   Config
	gate  vad.SessionHandle
	log   *slog.Logger
	start time.Time

	pending  [][]byte
	batch    []byte
	sent     int64
	progress int64
	emptyRun int
}

func newWorker(e *Engine, t *turn, start time.Time) *worker {
	return &worker{
		e:     e,
		t:     t,
		cfg:   e.cfg,
		start: start,
		batch: make([]byte, 0, e.cfg.BatchBytes),
	}
}

func (w *worker) run(ctx context.Context) {
	w.log = observe.Logger(ctx).With("turn", w.t.id)

	if err := w.connect(ctx); err != nil {
		w.abort(ctx, fmt.Errorf("session: connect: %w", err))
		return
	}

	gate, err := w.e.deps.VAD.NewSession(w.cfg.VAD)
	if err != nil {
		w.abort(ctx, fmt.Errorf("session: vad: %w", err))
		return
	}
	defer gate.Close()
	w.gate = gate

	w.e.deps.Frames.Begin()
	if !w.skipResidue(ctx) {
		return
	}

	if w.cfg.Strategy == StrategyServer {
		w.post(ctx, SpeechConfirmed{Turn: w.t.id})
	} else if !w.listen(ctx) {
		return
	}
	w.stream(ctx)
}

// connect makes sure the transport is up, polling a bounded number of times.
func (w *worker) connect(ctx context.Context) error {
	tr := w.e.deps.Transport
	if tr.IsConnected() {
		return nil
	}
	return resilience.Retry(ctx, w.cfg.ConnectBackoff, w.cfg.ConnectPolls, func(ctx context.Context, attempt int) error {
		if tr.IsConnected() {
			return nil
		}
		err := tr.Connect(ctx)
		if err != nil {
			w.log.Warn("session: connect attempt failed", "attempt", attempt, "max", w.cfg.ConnectPolls, "err", err)
		}
		return err
	})
}

// skipResidue drops the first frames after wake. It reports false when the
// turn cannot continue.
func (w *worker) skipResidue(ctx context.Context) bool {
	for skipped := 0; skipped < w.cfg.IgnoreFrames; {
		_, st := w.e.deps.Frames.ReadFrame(ctx, w.cfg.ReadTimeout)
		switch st {
		case capture.Ended:
			w.abort(ctx, errCaptureEnded)
			return false
		case capture.Empty:
			if !w.empty(ctx) {
				return false
			}
			continue
		}
		w.emptyRun = 0
		skipped++
	}
	return true
}

// empty counts an empty read in Listening. It reports false once the limit
// is hit and the turn was aborted.
func (w *worker) empty(ctx context.Context) bool {
	w.emptyRun++
	if w.emptyRun >= w.cfg.MaxEmptyReads {
		w.abort(ctx, errNoAudio)
		return false
	}
	return true
}

// listen waits for confirmed speech. Frames seen meanwhile are held back
// (pre-roll plus the speech run) and sent once speech is confirmed. The
// listen window opens here, after connecting and skipping residue.
func (w *worker) listen(ctx context.Context) bool {
	deadline := time.Now().Add(w.cfg.ListenTimeout)
	hold := w.cfg.PrerollFrames + w.cfg.VAD.MinSpeechFrames

	for {
		if ctx.Err() != nil {
			return false
		}
		if !time.Now().Before(deadline) {
			w.log.Info("session: no speech detected", "timeout", w.cfg.ListenTimeout)
			w.post(ctx, ListenTimeout{Turn: w.t.id})
			return false
		}

		frame, st := w.e.deps.Frames.ReadFrame(ctx, w.cfg.ReadTimeout)
		switch st {
		case capture.Ended:
			w.abort(ctx, errCaptureEnded)
			return false
		case capture.Empty:
			if !w.empty(ctx) {
				return false
			}
			continue
		}
		w.emptyRun = 0

		ev, err := w.gate.ProcessFrame(frame.Data)
		if err != nil {
			w.abort(ctx, fmt.Errorf("session: vad: %w", err))
			return false
		}
		w.track(ev)

		w.pending = append(w.pending, frame.Data)
		if len(w.pending) > hold {
			w.pending = w.pending[len(w.pending)-hold:]
		}
		if ev.Type != vad.VADSpeechStart {
			continue
		}

		w.log.Info("session: speech confirmed", "level", ev.Level, "speech_run", ev.SpeechRun)
		w.post(ctx, SpeechConfirmed{Turn: w.t.id})
		for _, p := range w.pending {
			if err := w.forward(ctx, p); err != nil {
				w.abort(ctx, err)
				return false
			}
		}
		w.pending = nil
		return true
	}
}

// stream forwards frames until one of the end conditions holds.
func (w *worker) stream(ctx context.Context) {
	started := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		if w.t.ending() {
			w.finish(ctx, EndRequested)
			return
		}
		if time.Since(started) >= w.cfg.MaxTurnDuration {
			w.finish(ctx, EndMaxDuration)
			return
		}

		frame, st := w.e.deps.Frames.ReadFrame(ctx, w.cfg.ReadTimeout)
		switch st {
		case capture.Ended:
			if ctx.Err() == nil {
				w.finish(ctx, EndNoData)
			}
			return
		case capture.Empty:
			w.emptyRun++
			if w.emptyRun >= w.cfg.MaxEmptyReads {
				w.finish(ctx, EndNoData)
				return
			}
			continue
		}
		w.emptyRun = 0

		ev, err := w.gate.ProcessFrame(frame.Data)
		if err != nil {
			w.abort(ctx, fmt.Errorf("session: vad: %w", err))
			return
		}
		w.track(ev)

		if err := w.forward(ctx, frame.Data); err != nil {
			w.abort(ctx, err)
			return
		}
		if w.cfg.Strategy == StrategyLocal && ev.Type == vad.VADSpeechEnd {
			w.finish(ctx, EndSilence)
			return
		}
	}
}

// forward appends data to the batch and sends every full batch.
func (w *worker) forward(ctx context.Context, data []byte) error {
	w.batch = append(w.batch, data...)
	size := w.cfg.BatchBytes
	for len(w.batch) >= size {
		if err := w.send(ctx, w.batch[:size]); err != nil {
			return err
		}
		n := copy(w.batch, w.batch[size:])
		w.batch = w.batch[:n]
	}
	return nil
}

func (w *worker) send(ctx context.Context, p []byte) error {
	if err := w.e.deps.Transport.SendBinary(ctx, p); err != nil {
		return fmt.Errorf("session: send audio: %w", err)
	}
	w.sent += int64(len(p))
	w.t.bytesSent.Store(w.sent)
	w.e.metrics.BytesSent.Add(ctx, int64(len(p)))

	if step := w.cfg.ProgressLogBytes; step > 0 && w.sent-w.progress >= step {
		w.progress = w.sent
		w.log.Info("session: streaming", "bytes_sent", w.sent, "elapsed", time.Since(w.start).Round(time.Millisecond))
	}
	return nil
}

// finish flushes the partial batch, sends END and reports the turn done.
func (w *worker) finish(ctx context.Context, reason EndReason) {
	if len(w.batch) > 0 {
		if err := w.send(ctx, w.batch); err != nil {
			w.abort(ctx, err)
			return
		}
		w.batch = w.batch[:0]
	}
	if err := w.e.deps.Transport.SendText(ctx, transport.MsgEnd); err != nil {
		w.abort(ctx, fmt.Errorf("session: send end: %w", err))
		return
	}
	w.log.Info("session: utterance sent", "reason", reason.String(), "bytes_sent", w.sent)
	w.post(ctx, TurnEnded{Turn: w.t.id, Reason: reason})
}

// abort reports a failed turn. A cancelled turn reports nothing: the actor
// already moved on.
func (w *worker) abort(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	w.post(ctx, TurnAborted{Turn: w.t.id, Err: err})
}

func (w *worker) post(ctx context.Context, ev Event) {
	if err := w.e.Post(ctx, ev); err != nil {
		w.log.Debug("session: event not delivered", "event", ev.String(), "err", err)
	}
}

func (w *worker) track(ev vad.VADEvent) {
	w.t.speechRun.Store(int32(ev.SpeechRun))
	w.t.silenceRun.Store(int32(ev.SilenceRun))
}
