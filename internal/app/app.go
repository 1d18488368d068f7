// Package app wires the voxgate subsystems into a running daemon.
//
// New builds every subsystem from the config, Run supervises the long-lived
// workers in one errgroup, and Shutdown releases the device and the
// transport. For tests, inject the audio device and wake source through
// functional options; otherwise they come from the back-end [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/control"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/playback"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/internal/transport"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/codec"
	"github.com/MrWong99/voxgate/pkg/audio/ringbuf"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// OriginDetector tags wake events coming from the wake source.
const OriginDetector = "detector"

// serverShutdownTimeout bounds the graceful HTTP shutdown in Run.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar

	device    audio.Device
	wake      audio.WakeSource
	transport *transport.Client
	pump      *capture.Pump
	player    *playback.Engine
	engine    *session.Engine
	watcher   *config.Watcher

	listener net.Listener
	server   *http.Server

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithDevice injects an audio device instead of creating one from config.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithWakeSource sets the wake-phrase detector. When unset and the device
// implements [audio.WakeSource], the device is used.
func WithWakeSource(w audio.WakeSource) Option {
	return func(a *App) { a.wake = w }
}

// WithRegistry replaces the built-in back-end registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithWatcher runs w alongside the other workers. Its change callback
// should call [App.ApplyDiff].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It opens the audio
// device and binds the HTTP listener but starts no goroutines.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = NewRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll()
		}
	}()

	// ── 1. Audio device ──────────────────────────────────────────────────
	if err := a.initDevice(); err != nil {
		return nil, fmt.Errorf("app: init device: %w", err)
	}

	// ── 2. Playback ──────────────────────────────────────────────────────
	if err := a.initPlayback(); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 3. Capture ───────────────────────────────────────────────────────
	ring := ringbuf.New(cfg.Device.CaptureBufferBytes)
	src := a.device.Source()
	a.pump = capture.NewPump(src, ring,
		capture.WithChunkSize(cfg.Device.FramesPerBuffer*max(src.Format().Channels, 1)*audio.BytesPerSample),
		capture.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, func() error { ring.Close(); return nil })
	reader := capture.NewReader(ring, src.Format(), cfg.FrameSamples())

	// ── 4. Transport ─────────────────────────────────────────────────────
	a.transport = transport.New(transportConfig(cfg.Transport, a.metrics))
	a.closers = append(a.closers, a.transport.Close)

	// ── 5. Session engine ────────────────────────────────────────────────
	vadEngine, err := a.registry.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad: %w", err)
	}
	var tone []byte
	if cfg.Session.Tone == nil || *cfg.Session.Tone {
		tone = audio.ConfirmationTone(a.device.Sink().Format())
	}
	a.engine, err = session.New(sessionConfig(cfg, tone), session.Deps{
		Transport: a.transport,
		Player:    a.player,
		Frames:    reader,
		VAD:       vadEngine,
	}, session.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: create session engine: %w", err)
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	if err := a.initServer(ctx); err != nil {
		return nil, fmt.Errorf("app: init http server: %w", err)
	}

	ok = true
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initDevice() error {
	if a.device == nil {
		d, err := a.registry.CreateDevice(a.cfg.Device)
		if err != nil {
			return err
		}
		a.device = d
		a.closers = append(a.closers, d.Close)
	}
	if a.wake == nil {
		if ws, ok := a.device.(audio.WakeSource); ok {
			a.wake = ws
		}
	}
	return nil
}

func (a *App) initPlayback() error {
	pc := a.cfg.Playback
	dec, err := codec.New(pc.Codec, audio.Format{SampleRate: pc.SampleRate, Channels: pc.Channels})
	if err != nil {
		return err
	}
	a.player = playback.New(a.device.Sink(), dec, playback.Config{
		BufferBytes:  pc.BufferBytes,
		WriteTimeout: pc.WriteTimeout,
		Volume:       pc.Volume,
		Metrics:      a.metrics,
	})
	return nil
}

func (a *App) initServer(ctx context.Context) error {
	mux := http.NewServeMux()
	health.New(
		health.Connected("transport", a.transport.IsConnected),
	).Register(mux)
	control.New(a.engine, a.player, control.WithVolumeStep(a.cfg.Playback.VolumeStep)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func transportConfig(tc config.TransportConfig, m *observe.Metrics) transport.Config {
	header := make(http.Header, len(tc.Headers)+1)
	for k, v := range tc.Headers {
		header.Set(k, v)
	}
	if tc.AuthToken != "" {
		header.Set("Authorization", "Bearer "+tc.AuthToken)
	}
	cfg := transport.Config{
		URL:          tc.URL,
		Header:       header,
		DialTimeout:  tc.DialTimeout,
		SendTimeout:  tc.SendTimeout,
		PingInterval: tc.PingInterval,
		Reconnect:    backoffPolicy(tc.Reconnect),
		Metrics:      m,
	}
	if tc.MaxRetries != nil {
		cfg.MaxRetries = *tc.MaxRetries
	}
	return cfg
}

func backoffPolicy(bc config.BackoffConfig) resilience.Policy {
	return resilience.Policy{Initial: bc.Initial, Max: bc.Max, Multiplier: bc.Multiplier}
}

func sessionConfig(cfg *config.Config, tone []byte) session.Config {
	v := cfg.VAD
	sc := session.Config{
		Strategy: session.Strategy(v.Strategy),
		VAD: vad.Config{
			SampleRate:       cfg.Device.CaptureRate,
			SpeechThreshold:  v.SpeechThreshold,
			SilenceThreshold: v.SilenceThreshold,
			MinSpeechFrames:  v.MinSpeechFrames,
			SilenceFrames:    v.SilenceFrames,
		},
		MaxEmptyReads:    v.MaxEmptyReads,
		ReadTimeout:      cfg.Session.ReadTimeout,
		ListenTimeout:    v.ListenTimeout,
		MaxTurnDuration:  cfg.Session.MaxTurnDuration,
		ResponseTimeout:  cfg.Session.ResponseTimeout,
		BatchBytes:       cfg.Session.BatchBytes,
		ConnectPolls:     cfg.Transport.ConnectPolls,
		ConnectBackoff:   backoffPolicy(cfg.Transport.Reconnect),
		ProgressLogBytes: cfg.Session.ProgressLogBytes,
		Tone:             tone,
	}
	if v.IgnoreFrames != nil {
		sc.IgnoreFrames = *v.IgnoreFrames
	}
	if v.PrerollFrames != nil {
		sc.PrerollFrames = *v.PrerollFrames
	}
	return sc
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Addr returns the address the HTTP surface listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Engine returns the session engine.
func (a *App) Engine() *session.Engine { return a.engine }

// Player returns the playback engine.
func (a *App) Player() *playback.Engine { return a.player }

// ApplyDiff applies the runtime-reloadable parts of a config change.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.VolumeChanged {
		v := a.player.SetVolume(d.NewVolume)
		slog.Info("volume reloaded", "volume", v)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level reloaded", "level", d.NewLogLevel)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every worker and blocks until ctx is cancelled or a worker
// fails. It returns nil on cancellation.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.pump.Run(gctx) })
	g.Go(func() error { return a.player.Run(gctx) })
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.engine.Deliver(gctx) })
	g.Go(func() error { return a.transport.Monitor(gctx) })
	if a.wake != nil {
		g.Go(func() error { return a.forwardWake(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error { return a.serve(gctx) })

	slog.Info("voxgate running",
		"addr", a.listener.Addr().String(),
		"url", a.cfg.Transport.URL,
		"strategy", a.cfg.VAD.Strategy,
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(a.listener)
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		<-errCh
		return nil
	}
}

// forwardWake turns detector events into session events.
func (a *App) forwardWake(ctx context.Context) error {
	events := a.wake.WakeEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			var err error
			switch ev.Type {
			case audio.WakeStart:
				err = a.engine.Wake(ctx, OriginDetector)
			case audio.WakeEnd:
				err = a.engine.Post(ctx, session.WakeEnd{})
			default:
				slog.Debug("ignoring wake event", "type", ev.Type)
			}
			if errors.Is(err, session.ErrStopped) {
				return nil
			}
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the transport and the audio device. It is safe to call
// more than once; later calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- a.closeAll() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	if a.listener != nil {
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
