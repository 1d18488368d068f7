// Package transport maintains the duplex WebSocket channel to the inference
// service.
//
// A [Client] dials on demand ([Client.Connect]) and in the background
// ([Client.Monitor]) after the link drops. Inbound frames and connection
// state changes are published on [Client.Events] in arrival order. Every send
// is bounded by the configured send timeout; a failed send or ping tears the
// connection down so that the state seen by callers is never stale.
//
// All methods are safe for concurrent use.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
)

// ErrNotConnected is returned by sends while no connection is established.
var ErrNotConnected = errors.New("transport: not connected")

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("transport: client closed")

// Default connection parameters.
const (
	defaultDialTimeout  = 10 * time.Second
	defaultSendTimeout  = 5 * time.Second
	defaultPingInterval = 10 * time.Second
	defaultEventBuffer  = 256
	defaultReadLimit    = 1 << 20
)

// Config configures a [Client].
type Config struct {
	// URL is the ws:// or wss:// endpoint of the inference service.
	URL string

	// Header is sent with the upgrade request (e.g. Authorization).
	Header http.Header

	// DialTimeout bounds a single dial. Default: 10s.
	DialTimeout time.Duration

	// SendTimeout bounds every frame write. Default: 5s.
	SendTimeout time.Duration

	// PingInterval is the keepalive period. Negative disables pings.
	// Default: 10s.
	PingInterval time.Duration

	// Reconnect is the backoff policy used by Monitor.
	Reconnect resilience.Policy

	// MaxRetries bounds the reconnect attempts of one Monitor cycle.
	// Zero retries forever.
	MaxRetries int

	// EventBuffer is the capacity of the Events channel. Default: 256.
	EventBuffer int

	// Metrics records dial attempts and byte counts. Default:
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Client is a reconnecting WebSocket client.
type Client struct {
	cfg     Config
	metrics *observe.Metrics

	dialSem chan struct{} // serialises Connect; a channel so waiting honours ctx

	mu         sync.Mutex
	conn       *websocket.Conn
	gen        uint64
	cancelConn context.CancelFunc

	connected    atomic.Bool
	events       chan Event
	disconnected chan struct{} // signalled when a disconnect is detected
	done         chan struct{}
	closeOnce    sync.Once
}

// New creates a Client. No connection is made until Connect or Monitor.
func New(cfg Config) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Client{
		cfg:          cfg,
		metrics:      m,
		dialSem:      make(chan struct{}, 1),
		events:       make(chan Event, cfg.EventBuffer),
		disconnected: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Events returns the channel of inbound frames and state changes. The channel
// is never closed; stop reading when your context ends.
func (c *Client) Events() <-chan Event { return c.events }

// IsConnected reports whether a connection is currently established.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Connect dials the service unless already connected. Concurrent calls are
// serialised; the second caller observes the first caller's connection. The
// dial timeout covers the wait for an in-flight dial as well as the own one.
func (c *Client) Connect(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	select {
	case c.dialSem <- struct{}{}:
	case <-dctx.Done():
		return fmt.Errorf("transport: waiting for dial: %w", dctx.Err())
	case <-c.done:
		return ErrClosed
	}
	defer func() { <-c.dialSem }()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if c.connected.Load() {
		return nil
	}

	conn, _, err := websocket.Dial(dctx, c.cfg.URL, &websocket.DialOptions{
		HTTPHeader: c.cfg.Header,
	})
	c.metrics.RecordConnectAttempt(ctx, err)
	if err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)

	connCtx, connCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.conn = conn
	c.cancelConn = connCancel
	c.connected.Store(true)
	c.mu.Unlock()

	slog.Info("transport: connected", "url", c.cfg.URL)
	c.emit(Event{Type: EventConnected})

	go c.readLoop(connCtx, conn, gen)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(connCtx, conn, gen)
	}
	return nil
}

// SendBinary writes one binary frame.
func (c *Client) SendBinary(ctx context.Context, data []byte) error {
	if err := c.send(ctx, websocket.MessageBinary, data); err != nil {
		return err
	}
	c.metrics.BytesSent.Add(ctx, int64(len(data)))
	return nil
}

// SendText writes one text frame.
func (c *Client) SendText(ctx context.Context, msg string) error {
	return c.send(ctx, websocket.MessageText, []byte(msg))
}

func (c *Client) send(ctx context.Context, typ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	conn, gen := c.conn, c.gen
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()
	if err := conn.Write(sctx, typ, data); err != nil {
		c.drop(gen, err)
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// NotifyDisconnect asks the monitor to start a reconnect cycle. Safe to call
// multiple times; only one cycle is queued.
func (c *Client) NotifyDisconnect() {
	select {
	case c.disconnected <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// Monitor reconnects after every disconnect until ctx is done or Close is
// called. Each cycle waits the initial backoff, retries with exponential
// backoff up to the cap and gives up after MaxRetries attempts; the next
// disconnect or a caller's Connect starts over. Monitor blocks.
func (c *Client) Monitor(ctx context.Context) error {
	if !c.IsConnected() {
		c.NotifyDisconnect()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-c.disconnected:
			c.reconnect(ctx)
		}
	}
}

func (c *Client) reconnect(ctx context.Context) {
	b := c.cfg.Reconnect.New()
	for attempt := 1; c.cfg.MaxRetries <= 0 || attempt <= c.cfg.MaxRetries; attempt++ {
		d := b.Next()
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(d):
		}
		if c.IsConnected() {
			return
		}

		slog.Info("transport: attempting reconnection",
			"attempt", attempt,
			"max_retries", c.cfg.MaxRetries,
			"backoff", d,
		)
		err := c.Connect(ctx)
		if err == nil {
			slog.Info("transport: reconnection successful", "attempt", attempt)
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		slog.Warn("transport: reconnection attempt failed", "attempt", attempt, "err", err)
		c.report(fmt.Errorf("transport: reconnect attempt %d: %w", attempt, err))
	}
	slog.Error("transport: reconnection failed after max retries, waiting for next trigger",
		"max_retries", c.cfg.MaxRetries)
	c.report(fmt.Errorf("transport: reconnect: %w", resilience.ErrRetriesExhausted))
}

// Close shuts the connection and stops Monitor. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	conn, cancel := c.conn, c.cancelConn
	c.conn = nil
	c.cancelConn = nil
	c.gen++
	c.connected.Store(false)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "shutdown")
	cancel()
	if err != nil && !isClosedErr(err) {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

// readLoop publishes inbound frames until the connection fails.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.drop(gen, err)
			return
		}
		switch typ {
		case websocket.MessageText:
			c.emit(Event{Type: EventText, Text: string(data)})
		case websocket.MessageBinary:
			c.metrics.BytesReceived.Add(ctx, int64(len(data)))
			c.emit(Event{Type: EventBinary, Data: data})
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
		err := conn.Ping(pctx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("transport: keepalive ping failed", "err", err)
			}
			c.drop(gen, err)
			return
		}
	}
}

// drop tears down connection generation gen. Later generations are left
// alone, so a stale reader cannot close a fresh connection.
func (c *Client) drop(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn, cancel := c.conn, c.cancelConn
	c.conn = nil
	c.cancelConn = nil
	c.connected.Store(false)
	c.mu.Unlock()

	cancel()
	_ = conn.CloseNow()

	slog.Warn("transport: connection lost", "err", cause)
	c.emit(Event{Type: EventDisconnected, Err: cause})
	c.NotifyDisconnect()
}

// emit delivers ev, blocking while the consumer is behind so that inbound
// audio applies backpressure to the socket rather than being lost.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// report publishes a non-fatal failure as EventError. Unlike emit it never
// blocks; errors are dropped while the consumer is behind.
func (c *Client) report(err error) {
	select {
	case c.events <- Event{Type: EventError, Err: err}:
	default:
	}
}

func isClosedErr(err error) bool {
	var ce websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}
