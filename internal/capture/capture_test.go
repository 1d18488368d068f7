package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/mock"
	"github.com/MrWong99/voxgate/pkg/audio/ringbuf"
)

var (
	mono16k              = audio.Format{SampleRate: 16000, Channels: 1}
	resiliencePolicyFast = resilience.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond}
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestPump_CopiesUntilEOF(t *testing.T) {
	src := mock.NewSource(mono16k)
	src.Push([]byte{1, 2, 3, 4}, []byte{5, 6})
	src.End()
	ring := ringbuf.New(64)

	p := NewPump(src, ring, WithMetrics(testMetrics(t)))
	if err := p.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := make([]byte, 16)
	n, _ := ring.TryRead(out)
	if !bytes.Equal(out[:n], []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("ring contents = %v", out[:n])
	}
	if _, err := ring.TryWrite([]byte{0}); !errors.Is(err, ringbuf.ErrClosed) {
		t.Errorf("ring not closed after Run: %v", err)
	}
}

func TestPump_DropsNewestOnOverflow(t *testing.T) {
	src := mock.NewSource(mono16k)
	src.Push(bytes.Repeat([]byte{7}, 6), bytes.Repeat([]byte{9}, 6))
	src.End()
	ring := ringbuf.New(8)

	p := NewPump(src, ring, WithMetrics(testMetrics(t)))
	_ = p.Run(t.Context())

	if p.Overflow() != 4 {
		t.Errorf("Overflow() = %d, want 4", p.Overflow())
	}
	out := make([]byte, 8)
	n, _ := ring.TryRead(out)
	want := []byte{7, 7, 7, 7, 7, 7, 9, 9}
	if !bytes.Equal(out[:n], want) {
		t.Errorf("ring = %v, want %v (oldest kept)", out[:n], want)
	}
}

func TestPump_RetriesTransientErrors(t *testing.T) {
	src := &flakySource{fails: 2, data: []byte{1, 2}}
	ring := ringbuf.New(8)
	p := NewPump(src, ring,
		WithMetrics(testMetrics(t)),
		WithRetryPolicy(resiliencePolicyFast),
	)
	if err := p.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ring.Len() != 2 {
		t.Errorf("ring.Len() = %d, want 2", ring.Len())
	}
	if src.calls != 4 {
		t.Errorf("source calls = %d, want 4 (2 failures, 1 data, 1 EOF)", src.calls)
	}
}

func TestPump_StopsOnCancel(t *testing.T) {
	src := mock.NewSource(mono16k)
	ring := ringbuf.New(8)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- NewPump(src, ring, WithMetrics(testMetrics(t))).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReader_ReadFrame(t *testing.T) {
	ring := ringbuf.New(1024)
	r := NewReader(ring, mono16k, 4) // 8-byte frames
	r.Begin()

	_, _ = ring.TryWrite([]byte{1, 0, 2, 0, 3, 0, 4, 0, 5, 0})

	f, st := r.ReadFrame(t.Context(), 50*time.Millisecond)
	if st != FrameOK || len(f.Data) != 8 || f.Seq != 0 {
		t.Fatalf("first frame = %v len=%d seq=%d", st, len(f.Data), f.Seq)
	}
	if f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("frame format = %d/%d", f.SampleRate, f.Channels)
	}

	// Short frame after the timeout expires.
	f, st = r.ReadFrame(t.Context(), 20*time.Millisecond)
	if st != FrameOK || len(f.Data) != 2 || f.Seq != 1 {
		t.Fatalf("short frame = %v len=%d seq=%d", st, len(f.Data), f.Seq)
	}

	_, st = r.ReadFrame(t.Context(), 20*time.Millisecond)
	if st != Empty {
		t.Fatalf("status on empty ring = %v, want empty", st)
	}

	ring.Close()
	_, st = r.ReadFrame(t.Context(), 20*time.Millisecond)
	if st != Ended {
		t.Fatalf("status on closed ring = %v, want ended", st)
	}
}

func TestReader_BeginDiscardsStaleAudio(t *testing.T) {
	ring := ringbuf.New(64)
	r := NewReader(ring, mono16k, 2)
	_, _ = ring.TryWrite([]byte{9, 9, 9, 9})
	r.Begin()

	if _, st := r.ReadFrame(t.Context(), 10*time.Millisecond); st != Empty {
		t.Fatalf("status after Begin = %v, want empty", st)
	}
}

func TestReader_CancelledContextEnds(t *testing.T) {
	ring := ringbuf.New(64)
	r := NewReader(ring, mono16k, 2)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, st := r.ReadFrame(ctx, time.Second); st != Ended {
		t.Fatalf("status with cancelled ctx = %v, want ended", st)
	}
}

func TestStatus_String(t *testing.T) {
	for st, want := range map[Status]string{FrameOK: "frame", Empty: "empty", Ended: "ended"} {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(st), got, want)
		}
	}
}

// flakySource fails a fixed number of times, yields data once, then EOF.
type flakySource struct {
	mu    sync.Mutex
	fails int
	data  []byte
	calls int
}

func (s *flakySource) Read(_ context.Context, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fails > 0 {
		s.fails--
		return 0, errors.New("i2s timeout")
	}
	if s.data != nil {
		n := copy(p, s.data)
		s.data = nil
		return n, nil
	}
	return 0, io.EOF
}

func (s *flakySource) Format() audio.Format { return mono16k }
