package audio

import (
	"context"
	"io"
	"sync"
)

// NullDevice is a [Device] without hardware: its source never yields audio
// and its sink discards everything. It lets the daemon run headless, with
// wakes coming only from the control surface.
type NullDevice struct {
	src *nullSource
	snk *nullSink
}

// NewNullDevice returns a NullDevice reporting the given formats.
func NewNullDevice(capture, playback Format) *NullDevice {
	return &NullDevice{
		src: &nullSource{format: capture, done: make(chan struct{})},
		snk: &nullSink{format: playback},
	}
}

// Source implements [Device].
func (d *NullDevice) Source() Source { return d.src }

// Sink implements [Device].
func (d *NullDevice) Sink() Sink { return d.snk }

// Close makes pending and future reads return io.EOF.
func (d *NullDevice) Close() error {
	d.src.once.Do(func() { close(d.src.done) })
	return nil
}

var _ Device = (*NullDevice)(nil)

type nullSource struct {
	format Format
	done   chan struct{}
	once   sync.Once
}

func (s *nullSource) Read(ctx context.Context, p []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.done:
		return 0, io.EOF
	}
}

func (s *nullSource) Format() Format { return s.format }

type nullSink struct{ format Format }

func (s *nullSink) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *nullSink) Flush() error   { return nil }
func (s *nullSink) Format() Format { return s.format }
