// Package ringbuf implements the bounded byte queue that connects the stages
// of the audio pipeline (capture → VAD, network receive → playback).
//
// A [Buffer] is a single-producer/single-consumer FIFO with blocking and
// non-blocking reads and writes and an explicit [Buffer.Reset] that discards
// all buffered content. Blocking calls wait on a broadcast channel that is
// closed and replaced on every state change, so waiters wake promptly without
// polling and every wait is bounded by a context or timeout.
package ringbuf

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrClosed is returned by writes after [Buffer.Close].
var ErrClosed = errors.New("ringbuf: closed")

// Buffer is a bounded circular byte queue. All methods are safe for
// concurrent use; FIFO order is the only ordering guarantee.
type Buffer struct {
	mu      sync.Mutex
	data    []byte
	r       int // next read position
	n       int // buffered bytes
	closed  bool
	changed chan struct{} // closed and replaced whenever r, n or closed change
}

// New creates a Buffer holding at most size bytes. It panics if size <= 0.
func New(size int) *Buffer {
	if size <= 0 {
		panic("ringbuf: size must be positive")
	}
	return &Buffer{
		data:    make([]byte, size),
		changed: make(chan struct{}),
	}
}

// Cap returns the capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Free returns the number of bytes that can be written without blocking.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.n
}

// TryWrite copies as much of p as fits and returns the number of bytes
// written. It never blocks. After Close it returns 0, ErrClosed.
func (b *Buffer) TryWrite(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	return b.writeLocked(p), nil
}

// TryRead copies up to len(p) buffered bytes into p and returns the count. It
// never blocks. Once the buffer is closed and drained it returns 0, io.EOF.
func (b *Buffer) TryRead(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n == 0 && b.closed {
		return 0, io.EOF
	}
	return b.readLocked(p), nil
}

// Write blocks until all of p has been written, ctx is done, or the buffer is
// closed. It returns the number of bytes written before returning.
func (b *Buffer) Write(ctx context.Context, p []byte) (int, error) {
	written := 0
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return written, ErrClosed
		}
		written += b.writeLocked(p[written:])
		if written == len(p) {
			b.mu.Unlock()
			return written, nil
		}
		wait := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return written, ctx.Err()
		case <-wait:
		}
	}
}

// Read blocks until at least one byte is available, ctx is done, or the
// buffer is closed and drained (io.EOF).
func (b *Buffer) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		b.mu.Lock()
		if b.n > 0 {
			n := b.readLocked(p)
			b.mu.Unlock()
			return n, nil
		}
		if b.closed {
			b.mu.Unlock()
			return 0, io.EOF
		}
		wait := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-wait:
		}
	}
}

// Wait blocks until at least one byte is buffered, the buffer is closed, or
// ctx is done. It consumes nothing.
func (b *Buffer) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.n > 0 || b.closed {
			b.mu.Unlock()
			return nil
		}
		wait := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// ReadFull blocks until len(p) bytes have been read, ctx is done, or the
// buffer is closed and drained. Bytes read before an error are kept in p[:n].
func (b *Buffer) ReadFull(ctx context.Context, p []byte) (int, error) {
	read := 0
	for read < len(p) {
		n, err := b.Read(ctx, p[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

// WriteTimeout is [Buffer.Write] bounded by d.
func (b *Buffer) WriteTimeout(p []byte, d time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return b.Write(ctx, p)
}

// ReadTimeout is [Buffer.Read] bounded by d.
func (b *Buffer) ReadTimeout(p []byte, d time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return b.Read(ctx, p)
}

// Reset discards all buffered bytes. Bytes written before Reset are never
// returned by a read that starts after it.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r = 0
	b.n = 0
	b.broadcastLocked()
}

// Close marks the buffer closed. Pending and future writes fail with
// ErrClosed; readers drain what is left and then get io.EOF. Close is
// idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.broadcastLocked()
}

func (b *Buffer) writeLocked(p []byte) int {
	free := len(b.data) - b.n
	if len(p) > free {
		p = p[:free]
	}
	if len(p) == 0 {
		return 0
	}
	w := (b.r + b.n) % len(b.data)
	c := copy(b.data[w:], p)
	if c < len(p) {
		copy(b.data, p[c:])
	}
	b.n += len(p)
	b.broadcastLocked()
	return len(p)
}

func (b *Buffer) readLocked(p []byte) int {
	want := min(len(p), b.n)
	if want == 0 {
		return 0
	}
	c := copy(p[:want], b.data[b.r:])
	if c < want {
		copy(p[c:want], b.data)
	}
	b.r = (b.r + want) % len(b.data)
	b.n -= want
	if b.n == 0 {
		b.r = 0
	}
	b.broadcastLocked()
	return want
}

// broadcastLocked wakes every waiter. Must be called with b.mu held.
func (b *Buffer) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}
