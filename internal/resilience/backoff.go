// Package resilience provides the retry primitives shared by the transport
// monitor, the connect-on-wake path and the playback feed.
//
// The central type is [Backoff], a capped exponential delay sequence built
// from a [Policy]. [Retry] drives a function through that sequence with an
// optional attempt limit. All waits honour context cancellation.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is returned by [Retry] when the attempt limit is reached.
var ErrRetriesExhausted = errors.New("resilience: retries exhausted")

// Policy describes a capped exponential backoff.
type Policy struct {
	// Initial is the first delay. Default: 500ms.
	Initial time.Duration

	// Max caps every delay. Default: 8s.
	Max time.Duration

	// Multiplier is applied after every delay. Values <= 1 default to 2.
	Multiplier float64
}

func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = 500 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 8 * time.Second
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	return p
}

// New returns a fresh [Backoff] positioned at the initial delay.
func (p Policy) New() *Backoff {
	p = p.withDefaults()
	return &Backoff{policy: p, next: p.Initial}
}

// Backoff yields the delays of a [Policy] one by one. It is not safe for
// concurrent use; each retry loop owns its own Backoff.
type Backoff struct {
	policy  Policy
	next    time.Duration
	attempt int
}

// Next returns the delay to wait before the next attempt and advances the
// sequence. The returned value never exceeds Policy.Max.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.attempt++
	grown := time.Duration(float64(b.next) * b.policy.Multiplier)
	if grown > b.policy.Max || grown <= 0 {
		grown = b.policy.Max
	}
	b.next = grown
	return d
}

// Attempt reports how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset rewinds the sequence to the initial delay. Call it after a success.
func (b *Backoff) Reset() {
	b.next = b.policy.Initial
	b.attempt = 0
}

// Wait sleeps for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn until it succeeds, ctx is done, or maxAttempts calls have
// failed (maxAttempts <= 0 means no limit). Failed attempts are separated by
// the delays of p. attempt is 1-based.
func Retry(ctx context.Context, p Policy, maxAttempts int, fn func(ctx context.Context, attempt int) error) error {
	b := p.New()
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		if werr := Wait(ctx, b.Next()); werr != nil {
			return errors.Join(werr, err)
		}
	}
}
