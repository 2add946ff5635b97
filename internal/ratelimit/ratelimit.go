// Package ratelimit paces byte streams at a fixed rate.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
)

// Limiter provides a leaky bucket rate limiter (constant drain rate).
type Limiter struct {
	rate float64
	next time.Time
	mu   sync.Mutex
}

// New creates a limiter with a given rate (bytes/sec). A rate <= 0 disables pacing.
func New(rate float64) *Limiter {
	return &Limiter{
		rate: rate,
	}
}

// Wait blocks until it is time to move n bytes at the configured rate, or
// until ctx is done.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil || l.rate <= 0 || n <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	if l.next.Before(now) {
		l.next = now
	}
	wait := l.next.Sub(now)
	l.next = l.next.Add(time.Duration(float64(n) / l.rate * float64(time.Second)))
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type reader struct {
	ctx context.Context
	r   io.Reader
	l   *Limiter
}

// Reader paces reads from r through l.
func Reader(ctx context.Context, r io.Reader, l *Limiter) io.Reader {
	return &reader{ctx: ctx, r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.l.Wait(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type writer struct {
	ctx context.Context
	w   io.Writer
	l   *Limiter
}

// Writer paces writes to w through l.
func Writer(ctx context.Context, w io.Writer, l *Limiter) io.Writer {
	return &writer{ctx: ctx, w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	if err := w.l.Wait(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}
