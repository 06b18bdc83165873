// Package workerpool bounds how many requests a node handles at once.
// A Pool is created at startup, handed to whoever admits work, and drained
// at shutdown.
package workerpool

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("worker pool closed")

// Pool is a fixed-size set of worker slots.
type Pool struct {
	size     int64
	sem      *semaphore.Weighted
	inflight atomic.Int64
	closed   atomic.Bool
}

// New creates a pool with size slots. size < 1 is treated as 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Inflight returns how many slots are currently held.
func (p *Pool) Inflight() int64 {
	return p.inflight.Load()
}

// Do runs fn on the calling goroutine once a slot is free.
// It returns ctx.Err() if the context ends while waiting.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()
	fn()
	return nil
}

// Close stops admitting work and waits for running work to finish or for
// ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.closed.Store(true)
	if err := p.sem.Acquire(ctx, p.size); err != nil {
		return errors.Wrap(err, "drain worker pool")
	}
	p.sem.Release(p.size)
	return nil
}

func (p *Pool) acquire(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if p.closed.Load() {
		p.sem.Release(1)
		return ErrClosed
	}
	p.inflight.Inc()
	return nil
}

func (p *Pool) release() {
	p.inflight.Dec()
	p.sem.Release(1)
}
