package resolver

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrQueueFull is returned when the limiter's wait queue is at capacity.
var ErrQueueFull = errors.New("resolver: lookup queue is full")

// Limiter bounds the number of concurrent discovery lookups. Waiters queue
// on the caller's context; there is no built-in timeout.
type Limiter struct {
	sem       chan struct{}
	maxSize   int
	queueSize int32 // atomic
	maxQueue  int
}

// NewLimiter returns a limiter admitting max concurrent holders.
// maxQueue limits waiters (-1 = unbounded, 0 = no queue).
func NewLimiter(max, maxQueue int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{
		sem:      make(chan struct{}, max),
		maxSize:  max,
		maxQueue: maxQueue,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	// try without queueing so a zero queue still admits while slots are free
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}

	qLen := atomic.AddInt32(&l.queueSize, 1)
	defer atomic.AddInt32(&l.queueSize, -1)
	if l.maxQueue >= 0 && int(qLen) > l.maxQueue {
		return ErrQueueFull
	}

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. It must follow a successful Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
	default:
	}
}

// Stats returns busy slots, queued waiters and the slot count.
func (l *Limiter) Stats() (active, queued, max int) {
	return len(l.sem), int(atomic.LoadInt32(&l.queueSize)), l.maxSize
}
