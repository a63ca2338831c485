// Package concurrency bounds and protects calls to shared upstreams across
// all worker goroutines, and sizes the worker pool for the container.
package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned when the limiter's circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Metrics is a snapshot of limiter activity.
type Metrics struct {
	TotalAcquired   int64
	TotalRejected   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter is a semaphore with an optional circuit breaker.
type Limiter struct {
	sem     chan struct{}
	breaker *CircuitBreaker

	active   atomic.Int64
	acquired atomic.Int64
	rejected atomic.Int64
	peak     atomic.Int64
	waitNs   atomic.Int64
}

// NewLimiter allows maxConcurrent calls at once. breaker may be nil.
func NewLimiter(maxConcurrent int, breaker *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:     make(chan struct{}, maxConcurrent),
		breaker: breaker,
	}
}

// Acquire waits for a slot. It fails fast with ErrCircuitOpen while the
// breaker is open.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.breaker != nil && !l.breaker.Allow() {
		l.rejected.Add(1)
		return ErrCircuitOpen
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		l.waitNs.Add(time.Since(start).Nanoseconds())
		l.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot acquired with Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
	default:
	}
}

// Do runs fn holding a slot. A non-nil error from fn counts as a breaker
// failure. Errors from Acquire are returned without running fn.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn()
	if l.breaker != nil {
		if err != nil {
			l.breaker.RecordFailure()
		} else {
			l.breaker.RecordSuccess()
		}
	}
	return err
}

// CurrentActive returns the number of held slots.
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// Metrics returns a snapshot of the limiter's counters.
func (l *Limiter) Metrics() Metrics {
	return Metrics{
		TotalAcquired:   l.acquired.Load(),
		TotalRejected:   l.rejected.Load(),
		PeakConcurrent:  l.peak.Load(),
		TotalWaitTimeNs: l.waitNs.Load(),
	}
}

// AverageWaitTime returns the mean time spent waiting for a slot.
func (l *Limiter) AverageWaitTime() time.Duration {
	m := l.Metrics()
	if m.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(m.TotalWaitTimeNs / m.TotalAcquired)
}

// BreakerState returns the circuit breaker state, closed without a breaker.
func (l *Limiter) BreakerState() CircuitBreakerState {
	if l.breaker == nil {
		return StateClosed
	}
	return l.breaker.State()
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
