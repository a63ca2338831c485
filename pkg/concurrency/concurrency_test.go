package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCircuitBreakerTransitions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("uploadthing", 3, time.Minute, zap.NewNop())
	cb.now = func() time.Time { return now }

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, int64(0), cb.ConsecutiveFailures())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow())
	for i := 0; i < halfOpenSuccesses; i++ {
		cb.RecordSuccess()
	}
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	cb.Reset()
	assert.Equal(t, int64(0), cb.ConsecutiveFailures())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := NewLimiter(2, nil)

	var (
		mu      sync.Mutex
		current int
		highest int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), func() error {
				mu.Lock()
				current++
				highest = max(highest, current)
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				current--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, highest, 2)
	m := l.Metrics()
	assert.Equal(t, int64(10), m.TotalAcquired)
	assert.LessOrEqual(t, m.PeakConcurrent, int64(2))
	assert.Equal(t, int64(0), l.CurrentActive())
}

func TestLimiterOpensBreaker(t *testing.T) {
	cb := NewCircuitBreaker("uploadthing", 2, time.Hour, nil)
	l := NewLimiter(4, cb)
	boom := errors.New("503")

	assert.ErrorIs(t, l.Do(context.Background(), func() error { return boom }), boom)
	assert.ErrorIs(t, l.Do(context.Background(), func() error { return boom }), boom)
	assert.Equal(t, StateOpen, l.BreakerState())

	ran := false
	err := l.Do(context.Background(), func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
	assert.Equal(t, int64(1), l.Metrics().TotalRejected)
}

func TestLimiterAcquireHonoursContext(t *testing.T) {
	l := NewLimiter(1, nil)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)
}

func TestDefaultWorkers(t *testing.T) {
	assert.Equal(t, 4, defaultWorkers(true, 2))
	assert.Equal(t, 6, defaultWorkers(true, 6))
	assert.Equal(t, 8, defaultWorkers(false, 2))
	assert.Equal(t, 16, defaultWorkers(false, 8))
	assert.Positive(t, DefaultWorkers())
}
