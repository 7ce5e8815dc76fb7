package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingFlush struct {
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
	err     error
}

func (c *countingFlush) flush(ctx context.Context) error {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.err
}

func TestSchedule_CoalescesBursts(t *testing.T) {
	f := &countingFlush{}
	s := NewFlushScheduler(f.flush, 30*time.Millisecond, time.Hour)
	defer s.Dispose()

	for i := 0; i < 20; i++ {
		s.Schedule()
	}
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.EqualValues(t, 1, f.calls.Load())

	s.Schedule()
	require.Eventually(t, func() bool { return f.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestFlush_SynchronousAndCancelsTimer(t *testing.T) {
	f := &countingFlush{}
	s := NewFlushScheduler(f.flush, 50*time.Millisecond, time.Hour)
	defer s.Dispose()

	s.Schedule()
	require.NoError(t, s.Flush(context.Background()))
	require.EqualValues(t, 1, f.calls.Load())

	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, f.calls.Load())
}

func TestFlush_ReturnsError(t *testing.T) {
	boom := errors.New("boom")
	f := &countingFlush{err: boom}
	s := NewFlushScheduler(f.flush, time.Hour, time.Hour)
	defer s.Dispose()

	require.ErrorIs(t, s.Flush(context.Background()), boom)
}

func TestDispose_StopsEverything(t *testing.T) {
	f := &countingFlush{}
	s := NewFlushScheduler(f.flush, 20*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	s.Schedule()
	s.Dispose()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic loop did not stop after Dispose")
	}

	before := f.calls.Load()
	s.Schedule()
	s.Kick()
	require.NoError(t, s.Flush(context.Background()))
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, before, f.calls.Load())
}

func TestStart_PeriodicFlush(t *testing.T) {
	f := &countingFlush{}
	s := NewFlushScheduler(f.flush, time.Hour, 10*time.Millisecond)
	defer s.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestFlush_OneInFlight(t *testing.T) {
	f := &countingFlush{delay: 20 * time.Millisecond}
	s := NewFlushScheduler(f.flush, time.Millisecond, time.Hour)
	defer s.Dispose()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Flush(context.Background())
		}()
		s.Kick()
	}
	wg.Wait()
	require.Eventually(t, func() bool { return f.active.Load() == 0 }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, f.maxSeen.Load())
	require.GreaterOrEqual(t, f.calls.Load(), int32(5))
}
