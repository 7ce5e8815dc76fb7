package service

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/telemetry"
)

// FlushFunc writes all unflushed mirror state to the durable store.
type FlushFunc func(ctx context.Context) error

// FlushScheduler coalesces flush requests. Mutations call Schedule, which arms
// a single debounce timer; Start adds a periodic safety-net flush; Flush runs
// one synchronously. At most one flush runs at a time.
type FlushScheduler struct {
	flush    FlushFunc
	debounce time.Duration
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	stop     chan struct{}
	baseCtx  context.Context
	disposed bool

	running sync.Mutex
}

// NewFlushScheduler creates a scheduler around flush.
func NewFlushScheduler(flush FlushFunc, debounce, interval time.Duration) *FlushScheduler {
	return &FlushScheduler{
		flush:    flush,
		debounce: debounce,
		interval: interval,
		baseCtx:  context.Background(),
	}
}

// Start begins the periodic flush loop. Returns when ctx is cancelled or the
// scheduler is disposed. Timer-driven flushes run with ctx.
func (s *FlushScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.disposed || s.stop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stop = stop
	s.baseCtx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			// a debounced or explicit flush is already writing
			if !s.running.TryLock() {
				continue
			}
			s.runLocked(ctx, "periodic")
			s.running.Unlock()
		}
	}
}

// Schedule requests a flush after the debounce delay. Calls while a timer is
// armed are absorbed by it; calls after Dispose are ignored.
func (s *FlushScheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.timer = nil
		ctx := s.baseCtx
		s.mu.Unlock()
		s.run(ctx, "debounced")
	})
}

// Kick starts a flush immediately in the background, superseding any armed
// debounce timer.
func (s *FlushScheduler) Kick() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.cancelTimerLocked()
	ctx := s.baseCtx
	s.mu.Unlock()
	go s.run(ctx, "kick")
}

// Flush runs a flush synchronously, waiting for any flush already in flight.
// It is a no-op once the scheduler is disposed.
func (s *FlushScheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.cancelTimerLocked()
	s.mu.Unlock()

	s.running.Lock()
	defer s.running.Unlock()
	if s.isDisposed() {
		return nil
	}
	return s.runLocked(ctx, "explicit")
}

// Dispose cancels the debounce timer and the periodic loop. A disposed
// scheduler never flushes again.
func (s *FlushScheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.cancelTimerLocked()
	if s.stop != nil {
		close(s.stop)
	}
}

func (s *FlushScheduler) run(ctx context.Context, trigger string) {
	s.running.Lock()
	defer s.running.Unlock()
	if s.isDisposed() {
		return
	}
	_ = s.runLocked(ctx, trigger)
}

func (s *FlushScheduler) runLocked(ctx context.Context, trigger string) error {
	start := time.Now()
	err := s.flush(ctx)
	telemetry.ObserveFlush(start, err)
	if err != nil {
		log.Error("Flush: failed", "trigger", trigger, "err", err)
		return err
	}
	log.Debug("Flush: completed", "trigger", trigger, "duration", time.Since(start))
	return nil
}

func (s *FlushScheduler) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *FlushScheduler) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
