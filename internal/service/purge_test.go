package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (c *countingPurger) PurgeSelfAndBroadcastRows(context.Context) (int64, error) {
	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return 3, nil
}

func TestPurgeService_RunOnce(t *testing.T) {
	p := &countingPurger{}
	svc := NewPurgeService(p, time.Hour)
	assert.Equal(t, int64(3), svc.RunOnce(context.Background()))

	p.err = errors.New("db down")
	assert.Zero(t, svc.RunOnce(context.Background()))
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestPurgeService_StartRunsImmediatelyAndPeriodically(t *testing.T) {
	p := &countingPurger{}
	svc := NewPurgeService(p, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
