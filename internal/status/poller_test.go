package status

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestPoller_RunsEveryInterval(t *testing.T) {
	t.Parallel()

	clk := clocktesting.NewFakeClock(time.Now())
	var calls atomic.Int32
	p := NewPoller(time.Minute, clk, logr.Discard(), func(context.Context) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(time.Minute)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	clk.Step(time.Minute)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestNewPoller_DefaultInterval(t *testing.T) {
	t.Parallel()

	p := NewPoller(0, nil, logr.Discard(), func(context.Context) {})
	assert.Equal(t, DefaultRefreshInterval, p.interval)
}
