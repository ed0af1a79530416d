package status

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// DefaultRefreshInterval is the background status re-check period.
const DefaultRefreshInterval = 60 * time.Second

// Poller calls fn every interval until its context ends.
type Poller struct {
	interval time.Duration
	clock    clock.WithTicker
	log      logr.Logger
	fn       func(context.Context)
}

func NewPoller(interval time.Duration, clk clock.WithTicker, log logr.Logger, fn func(context.Context)) *Poller {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Poller{interval: interval, clock: clk, log: log.WithName("status-poller"), fn: fn}
}

func (p *Poller) Run(ctx context.Context) {
	t := p.clock.NewTicker(p.interval)
	defer t.Stop()

	p.log.V(2).Info("started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			p.fn(ctx)
		}
	}
}
