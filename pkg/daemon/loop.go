// Package daemon runs the background work of the pipeline: building pending
// topic builds, building sources that are not yet in the graph and
// scheduling optimizer runs.
package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
)

// Locker guards a unit of work across processes. *leaselock.Client
// implements it.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Loop repeats work with a pause of interval in between. Stop lets the
// current unit finish; it is never interrupted by Stop.
type Loop struct {
	name     string
	interval time.Duration
	work     func(ctx context.Context) error

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewLoop(name string, interval time.Duration, work func(ctx context.Context) error) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{
		name:     name,
		interval: interval,
		work:     work,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks until Stop is called or ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)
	logger.Info("[Daemon] Started", "daemon", l.name, "interval", l.interval)

	for {
		select {
		case <-l.stopCh:
			logger.Info("[Daemon] Stopped", "daemon", l.name)
			return nil
		case <-ctx.Done():
			logger.Info("[Daemon] Stopped", "daemon", l.name, "reason", ctx.Err())
			return ctx.Err()
		default:
		}

		if err := l.work(ctx); err != nil {
			logger.Error("[Daemon] Work failed", "daemon", l.name, "err", err)
		}

		t := time.NewTimer(l.interval)
		select {
		case <-l.stopCh:
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
}

// Stop asks the loop to end after the current unit.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Loop) Running() bool {
	return l.running.Load()
}
