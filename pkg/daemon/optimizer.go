package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/optimize"

	"github.com/robfig/cron/v3"
)

const (
	DefaultOptimizerSchedule = "@every 30m"

	optimizerLockKey = "daemon:optimizer"
	optimizerTimeout = 2 * time.Hour
)

// Optimizer runs one optimization cycle. *optimize.Engine implements it.
type Optimizer interface {
	Optimize(ctx context.Context, q optimize.Query) (optimize.Report, error)
}

// OptimizerScheduler runs the optimizer for every configured query on a
// cron schedule. Runs never overlap, neither in this process nor, with a
// Locker, across processes.
type OptimizerScheduler struct {
	optimizer Optimizer
	locker    Locker
	queries   []optimize.Query
	schedule  string

	cron *cron.Cron
	mu   sync.Mutex
}

type NewOptimizerSchedulerParams struct {
	Optimizer Optimizer
	Locker    Locker
	Queries   []optimize.Query
	// Schedule is a cron spec or descriptor, "@every 30m" by default.
	Schedule string
}

func NewOptimizerScheduler(p NewOptimizerSchedulerParams) *OptimizerScheduler {
	schedule := p.Schedule
	if schedule == "" {
		schedule = DefaultOptimizerSchedule
	}
	return &OptimizerScheduler{
		optimizer: p.Optimizer,
		locker:    p.Locker,
		queries:   p.Queries,
		schedule:  schedule,
		cron:      cron.New(),
	}
}

func (s *OptimizerScheduler) Start() error {
	if len(s.queries) == 0 {
		return errors.New("optimizer scheduler needs at least one query")
	}
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), optimizerTimeout)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			logger.Error("[Optimizer] Scheduled run failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid optimizer schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	logger.Info("[Optimizer] Scheduler started", "schedule", s.schedule, "queries", len(s.queries))
	return nil
}

// Stop removes the schedule and returns a context that ends once a running
// cycle has finished.
func (s *OptimizerScheduler) Stop() context.Context {
	logger.Info("[Optimizer] Scheduler stopping")
	return s.cron.Stop()
}

// RunOnce runs every query once. A run already in progress makes it a no-op.
func (s *OptimizerScheduler) RunOnce(ctx context.Context) error {
	if !s.mu.TryLock() {
		logger.Info("[Optimizer] Previous run still in progress, skipping")
		return nil
	}
	defer s.mu.Unlock()

	if s.locker == nil {
		return s.runQueries(ctx)
	}
	err := s.locker.WithLease(ctx, optimizerLockKey, leaselock.Options{TTL: 5 * time.Minute}, s.runQueries)
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("[Optimizer] Another instance is optimizing, skipping")
		return nil
	}
	return err
}

func (s *OptimizerScheduler) runQueries(ctx context.Context) error {
	var errs []error
	for _, q := range s.queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, err := s.optimizer.Optimize(ctx, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("query %q: %w", q.Text, err))
			continue
		}
		logger.Info("[Optimizer] Query optimized", "query", q.Text, "topic", q.Topic,
			"summary", report.Stats.Summary(), "repaired", report.Repaired)
	}
	return errors.Join(errs...)
}
