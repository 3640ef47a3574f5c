package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/aiclient"
	"github.com/OFFIS-RIT/kgraph/internal/migrate"
	"github.com/OFFIS-RIT/kgraph/internal/setup"
	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/daemon"
	"github.com/OFFIS-RIT/kgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	util.LoadEnv()
	setup.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if util.GetEnvBool("RUN_MIGRATIONS", true) {
		if err := migrate.Up(util.GetEnvString("MIGRATIONS_PATH", "migrations"), util.DatabaseURL()); err != nil {
			logger.Fatal("Failed to run migrations", "err", err)
		}
	}

	pool, st := setup.Store(ctx)
	defer pool.Close()
	locker := leaselock.New(pool)

	clients, err := aiclient.NewClients()
	if err != nil {
		logger.Fatal("Could not create AI clients", "err", err)
	}
	tenants := setup.Tenants(st)
	defer tenants.Close()

	builder := setup.Builder(st, clients.Main)
	pipeline := setup.Pipeline(st, tenants, setup.Loaders(ctx), clients.Main)

	builds := daemon.NewGraphBuildDaemon(daemon.NewGraphBuildDaemonParams{
		Store:      st,
		Builder:    builder,
		Tenants:    tenants,
		NewBuilder: setup.BuilderFactory(clients.Main),
		Locker:     locker,
		Interval:   util.GetEnvDuration("GRAPH_BUILD_INTERVAL", daemon.DefaultGraphBuildInterval),
	})
	knowledge := daemon.NewKnowledgeDaemon(daemon.NewKnowledgeDaemonParams{
		Store:      st,
		Builder:    builder,
		Tenants:    tenants,
		NewBuilder: setup.BuilderFactory(clients.Main),
		Locker:     locker,
		Interval:   util.GetEnvDuration("KNOWLEDGE_INTERVAL", daemon.DefaultKnowledgeInterval),
	})
	etl := daemon.NewLoop("etl", util.GetEnvDuration("ETL_INTERVAL", 30*time.Second), func(ctx context.Context) error {
		_, err := pipeline.ProcessPending(ctx)
		return err
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return etl.Run(gctx) })
	g.Go(func() error { return builds.Run(gctx) })
	g.Go(func() error { return knowledge.Run(gctx) })

	var scheduler *daemon.OptimizerScheduler
	if queries := setup.OptimizerQueries(); len(queries) > 0 {
		engine, issues, err := setup.Optimizer(st, clients)
		if err != nil {
			logger.Fatal("Failed to create optimizer", "err", err)
		}
		defer issues.Close()

		scheduler = daemon.NewOptimizerScheduler(daemon.NewOptimizerSchedulerParams{
			Optimizer: engine,
			Locker:    locker,
			Queries:   queries,
			Schedule:  util.GetEnv("OPTIMIZER_SCHEDULE"),
		})
		if err := scheduler.Start(); err != nil {
			logger.Fatal("Failed to start optimizer scheduler", "err", err)
		}
	}

	logger.Info("Daemons started")
	<-ctx.Done()
	logger.Info("Shutdown signal received, finishing current work...")

	etl.Stop()
	builds.Stop()
	knowledge.Stop()
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Daemon exited with error", "err", err)
	}
}
