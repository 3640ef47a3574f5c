package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/kgraph/internal/aiclient"
	"github.com/OFFIS-RIT/kgraph/internal/queue"
	"github.com/OFFIS-RIT/kgraph/internal/setup"
	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/daemon"
	"github.com/OFFIS-RIT/kgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
)

func main() {
	util.LoadEnv()
	setup.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, st := setup.Store(ctx)
	defer pool.Close()

	clients, err := aiclient.NewClients()
	if err != nil {
		logger.Fatal("Could not create AI clients", "err", err)
	}

	tenants := setup.Tenants(st)
	defer tenants.Close()

	pipeline := setup.Pipeline(st, tenants, setup.Loaders(ctx), clients.Main)
	builds := daemon.NewGraphBuildDaemon(daemon.NewGraphBuildDaemonParams{
		Store:      st,
		Builder:    setup.Builder(st, clients.Main),
		Tenants:    tenants,
		NewBuilder: setup.BuilderFactory(clients.Main),
		Locker:     leaselock.New(pool),
	})

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}
	publish := func(queueName string, body []byte) error {
		return queue.PublishFIFO(ch, queueName, body)
	}

	if _, err := queue.RecoverStaleRawSources(ctx, st, publish); err != nil {
		logger.Error("Failed to recover stale raw sources", "err", err)
	}

	handler := queue.NewHandler(queue.NewHandlerParams{
		Store:   st,
		ETL:     pipeline,
		Builds:  builds,
		Publish: publish,
	})

	maxRetries := int(util.GetEnvNumeric("QUEUE_MAX_RETRIES", queue.DefaultMaxRetries))
	if err := queue.Consume(ctx, conn, queue.Queues, handler, maxRetries); err != nil {
		logger.Fatal("Consumer stopped", "err", err)
	}

	metrics := clients.Main.GetMetrics()
	logger.Info(
		"AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
	)
	logger.Info("Shutdown signal received, exiting...")
}
