package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OFFIS-RIT/kgraph/internal/aiclient"
	"github.com/OFFIS-RIT/kgraph/internal/setup"
	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/optimize"
)

const usage = `usage: optimizer <command> [flags]

commands:
  run     detect, evaluate and repair issues for one or more queries
  status  print issue statistics
  reset   delete all stored issues
`

type queryFlags []string

func (q *queryFlags) String() string { return strings.Join(*q, ", ") }

func (q *queryFlags) Set(v string) error {
	*q = append(*q, v)
	return nil
}

func main() {
	util.LoadEnv()
	setup.Logger()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		var queries queryFlags
		fs.Var(&queries, "query", "query text, may be repeated (default OPTIMIZER_QUERIES)")
		topic := fs.String("topic", util.GetEnv("OPTIMIZER_TOPIC"), "restrict detection to one topic")
		topK := fs.Int("top-k", 0, "relationships retrieved per query (default from config)")
		_ = fs.Parse(args)

		qs := make([]optimize.Query, 0, len(queries))
		for _, text := range queries {
			qs = append(qs, optimize.Query{Text: text, Topic: *topic, TopK: *topK})
		}
		if len(qs) == 0 {
			for _, q := range setup.OptimizerQueries() {
				q.Topic, q.TopK = *topic, *topK
				qs = append(qs, q)
			}
		}
		if len(qs) == 0 {
			logger.Fatal("No query given, use -query or OPTIMIZER_QUERIES")
		}
		withEngine(ctx, func(engine *optimize.Engine) error {
			for _, q := range qs {
				report, err := engine.Optimize(ctx, q)
				if err != nil {
					return fmt.Errorf("query %q: %w", q.Text, err)
				}
				fmt.Printf("%s: detected=%v new=%d repaired=%d skipped=%d failed=%d\n",
					q.Text, report.Detected, report.NewIssues, report.Repaired, report.Skipped, report.Failed)
				fmt.Println(report.Stats.Summary())
			}
			return nil
		})
	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		asJSON := fs.Bool("json", false, "print the full statistics as JSON")
		_ = fs.Parse(args)

		withEngine(ctx, func(engine *optimize.Engine) error {
			stats, err := engine.Status(ctx)
			if err != nil {
				return err
			}
			if *asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			fmt.Println(stats.Summary())
			for t, s := range stats.ByType {
				fmt.Printf("  %-28s detected=%d validated=%d resolved=%d\n", t, s.Detected, s.Validated, s.Resolved)
			}
			return nil
		})
	case "reset":
		fs := flag.NewFlagSet("reset", flag.ExitOnError)
		_ = fs.Parse(args)

		withEngine(ctx, func(engine *optimize.Engine) error {
			if err := engine.Reset(ctx); err != nil {
				return err
			}
			fmt.Println("optimizer state cleared")
			return nil
		})
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func withEngine(ctx context.Context, fn func(engine *optimize.Engine) error) {
	pool, st := setup.Store(ctx)
	defer pool.Close()

	clients, err := aiclient.NewClients()
	if err != nil {
		logger.Fatal("Could not create AI clients", "err", err)
	}
	engine, issues, err := setup.Optimizer(st, clients)
	if err != nil {
		logger.Fatal("Failed to create optimizer", "err", err)
	}
	defer issues.Close()

	if err := fn(engine); err != nil {
		logger.Error("Optimizer command failed", "err", err)
		issues.Close()
		pool.Close()
		os.Exit(1)
	}
}
