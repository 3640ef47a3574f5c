// Package setup wires the process level dependencies shared by the binaries
// from the environment.
package setup

import (
	"context"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/aiclient"
	"github.com/OFFIS-RIT/kgraph/internal/migrate"
	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/daemon"
	"github.com/OFFIS-RIT/kgraph/pkg/graph"
	"github.com/OFFIS-RIT/kgraph/pkg/ingest"
	"github.com/OFFIS-RIT/kgraph/pkg/loader"
	fileloader "github.com/OFFIS-RIT/kgraph/pkg/loader/io"
	s3loader "github.com/OFFIS-RIT/kgraph/pkg/loader/s3"
	"github.com/OFFIS-RIT/kgraph/pkg/loader/web"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/logger/console"
	"github.com/OFFIS-RIT/kgraph/pkg/optimize"
	"github.com/OFFIS-RIT/kgraph/pkg/optimize/state"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
	pgstore "github.com/OFFIS-RIT/kgraph/pkg/store/pgx"
	"github.com/OFFIS-RIT/kgraph/pkg/tenant"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Logger() {
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)
}

// Store opens the database pool and the graph storage on top of it.
func Store(ctx context.Context) (*pgxpool.Pool, *pgstore.GraphDBStorage) {
	pool, err := pgstore.NewPool(ctx, util.DatabaseURL())
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	st, err := pgstore.NewGraphDBStorageWithConnection(ctx, pool)
	if err != nil {
		logger.Fatal("Failed to create graph storage", "err", err)
	}
	return pool, st
}

// Loaders registers the filesystem and web loaders, and the S3 loader when
// S3_BUCKET is set.
func Loaders(ctx context.Context) *loader.Router {
	webLoader := web.NewWebLoader(&http.Client{Timeout: 60 * time.Second})
	router := loader.NewRouter().
		Register("file", fileloader.NewFileLoader(util.GetEnv("FILE_ROOT"))).
		Register("http", webLoader).
		Register("https", webLoader)

	if bucket := util.GetEnv("S3_BUCKET"); bucket != "" {
		s3L, err := s3loader.NewS3Loader(ctx, s3loader.NewS3LoaderParams{
			Bucket:    bucket,
			Endpoint:  util.GetEnv("S3_ENDPOINT"),
			Region:    util.GetEnvString("S3_REGION", "us-east-1"),
			AccessKey: util.GetEnv("S3_ACCESS_KEY"),
			SecretKey: util.GetEnv("S3_SECRET_KEY"),
		})
		if err != nil {
			logger.Fatal("Failed to create S3 loader", "err", err)
		}
		router.Register("s3", s3L)
	}
	return router
}

// Tenants opens external graph databases on first use. With RUN_MIGRATIONS
// each one is migrated to the local schema before it is used.
func Tenants(local store.Store) *tenant.Pool {
	dir := util.GetEnvString("MIGRATIONS_PATH", "migrations")
	runMigrations := util.GetEnvBool("RUN_MIGRATIONS", true)
	return tenant.NewPool(tenant.NewPoolParams{
		Local: local,
		Open: func(ctx context.Context, uri string) (store.Store, func(), error) {
			if runMigrations {
				if err := migrate.Up(dir, uri); err != nil {
					return nil, nil, err
				}
			}
			pool, err := pgstore.NewPool(ctx, uri)
			if err != nil {
				return nil, nil, err
			}
			st, err := pgstore.NewGraphDBStorageWithConnection(ctx, pool)
			if err != nil {
				pool.Close()
				return nil, nil, err
			}
			return st, pool.Close, nil
		},
	})
}

// BuilderFactory creates builders for external graph databases.
func BuilderFactory(client ai.GraphAIClient) daemon.BuilderFactory {
	return func(st graph.BuilderStore) daemon.TopicBuilder {
		return Builder(st, client)
	}
}

func Builder(st graph.BuilderStore, client ai.GraphAIClient) *graph.Builder {
	return graph.NewBuilder(graph.NewBuilderParams{
		Store:      st,
		Client:     client,
		Workers:    int(util.GetEnvNumeric("WORKER_COUNT", 3)),
		MapWorkers: int(util.GetEnvNumeric("MAP_WORKER_COUNT", 3)),
		Skeletal:   util.GetEnvBool("SKELETAL_GRAPH", false),
	})
}

func Pipeline(st ingest.Store, tenants ingest.SourceStores, router loader.Loader, summarizer ai.Completer) *ingest.Pipeline {
	return ingest.NewPipeline(ingest.NewPipelineParams{
		Store:          st,
		Tenants:        tenants,
		Summarizer:     summarizer,
		Loader:         router,
		ScheduleBuilds: util.GetEnvBool("ETL_SCHEDULE_BUILDS", true),
		Workers:        int(util.GetEnvNumeric("ETL_WORKER_COUNT", 4)),
	})
}

// Optimizer opens the issue state store and builds the engine. The caller
// closes the returned state store.
func Optimizer(st store.GraphStore, clients *aiclient.Clients) (*optimize.Engine, *state.Store, error) {
	cfg, err := aiclient.OptimizerConfig()
	if err != nil {
		return nil, nil, err
	}
	issues, err := state.Open(util.GetEnvString("OPTIMIZER_STATE_DIR", "data/optimizer"))
	if err != nil {
		return nil, nil, err
	}
	engine, err := optimize.NewEngine(optimize.NewEngineParams{
		Store:    st,
		State:    issues,
		Client:   clients.Main,
		Detector: clients.Optimizer,
		Critics:  clients.CriticList(),
		Config:   cfg,
	})
	if err != nil {
		_ = issues.Close()
		return nil, nil, err
	}
	return engine, issues, nil
}

// OptimizerQueries reads OPTIMIZER_QUERIES, scoped to OPTIMIZER_TOPIC.
func OptimizerQueries() []optimize.Query {
	topic := util.GetEnv("OPTIMIZER_TOPIC")
	var out []optimize.Query
	for _, text := range util.GetEnvList("OPTIMIZER_QUERIES") {
		out = append(out, optimize.Query{Text: text, Topic: topic})
	}
	return out
}
