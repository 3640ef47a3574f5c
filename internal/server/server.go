package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/aiclient"
	"github.com/OFFIS-RIT/kgraph/internal/migrate"
	"github.com/OFFIS-RIT/kgraph/internal/queue"
	mid "github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/internal/setup"
	"github.com/OFFIS-RIT/kgraph/internal/storage"
	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/export"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	pgstore "github.com/OFFIS-RIT/kgraph/pkg/store/pgx"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New returns an echo instance serving app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("512M"))

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.DatabaseURL()
	if err := migrate.Up(util.GetEnvString("MIGRATIONS_PATH", "migrations"), databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	pool, err := pgstore.NewPool(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer pool.Close()
	st, err := pgstore.NewGraphDBStorageWithConnection(ctx, pool)
	if err != nil {
		logger.Fatal("Failed to create graph storage", "err", err)
	}

	tenants := setup.Tenants(st)
	defer tenants.Close()
	app := &mid.App{Store: st, Tenants: tenants}

	if clients, err := aiclient.NewClients(); err != nil {
		logger.Warn("[Server] AI clients unavailable, memory routes disabled", "err", err)
	} else {
		app.Chats = setup.Pipeline(st, tenants, setup.Loaders(ctx), clients.Main)
		app.Embedder = clients.Main
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		que := queue.Init()
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Publish = func(queueName string, body []byte) error {
			return queue.PublishFIFO(ch, queueName, body)
		}
	}

	if bucket := util.GetEnv("S3_BUCKET"); bucket != "" {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		app.Uploads = storage.NewUploads(s3Client, bucket)
	}

	projector, err := export.NewNeo4jProjector(ctx, export.NewNeo4jProjectorParams{
		URI:      util.GetEnv("NEO4J_URI"),
		User:     util.GetEnv("NEO4J_USER"),
		Password: util.GetEnv("NEO4J_PASSWORD"),
		Database: util.GetEnv("NEO4J_DATABASE"),
	})
	if err != nil {
		logger.Fatal("Failed to connect to neo4j", "err", err)
	}
	defer projector.Close(context.Background())
	app.Projector = projector

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
