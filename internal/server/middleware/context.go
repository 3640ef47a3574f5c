package middleware

import (
	"context"
	"io"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/export"
	"github.com/OFFIS-RIT/kgraph/pkg/ingest"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
	"github.com/OFFIS-RIT/kgraph/pkg/tenant"

	"github.com/labstack/echo/v4"
)

// Uploader stores an uploaded file and returns a link the loaders can read.
type Uploader interface {
	Put(ctx context.Context, topic, name string, body io.Reader) (string, error)
}

// Tenants opens the graph store of an external database.
type Tenants interface {
	Store(ctx context.Context, uri string) (store.Store, error)
}

// Chats stores chat batches as personal memory. *ingest.Pipeline implements
// it.
type Chats interface {
	ProcessChatBatch(ctx context.Context, batch ingest.ChatBatch) (ingest.ChatBatchResult, error)
}

type App struct {
	Store store.Store
	// Tenants serves requests that name an external database. Nil rejects
	// them.
	Tenants   Tenants
	Uploads   Uploader
	Projector *export.Neo4jProjector
	// Chats and Embedder serve the user memory routes. Nil disables them.
	Chats    Chats
	Embedder ai.GraphAIClient
	// Publish sends a message to a work queue. Nil disables queueing, jobs
	// are then picked up by the daemons.
	Publish func(queueName string, body []byte) error
}

// StoreFor returns the store holding the sources and graph of uri. An empty
// uri is the local store.
func (a *App) StoreFor(ctx context.Context, uri string) (store.Store, error) {
	if uri == "" {
		return a.Store, nil
	}
	if a.Tenants == nil {
		return nil, tenant.ErrNotConfigured
	}
	return a.Tenants.Store(ctx, uri)
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
