// Package tenant resolves the graph store behind an external database URI.
// Build tasks and raw sources without a URI use the local store.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

// ErrNotConfigured is returned for an external URI when the pool has no
// opener.
var ErrNotConfigured = errors.New("external databases are not configured")

// Opener connects to the database at uri. The returned func releases the
// connection.
type Opener func(ctx context.Context, uri string) (store.Store, func(), error)

type opened struct {
	store store.Store
	close func()
}

// Pool hands out one store per database URI. Connections are opened on first
// use and kept until Close.
type Pool struct {
	local store.Store
	open  Opener

	mu     sync.Mutex
	stores map[string]opened
}

type NewPoolParams struct {
	Local store.Store
	Open  Opener
}

func NewPool(p NewPoolParams) *Pool {
	return &Pool{
		local:  p.Local,
		open:   p.Open,
		stores: map[string]opened{},
	}
}

// Store returns the store for uri. An empty uri is the local store.
func (p *Pool) Store(ctx context.Context, uri string) (store.Store, error) {
	if uri == "" {
		return p.local, nil
	}
	if p.open == nil {
		return nil, ErrNotConfigured
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if o, ok := p.stores[uri]; ok {
		return o.store, nil
	}
	st, closeFn, err := p.open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", Redact(uri), err)
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	p.stores[uri] = opened{store: st, close: closeFn}
	logger.Info("[Tenant] Opened external database", "database", Redact(uri))
	return st, nil
}

// Close releases every external connection. The local store is left open.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for uri, o := range p.stores {
		o.close()
		delete(p.stores, uri)
	}
}

// Redact hides the password of uri for logs and task messages.
func Redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}
