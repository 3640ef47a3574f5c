package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/graph"
	"github.com/OFFIS-RIT/kgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
	"github.com/OFFIS-RIT/kgraph/pkg/tenant"
)

const topicLeaseTTL = 2 * time.Minute

// Tenants opens the graph store of an external database. *tenant.Pool
// implements it.
type Tenants interface {
	Store(ctx context.Context, uri string) (store.Store, error)
}

// BuilderFactory creates a builder that writes into st.
type BuilderFactory func(st graph.BuilderStore) TopicBuilder

// externalBuilds builds topics whose tasks name an external database.
type externalBuilds struct {
	tenants    Tenants
	newBuilder BuilderFactory
}

func (x externalBuilds) resolve(ctx context.Context, uri string) (store.Store, TopicBuilder, error) {
	if x.tenants == nil || x.newBuilder == nil {
		return nil, nil, tenant.ErrNotConfigured
	}
	st, err := x.tenants.Store(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	return st, x.newBuilder(st), nil
}

// topicLockKey names the lease that serialises builds of one topic graph.
// The URI is hashed so credentials never reach the lock table.
func topicLockKey(topic, uri string) string {
	if uri == "" {
		return "topic-build:" + topic
	}
	return "topic-build:" + util.ContentHash([]byte(uri))[:16] + ":" + topic
}

// withTopicLease runs fn while holding the topic lease. Without a locker fn
// runs directly.
func withTopicLease(ctx context.Context, locker Locker, topic, uri string, wait bool, fn func(ctx context.Context) error) error {
	if locker == nil {
		return fn(ctx)
	}
	return locker.WithLease(ctx, topicLockKey(topic, uri), leaselock.Options{TTL: topicLeaseTTL, Wait: wait}, fn)
}

func databaseLabel(uri string) string {
	if uri == "" {
		return "local"
	}
	return tenant.Redact(uri)
}

func buildFailedMessage(err error) string {
	return fmt.Sprintf("Graph build failed: %v", err)
}
