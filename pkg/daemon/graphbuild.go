package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/graph"
	"github.com/OFFIS-RIT/kgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

const (
	DefaultGraphBuildInterval = 60 * time.Second

	graphBuildLockKey = "daemon:graph-build"
	noSourcesMessage  = "No valid sources found"
)

// TopicBuilder builds documents into a topic graph. *graph.Builder
// implements it.
type TopicBuilder interface {
	BuildTopic(ctx context.Context, topic string, docs []common.SourceDocument, opts graph.BuildOptions) (graph.BuildStats, error)
}

type documentStore interface {
	GetSourceDocuments(ctx context.Context, ids []string) ([]common.SourceDocument, error)
}

type GraphBuildStore interface {
	store.BuildStore
	documentStore
}

// GraphBuildDaemon works off pending graph build tasks one topic at a time.
// Tasks naming an external database are built into that database while
// their status stays in the local task table.
type GraphBuildDaemon struct {
	store    GraphBuildStore
	builder  TopicBuilder
	external externalBuilds
	locker   Locker
	loop     *Loop
}

// NewGraphBuildDaemonParams configures a GraphBuildDaemon. Locker is
// optional; without it the daemon assumes it is the only instance. Tenants
// and NewBuilder serve tasks with an external database URI; without them
// such tasks fail.
type NewGraphBuildDaemonParams struct {
	Store      GraphBuildStore
	Builder    TopicBuilder
	Tenants    Tenants
	NewBuilder BuilderFactory
	Locker     Locker
	Interval   time.Duration
}

func NewGraphBuildDaemon(p NewGraphBuildDaemonParams) *GraphBuildDaemon {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultGraphBuildInterval
	}
	d := &GraphBuildDaemon{
		store:    p.Store,
		builder:  p.Builder,
		external: externalBuilds{tenants: p.Tenants, newBuilder: p.NewBuilder},
		locker:   p.Locker,
	}
	d.loop = NewLoop("graph-build", interval, func(ctx context.Context) error {
		_, err := d.RunOnce(ctx)
		return err
	})
	return d
}

func (d *GraphBuildDaemon) Run(ctx context.Context) error {
	return d.loop.Run(ctx)
}

func (d *GraphBuildDaemon) Stop() {
	d.loop.Stop()
}

// RunOnce claims and builds the topic with the earliest open task. It
// reports whether a topic was processed.
func (d *GraphBuildDaemon) RunOnce(ctx context.Context) (bool, error) {
	if d.locker == nil {
		return d.processNext(ctx)
	}

	var worked bool
	err := d.locker.WithLease(ctx, graphBuildLockKey, leaselock.Options{TTL: 2 * time.Minute}, func(ctx context.Context) error {
		var err error
		worked, err = d.processNext(ctx)
		return err
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Debug("[GraphBuild] Another instance is building")
		return false, nil
	}
	return worked, err
}

func (d *GraphBuildDaemon) processNext(ctx context.Context) (bool, error) {
	claimed, ok, err := d.store.ClaimNextTopicBuilds(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim graph builds: %w", err)
	}
	if !ok {
		return false, nil
	}

	ids := make([]string, len(claimed.Tasks))
	sourceIDs := make([]string, 0, len(claimed.Tasks))
	for i, t := range claimed.Tasks {
		ids[i] = t.ID
		if t.SourceID != "" {
			sourceIDs = append(sourceIDs, t.SourceID)
		}
	}
	logger.Info("[GraphBuild] Processing topic", "topic", claimed.TopicName,
		"database", databaseLabel(claimed.ExternalDatabaseURI), "tasks", len(ids))

	var docStore documentStore = d.store
	builder := d.builder
	if claimed.ExternalDatabaseURI != "" {
		st, b, err := d.external.resolve(ctx, claimed.ExternalDatabaseURI)
		if err != nil {
			return true, d.finish(ctx, claimed.TopicName, ids, common.BuildFailed, buildFailedMessage(err))
		}
		docStore, builder = st, b
	}

	docs, err := docStore.GetSourceDocuments(ctx, store.DedupeStrings(sourceIDs))
	if err != nil {
		return true, d.finish(ctx, claimed.TopicName, ids, common.BuildFailed, buildFailedMessage(err))
	}
	if len(docs) == 0 {
		return true, d.finish(ctx, claimed.TopicName, ids, common.BuildFailed, noSourcesMessage)
	}

	var stats graph.BuildStats
	err = withTopicLease(ctx, d.locker, claimed.TopicName, claimed.ExternalDatabaseURI, true, func(ctx context.Context) error {
		var err error
		stats, err = builder.BuildTopic(ctx, claimed.TopicName, docs, graph.BuildOptions{})
		return err
	})
	if err != nil {
		return true, d.finish(ctx, claimed.TopicName, ids, common.BuildFailed, buildFailedMessage(err))
	}

	logger.Info("[GraphBuild] Topic built", "topic", claimed.TopicName,
		"documents", stats.DocumentsProcessed,
		"entities", stats.EntitiesCreated,
		"relationships", stats.RelationshipsCreated,
	)
	return true, d.finish(ctx, claimed.TopicName, ids, common.BuildCompleted, "")
}

func (d *GraphBuildDaemon) finish(ctx context.Context, topic string, ids []string, status common.BuildStatus, msg string) error {
	if status == common.BuildFailed {
		logger.Error("[GraphBuild] Build failed", "topic", topic, "reason", msg)
	}
	// The build may have run into a cancelled context; the status must still land.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	if err := d.store.FinishGraphBuilds(ctx, ids, status, msg); err != nil {
		return fmt.Errorf("failed to mark builds %s: %w", status, err)
	}
	return nil
}

// Status counts build tasks per status.
func (d *GraphBuildDaemon) Status(ctx context.Context) (common.BuildCounts, error) {
	return d.store.CountGraphBuilds(ctx)
}
