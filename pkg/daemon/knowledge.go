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
)

const DefaultKnowledgeInterval = 120 * time.Second

type KnowledgeStore interface {
	CompletedBuildTopics(ctx context.Context) ([]common.TopicBuilds, error)
	ListUnmappedSources(ctx context.Context, topic string) ([]common.SourceDocument, error)
	CountMappings(ctx context.Context, topic string) (common.MappingCounts, error)
}

// KnowledgeDaemon builds sources that were registered after the first
// build of their topic and are not in the graph yet. Each topic is built
// under its topic lease, so it never runs next to a graph build of the same
// topic.
type KnowledgeDaemon struct {
	store    KnowledgeStore
	builder  TopicBuilder
	external externalBuilds
	locker   Locker
	loop     *Loop
}

// NewKnowledgeDaemonParams configures a KnowledgeDaemon. Tenants and
// NewBuilder serve topics built into an external database.
type NewKnowledgeDaemonParams struct {
	Store      KnowledgeStore
	Builder    TopicBuilder
	Tenants    Tenants
	NewBuilder BuilderFactory
	Locker     Locker
	Interval   time.Duration
}

func NewKnowledgeDaemon(p NewKnowledgeDaemonParams) *KnowledgeDaemon {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultKnowledgeInterval
	}
	d := &KnowledgeDaemon{
		store:    p.Store,
		builder:  p.Builder,
		external: externalBuilds{tenants: p.Tenants, newBuilder: p.NewBuilder},
		locker:   p.Locker,
	}
	d.loop = NewLoop("knowledge", interval, func(ctx context.Context) error {
		_, err := d.RunOnce(ctx)
		return err
	})
	return d
}

func (d *KnowledgeDaemon) Run(ctx context.Context) error {
	return d.loop.Run(ctx)
}

func (d *KnowledgeDaemon) Stop() {
	d.loop.Stop()
}

func (d *KnowledgeDaemon) target(ctx context.Context, uri string) (KnowledgeStore, TopicBuilder, error) {
	if uri == "" {
		return d.store, d.builder, nil
	}
	return d.external.resolve(ctx, uri)
}

// RunOnce builds the unmapped sources of every topic with a completed
// build and returns the number of documents handed to the builder. A failing
// or busy topic does not stop the others.
func (d *KnowledgeDaemon) RunOnce(ctx context.Context) (int, error) {
	topics, err := d.store.CompletedBuildTopics(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list built topics: %w", err)
	}

	built := 0
	for _, t := range topics {
		if err := ctx.Err(); err != nil {
			return built, err
		}
		database := databaseLabel(t.ExternalDatabaseURI)
		st, builder, err := d.target(ctx, t.ExternalDatabaseURI)
		if err != nil {
			logger.Error("[Knowledge] Failed to open topic database", "topic", t.TopicName, "database", database, "err", err)
			continue
		}

		err = withTopicLease(ctx, d.locker, t.TopicName, t.ExternalDatabaseURI, false, func(ctx context.Context) error {
			docs, err := st.ListUnmappedSources(ctx, t.TopicName)
			if err != nil {
				return fmt.Errorf("failed to list unmapped sources: %w", err)
			}
			if len(docs) == 0 {
				return nil
			}

			logger.Info("[Knowledge] Building new sources", "topic", t.TopicName, "database", database, "sources", len(docs))
			stats, err := builder.BuildTopic(ctx, t.TopicName, docs, graph.BuildOptions{})
			built += len(docs)
			if err != nil {
				return err
			}
			logger.Info("[Knowledge] Sources built", "topic", t.TopicName,
				"entities", stats.EntitiesCreated, "relationships", stats.RelationshipsCreated)
			return nil
		})
		if errors.Is(err, leaselock.ErrBusy) {
			logger.Debug("[Knowledge] Topic is being built elsewhere", "topic", t.TopicName, "database", database)
			continue
		}
		if err != nil {
			logger.Error("[Knowledge] Build failed", "topic", t.TopicName, "database", database, "err", err)
		}
	}
	return built, nil
}

// TopicKnowledge is the status of one built topic.
type TopicKnowledge struct {
	Topic    string               `json:"topic_name"`
	External bool                 `json:"external_database"`
	Unmapped int                  `json:"unmapped_sources"`
	Mappings common.MappingCounts `json:"mappings"`
}

func (d *KnowledgeDaemon) Status(ctx context.Context) ([]TopicKnowledge, error) {
	topics, err := d.store.CompletedBuildTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list built topics: %w", err)
	}
	out := make([]TopicKnowledge, 0, len(topics))
	for _, t := range topics {
		st, _, err := d.target(ctx, t.ExternalDatabaseURI)
		if err != nil {
			logger.Warn("[Knowledge] Skipping topic database", "topic", t.TopicName,
				"database", databaseLabel(t.ExternalDatabaseURI), "err", err)
			continue
		}
		docs, err := st.ListUnmappedSources(ctx, t.TopicName)
		if err != nil {
			return nil, err
		}
		counts, err := st.CountMappings(ctx, t.TopicName)
		if err != nil {
			return nil, err
		}
		out = append(out, TopicKnowledge{
			Topic:    t.TopicName,
			External: t.ExternalDatabaseURI != "",
			Unmapped: len(docs),
			Mappings: counts,
		})
	}
	return out, nil
}
