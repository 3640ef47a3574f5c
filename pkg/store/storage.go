package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kgraph/pkg/common"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an update would break a uniqueness rule, such
// as renaming an entity onto a name its topic already uses.
var ErrConflict = errors.New("unique constraint conflict")

// ContentStore is the content addressed blob store. Rows are immutable once
// written and shared by every source with the same hash.
type ContentStore interface {
	// PutContent inserts c unless a row with the same hash exists. created is
	// false when the hash was already present.
	PutContent(ctx context.Context, c common.Content) (created bool, err error)
	GetContent(ctx context.Context, hash string) (common.Content, error)
}

// SourceRegistry records logical documents per topic. Sources are unique by
// link and never hard deleted.
type SourceRegistry interface {
	// UpsertSource inserts a source or, when the link is already known, updates
	// the row in place and marks it updated. ContentVersion is recomputed.
	UpsertSource(ctx context.Context, src common.SourceData) (common.SourceData, bool, error)
	GetSource(ctx context.Context, id string) (common.SourceData, error)
	GetSourceByLink(ctx context.Context, link string) (common.SourceData, error)
	ListSources(ctx context.Context, topic string) ([]common.SourceData, error)
	// GetSourceDocuments joins sources with their content text. Unknown ids
	// and sources without content are skipped.
	GetSourceDocuments(ctx context.Context, ids []string) ([]common.SourceDocument, error)
	// ListUnmappedSources returns sources of topic that have content but no
	// mapping row yet, oldest first. Sources marked empty for their current
	// content are left out.
	ListUnmappedSources(ctx context.Context, topic string) ([]common.SourceDocument, error)
	// MarkSourceEmpty records that the current content of source id yielded
	// no graph elements. The mark lapses when the content hash changes.
	MarkSourceEmpty(ctx context.Context, id string) error
}

// RawSourceStore holds ETL work items.
type RawSourceStore interface {
	CreateRawSource(ctx context.Context, raw common.RawDataSource) (common.RawDataSource, error)
	GetRawSource(ctx context.Context, id string) (common.RawDataSource, error)
	UpdateRawSource(ctx context.Context, raw common.RawDataSource) error
	ListRawSources(ctx context.Context, status string) ([]common.RawDataSource, error)
}

// AnalysisStore persists cognitive maps and blueprints.
type AnalysisStore interface {
	GetCognitiveMap(ctx context.Context, topic, documentID string) (common.CognitiveMap, error)
	SaveCognitiveMap(ctx context.Context, m common.CognitiveMap) error
	ListCognitiveMaps(ctx context.Context, topic string) ([]common.CognitiveMap, error)

	// LatestBlueprint returns the newest blueprint of topic by creation time.
	LatestBlueprint(ctx context.Context, topic string) (common.Blueprint, error)
	// SaveBlueprint inserts or updates the blueprint with bp.ID.
	SaveBlueprint(ctx context.Context, bp common.Blueprint) error
}

// EntityInput describes one side of a triplet to resolve or create. Embedding
// is only used when the entity has to be created.
type EntityInput struct {
	Name        string
	Description string
	Attributes  map[string]any
	Embedding   []float32
}

// RelationshipInput is the edge of a triplet.
type RelationshipInput struct {
	Description string
	Attributes  map[string]any
	Embedding   []float32
}

// MergeEntityParams resolves or creates a single entity.
type MergeEntityParams struct {
	Topic    string
	SourceID string
	Entity   EntityInput
}

// MergeTripletParams is one resolve-or-create unit of the merge engine.
// An empty SourceID skips the mapping rows.
type MergeTripletParams struct {
	Topic        string
	SourceID     string
	Subject      EntityInput
	Object       EntityInput
	Relationship RelationshipInput
}

// MergeTripletResult reports which rows were written by a merge.
type MergeTripletResult struct {
	SubjectID            string
	ObjectID             string
	RelationshipID       string
	EntitiesCreated      int
	RelationshipsCreated int
	MappingsCreated      int
}

// SearchParams configures a relationship similarity search.
type SearchParams struct {
	Embedding []float32
	Topic     string
	TopK      int
	Threshold float64
}

// GraphStore holds entities, relationships and their provenance mappings.
// Every write method runs in its own transaction.
type GraphStore interface {
	FindEntityByName(ctx context.Context, topic, name string) (common.Entity, error)
	FindRelationship(ctx context.Context, sourceEntityID, targetEntityID, description string) (common.Relationship, error)

	// MergeEntity resolves p.Entity by exact (name, topic) or creates it, and
	// maps it to p.SourceID. It returns the id and whether it was created.
	MergeEntity(ctx context.Context, p MergeEntityParams) (string, bool, error)
	// MergeTriplet resolves or creates both entities and the relationship,
	// and inserts the missing mapping rows, atomically.
	MergeTriplet(ctx context.Context, p MergeTripletParams) (MergeTripletResult, error)

	HasMappings(ctx context.Context, sourceID, topic string) (bool, error)
	CountMappings(ctx context.Context, topic string) (common.MappingCounts, error)
	ListMappings(ctx context.Context, elementIDs []string) ([]common.Mapping, error)

	GetEntities(ctx context.Context, ids []string) ([]common.Entity, error)
	GetRelationships(ctx context.Context, ids []string) ([]common.Relationship, error)
	// GetRelationshipsByEntityIDs returns every relationship that touches one
	// of ids at either end.
	GetRelationshipsByEntityIDs(ctx context.Context, ids []string) ([]common.Relationship, error)
	// GetSourceTexts returns the content of the sources mapped to the given
	// elements, one row per source.
	GetSourceTexts(ctx context.Context, elementType common.ElementType, ids []string) ([]common.SourceText, error)
	SearchRelationships(ctx context.Context, p SearchParams) ([]common.ScoredRelationship, error)

	UpdateEntity(ctx context.Context, e common.Entity) error
	UpdateRelationship(ctx context.Context, r common.Relationship) error
	// MergeEntities writes merged, repoints relationship endpoints and entity
	// mappings from originalIDs to it, then deletes the originals. When an
	// entity of the topic already carries merged.Name that row is updated and
	// survives instead of inserting a new one. It returns the survivor id.
	MergeEntities(ctx context.Context, merged common.Entity, originalIDs []string) (string, error)
	// MergeRelationships does the same for relationships, keyed by
	// (source, target, description), repointing relationship mappings.
	MergeRelationships(ctx context.Context, merged common.Relationship, originalIDs []string) (string, error)

	TopicEntities(ctx context.Context, topic string) ([]common.Entity, error)
	TopicRelationships(ctx context.Context, topic string) ([]common.Relationship, error)
}

// BuildStore is the graph build task table driven by the build daemon.
type BuildStore interface {
	CreateGraphBuilds(ctx context.Context, builds []common.GraphBuild) error
	// ClaimNextTopicBuilds picks the topic with the earliest pending or
	// processing task, marks all of its open tasks processing and returns them.
	// ok is false when there is nothing to do.
	ClaimNextTopicBuilds(ctx context.Context) (common.TopicBuilds, bool, error)
	FinishGraphBuilds(ctx context.Context, ids []string, status common.BuildStatus, errMsg string) error
	CountGraphBuilds(ctx context.Context) (common.BuildCounts, error)
	// CompletedBuildTopics lists each (topic, database) with at least one
	// completed build. Tasks is left empty.
	CompletedBuildTopics(ctx context.Context) ([]common.TopicBuilds, error)
}

// Store is the full persistence surface of the pipeline.
type Store interface {
	ContentStore
	SourceRegistry
	RawSourceStore
	AnalysisStore
	GraphStore
	BuildStore
}
