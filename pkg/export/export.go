// Package export renders a topic's graph for consumers outside the pipeline.
package export

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

// Store is the read surface TopicGraph needs.
type Store interface {
	LatestBlueprint(ctx context.Context, topic string) (common.Blueprint, error)
	TopicEntities(ctx context.Context, topic string) ([]common.Entity, error)
	TopicRelationships(ctx context.Context, topic string) ([]common.Relationship, error)
}

type BlueprintSummary struct {
	SuggestedEntityTypes   []string `json:"suggested_entity_types"`
	KeyNarrativeThemes     []string `json:"key_narrative_themes"`
	ProcessingInstructions string   `json:"processing_instructions"`
}

// Graph is the exported form of one topic.
type Graph struct {
	TopicName     string                `json:"topic_name"`
	Blueprint     *BlueprintSummary     `json:"blueprint"`
	Entities      []common.Entity       `json:"entities"`
	Relationships []common.Relationship `json:"relationships"`
}

// TopicGraph collects the entities and relationships of topic together with
// its latest ready blueprint. Endpoint names are filled on every relationship.
func TopicGraph(ctx context.Context, s Store, topic string) (Graph, error) {
	g := Graph{
		TopicName:     topic,
		Entities:      []common.Entity{},
		Relationships: []common.Relationship{},
	}

	bp, err := s.LatestBlueprint(ctx, topic)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Graph{}, fmt.Errorf("failed to load blueprint: %w", err)
	case bp.Status == common.BlueprintReady:
		g.Blueprint = &BlueprintSummary{
			SuggestedEntityTypes:   bp.SuggestedEntityTypes,
			KeyNarrativeThemes:     bp.KeyNarrativeThemes,
			ProcessingInstructions: bp.ProcessingInstructions,
		}
	}

	entities, err := s.TopicEntities(ctx, topic)
	if err != nil {
		return Graph{}, fmt.Errorf("failed to load entities: %w", err)
	}
	rels, err := s.TopicRelationships(ctx, topic)
	if err != nil {
		return Graph{}, fmt.Errorf("failed to load relationships: %w", err)
	}

	names := make(map[string]string, len(entities))
	for _, e := range entities {
		names[e.ID] = e.Name
	}
	for i := range rels {
		if rels[i].SourceEntityName == "" {
			rels[i].SourceEntityName = names[rels[i].SourceEntityID]
		}
		if rels[i].TargetEntityName == "" {
			rels[i].TargetEntityName = names[rels[i].TargetEntityID]
		}
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].SourceEntityName != rels[j].SourceEntityName {
			return rels[i].SourceEntityName < rels[j].SourceEntityName
		}
		if rels[i].TargetEntityName != rels[j].TargetEntityName {
			return rels[i].TargetEntityName < rels[j].TargetEntityName
		}
		return rels[i].Description < rels[j].Description
	})

	g.Entities = append(g.Entities, entities...)
	g.Relationships = append(g.Relationships, rels...)
	return g, nil
}
