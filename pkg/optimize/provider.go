package optimize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

// Query selects the graph neighbourhood a detection run looks at.
type Query struct {
	// Text is embedded and matched against relationship descriptions.
	Text string
	// Topic restricts the search to one topic graph. Empty searches all topics.
	Topic string
	// TopK overrides Config.TopK when positive.
	TopK int
}

// GraphProvider returns the graph snapshot a detection run analyses.
type GraphProvider interface {
	Retrieve(ctx context.Context, q Query) (common.GraphData, error)
}

type searcher interface {
	SearchRelationships(ctx context.Context, p store.SearchParams) ([]common.ScoredRelationship, error)
}

// VectorGraphProvider builds the snapshot from the relationships closest to
// the query text and their endpoint entities.
type VectorGraphProvider struct {
	store     searcher
	client    ai.GraphAIClient
	topK      int
	threshold float64
}

type NewVectorGraphProviderParams struct {
	Store     searcher
	Client    ai.GraphAIClient
	TopK      int
	Threshold float64
}

func NewVectorGraphProvider(p NewVectorGraphProviderParams) *VectorGraphProvider {
	topK := p.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	return &VectorGraphProvider{
		store:     p.Store,
		client:    p.Client,
		topK:      topK,
		threshold: p.Threshold,
	}
}

func (v *VectorGraphProvider) Retrieve(ctx context.Context, q Query) (common.GraphData, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return common.GraphData{}, errors.New("query text is required for vector retrieval")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = v.topK
	}

	emb, err := v.client.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return common.GraphData{}, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := v.store.SearchRelationships(ctx, store.SearchParams{
		Embedding: emb,
		Topic:     q.Topic,
		TopK:      topK,
		Threshold: v.threshold,
	})
	if err != nil {
		return common.GraphData{}, fmt.Errorf("failed to search relationships: %w", err)
	}

	data := snapshot(hits)
	logger.Debug("[Optimizer] Retrieved graph neighbourhood",
		"query", text, "relationships", len(data.Relationships), "entities", len(data.Entities))
	return data, nil
}

// snapshot flattens search hits into entities and relationships, each listed
// once in first seen order.
func snapshot(hits []common.ScoredRelationship) common.GraphData {
	data := common.GraphData{
		Entities:      []common.GraphEntity{},
		Relationships: []common.GraphRelationship{},
	}
	seenEntities := map[string]struct{}{}
	seenRels := map[string]struct{}{}

	addEntity := func(id, name, desc string, attrs map[string]any) {
		if _, ok := seenEntities[id]; ok || id == "" {
			return
		}
		seenEntities[id] = struct{}{}
		data.Entities = append(data.Entities, common.GraphEntity{
			ID:          id,
			Name:        name,
			Description: desc,
			Attributes:  attrs,
		})
	}

	for _, h := range hits {
		addEntity(h.SourceEntityID, h.SourceEntityName, h.SourceEntityDescription, h.SourceEntityAttributes)
		addEntity(h.TargetEntityID, h.TargetEntityName, h.TargetEntityDescription, h.TargetEntityAttributes)
		if _, ok := seenRels[h.ID]; ok {
			continue
		}
		seenRels[h.ID] = struct{}{}
		data.Relationships = append(data.Relationships, common.GraphRelationship{
			ID:           h.ID,
			SourceEntity: h.SourceEntityName,
			TargetEntity: h.TargetEntityName,
			Description:  h.Description,
			Attributes:   h.Attributes,
		})
	}
	return data
}
