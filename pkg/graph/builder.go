package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"

	"golang.org/x/sync/errgroup"
)

// BuilderStore is the persistence a Builder needs.
type BuilderStore interface {
	store.AnalysisStore
	store.SourceRegistry
	store.GraphStore
}

// Builder runs the full construction pipeline for one topic: cognitive
// maps, blueprint (with optional skeletal graph), then extraction and merge
// per document.
type Builder struct {
	store      BuilderStore
	cognitive  *CognitiveMapGenerator
	blueprints *BlueprintGenerator
	extractor  *TripletExtractor
	merger     *MergeEngine
	workers    int
}

// NewBuilderParams configures a Builder.
//
// Workers bounds the documents extracted at once and defaults to 3.
// MapWorkers bounds cognitive map generation and defaults to 3.
// Skeletal enables the skeletal graph stage.
type NewBuilderParams struct {
	Store      BuilderStore
	Client     ai.GraphAIClient
	Workers    int
	MapWorkers int
	Skeletal   bool
}

func NewBuilder(params NewBuilderParams) *Builder {
	workers := params.Workers
	if workers <= 0 {
		workers = 3
	}
	return &Builder{
		store: params.Store,
		cognitive: NewCognitiveMapGenerator(NewCognitiveMapGeneratorParams{
			Store:   params.Store,
			Client:  params.Client,
			Workers: params.MapWorkers,
		}),
		blueprints: NewBlueprintGenerator(NewBlueprintGeneratorParams{
			Store:    params.Store,
			Client:   params.Client,
			Skeletal: params.Skeletal,
		}),
		extractor: NewTripletExtractor(NewTripletExtractorParams{
			Store:  params.Store,
			Client: params.Client,
		}),
		merger: NewMergeEngine(NewMergeEngineParams{
			Store:  params.Store,
			Client: params.Client,
		}),
		workers: workers,
	}
}

// BuildOptions forces regeneration of cached stages.
type BuildOptions struct {
	ForceMaps      bool
	ForceBlueprint bool
}

// BuildStats summarises one BuildTopic run.
type BuildStats struct {
	Topic                        string `json:"topic_name"`
	BlueprintID                  string `json:"blueprint_id"`
	CognitiveMaps                int    `json:"summaries_generated"`
	DocumentsProcessed           int    `json:"documents_processed"`
	DocumentsSkipped             int    `json:"documents_skipped"`
	DocumentsFailed              int    `json:"documents_failed"`
	FailedPasses                 int    `json:"failed_passes"`
	NarrativeTriplets            int    `json:"semantic_triplets"`
	SkeletalTriplets             int    `json:"structural_triplets"`
	EntitiesCreated              int    `json:"entities_created"`
	RelationshipsCreated         int    `json:"relationships_created"`
	SkeletalEntitiesCreated      int    `json:"skeletal_entities_created"`
	SkeletalRelationshipsCreated int    `json:"skeletal_relationships_created"`
}

// BuildTopic builds docs into the graph of topic. Every document is
// attempted; if any failed the error lists them and stats still count the
// rest.
func (b *Builder) BuildTopic(
	ctx context.Context,
	topic string,
	docs []common.SourceDocument,
	opts BuildOptions,
) (BuildStats, error) {
	stats := BuildStats{Topic: topic}
	if len(docs) == 0 {
		return stats, fmt.Errorf("no documents for topic %q", topic)
	}
	logger.Info("[Builder] Building topic", "topic", topic, "documents", len(docs))

	maps, err := b.cognitive.BatchGenerate(ctx, topic, docs, opts.ForceMaps)
	stats.CognitiveMaps = len(maps)
	if err != nil {
		return stats, fmt.Errorf("cognitive maps: %w", err)
	}
	mapByDoc := make(map[string]*common.CognitiveMap, len(maps))
	for i := range maps {
		mapByDoc[maps[i].DocumentID] = &maps[i]
	}

	// The blueprint covers every mapped document of the topic, not only this batch.
	topicMaps, err := b.store.ListCognitiveMaps(ctx, topic)
	if err != nil {
		return stats, fmt.Errorf("list cognitive maps: %w", err)
	}
	if len(topicMaps) == 0 {
		topicMaps = maps
	}
	bp, err := b.blueprints.Generate(ctx, topic, topicMaps, opts.ForceBlueprint)
	if err != nil {
		return stats, fmt.Errorf("blueprint: %w", err)
	}
	stats.BlueprintID = bp.ID

	if sk, ok := SkeletalGraphOf(bp); ok {
		res, err := b.merger.ConvertSkeletalGraph(ctx, topic, "", sk)
		if err != nil {
			logger.Warn("[Builder] Skeletal graph conversion failed", "topic", topic, "err", err)
		}
		stats.SkeletalEntitiesCreated = res.EntitiesCreated
		stats.SkeletalRelationshipsCreated = res.RelationshipsCreated
	}

	var mu sync.Mutex
	var docErrs []error

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.workers)
	for _, doc := range docs {
		d := doc
		eg.Go(func() error {
			res, conv, err := b.buildDocument(gCtx, topic, d, bp, mapByDoc[d.ID])

			mu.Lock()
			defer mu.Unlock()
			stats.FailedPasses += len(res.Errors)
			if err != nil {
				logger.Error("[Builder] Document failed", "document", d.Name, "topic", topic, "err", err)
				stats.DocumentsFailed++
				docErrs = append(docErrs, fmt.Errorf("%s: %w", d.Name, err))
				return nil
			}
			if res.Skipped {
				stats.DocumentsSkipped++
				return nil
			}
			stats.DocumentsProcessed++
			stats.NarrativeTriplets += res.Count(common.CategoryNarrative)
			stats.SkeletalTriplets += res.Count(common.CategorySkeletal)
			stats.EntitiesCreated += conv.EntitiesCreated
			stats.RelationshipsCreated += conv.RelationshipsCreated
			return nil
		})
	}
	_ = eg.Wait()

	stats.EntitiesCreated += stats.SkeletalEntitiesCreated
	stats.RelationshipsCreated += stats.SkeletalRelationshipsCreated

	logger.Info(
		"[Builder] Topic build finished",
		"topic", topic,
		"processed", stats.DocumentsProcessed,
		"skipped", stats.DocumentsSkipped,
		"failed", stats.DocumentsFailed,
		"narrative_triplets", stats.NarrativeTriplets,
		"skeletal_triplets", stats.SkeletalTriplets,
		"entities_created", stats.EntitiesCreated,
		"relationships_created", stats.RelationshipsCreated,
	)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if len(docErrs) > 0 {
		return stats, fmt.Errorf("%d of %d documents failed: %w", len(docErrs), len(docs), errors.Join(docErrs...))
	}
	return stats, nil
}

func (b *Builder) buildDocument(
	ctx context.Context,
	topic string,
	doc common.SourceDocument,
	bp common.Blueprint,
	cm *common.CognitiveMap,
) (ExtractResult, ConvertResult, error) {
	res, err := b.extractor.Extract(ctx, topic, doc, bp, cm)
	if err != nil {
		return res, ConvertResult{}, err
	}
	if res.Skipped {
		return res, ConvertResult{}, nil
	}
	if res.Failed() {
		return res, ConvertResult{}, fmt.Errorf("extraction failed: %w", errors.Join(res.Errors...))
	}
	for _, e := range res.Errors {
		logger.Warn("[Builder] Partial extraction", "document", doc.Name, "err", e)
	}

	conv, err := b.merger.ConvertTriplets(ctx, topic, doc.ID, res.Triplets)
	if err != nil {
		return res, conv, err
	}
	if conv.MappingsCreated == 0 {
		// keeps the knowledge daemon from extracting the same text again
		if err := b.store.MarkSourceEmpty(ctx, doc.ID); err != nil {
			logger.Warn("[Builder] Failed to mark empty document", "document", doc.Name, "err", err)
		} else {
			logger.Info("[Builder] Document yielded no graph elements", "document", doc.Name, "topic", topic)
		}
	}
	return res, conv, nil
}
