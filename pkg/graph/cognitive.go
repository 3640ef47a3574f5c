package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"

	"golang.org/x/sync/errgroup"
)

const (
	cognitiveMapDocumentType = "cognitive_map"
	defaultStructuralPattern = "unknown"
	// Documents longer than this are cut before prompting.
	documentTokenBudget = 100000
)

// BatchError reports the documents of a batch that could not be processed.
// Results for the other documents were persisted.
type BatchError struct {
	Total  int
	Failed map[string]error
}

func (e *BatchError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	return fmt.Sprintf("%d of %d documents failed: %s", len(e.Failed), e.Total, strings.Join(ids, ", "))
}

// CognitiveMapGenerator produces and caches one cognitive map per
// (document, topic).
type CognitiveMapGenerator struct {
	store   store.AnalysisStore
	client  ai.GraphAIClient
	workers int
}

// NewCognitiveMapGeneratorParams configures a CognitiveMapGenerator.
// Workers bounds BatchGenerate and defaults to 3.
type NewCognitiveMapGeneratorParams struct {
	Store   store.AnalysisStore
	Client  ai.GraphAIClient
	Workers int
}

func NewCognitiveMapGenerator(params NewCognitiveMapGeneratorParams) *CognitiveMapGenerator {
	workers := params.Workers
	if workers <= 0 {
		workers = 3
	}
	return &CognitiveMapGenerator{
		store:   params.Store,
		client:  params.Client,
		workers: workers,
	}
}

type cognitiveMapResponse struct {
	Summary            ai.FlexString  `json:"summary"`
	KeyEntities        ai.FlexStrings `json:"key_entities"`
	ThemeKeywords      ai.FlexStrings `json:"theme_keywords"`
	ImportantTimeline  ai.FlexStrings `json:"important_timeline"`
	StructuralPatterns ai.FlexString  `json:"structural_patterns"`
}

// Generate returns the cognitive map of doc for topic. A stored map is
// returned unless force is set.
func (g *CognitiveMapGenerator) Generate(
	ctx context.Context,
	topic string,
	doc common.SourceDocument,
	force bool,
) (common.CognitiveMap, error) {
	if !force {
		cached, err := g.store.GetCognitiveMap(ctx, topic, doc.ID)
		if err == nil {
			logger.Debug("[CognitiveMap] Using cached map", "document", doc.Name, "topic", topic)
			return cached, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return common.CognitiveMap{}, fmt.Errorf("load cognitive map: %w", err)
		}
	}

	prompt := fmt.Sprintf(ai.CognitiveMapPrompt, topic, documentBlock(doc), topic)
	resp, err := g.client.GenerateCompletion(ctx, prompt, ai.WithMaxTokens(4096))
	if err != nil {
		return common.CognitiveMap{}, fmt.Errorf("generate cognitive map for %s: %w", doc.Name, err)
	}

	var parsed cognitiveMapResponse
	if err := ai.ParseJSON(ctx, resp, ai.ShapeObject, &parsed, g.client); err != nil {
		return common.CognitiveMap{}, fmt.Errorf("parse cognitive map for %s: %w", doc.Name, err)
	}

	m := common.CognitiveMap{
		DocumentID:         doc.ID,
		TopicName:          topic,
		Summary:            parsed.Summary.String(),
		KeyEntities:        nonNil(parsed.KeyEntities),
		ThemeKeywords:      nonNil(parsed.ThemeKeywords),
		ImportantTimeline:  nonNil(parsed.ImportantTimeline),
		StructuralPatterns: parsed.StructuralPatterns.String(),
		DocumentType:       cognitiveMapDocumentType,
		BusinessContext:    map[string]any{"source_name": doc.Name},
	}
	if m.StructuralPatterns == "" {
		m.StructuralPatterns = defaultStructuralPattern
	}

	if err := g.store.SaveCognitiveMap(ctx, m); err != nil {
		return common.CognitiveMap{}, fmt.Errorf("save cognitive map: %w", err)
	}
	logger.Info("[CognitiveMap] Generated", "document", doc.Name, "topic", topic, "entities", len(m.KeyEntities))
	return m, nil
}

// BatchGenerate generates maps for docs on a bounded worker pool. The result
// keeps the order of docs and holds only successful maps. If any document
// failed the error is a *BatchError.
func (g *CognitiveMapGenerator) BatchGenerate(
	ctx context.Context,
	topic string,
	docs []common.SourceDocument,
	force bool,
) ([]common.CognitiveMap, error) {
	results := make([]*common.CognitiveMap, len(docs))
	errs := make([]error, len(docs))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i := range docs {
		idx := i
		eg.Go(func() error {
			m, err := g.Generate(gCtx, topic, docs[idx], force)
			if err != nil {
				logger.Error("[CognitiveMap] Generation failed", "document", docs[idx].Name, "err", err)
				errs[idx] = err
				return nil
			}
			results[idx] = &m
			return nil
		})
	}
	_ = eg.Wait()

	maps := make([]common.CognitiveMap, 0, len(docs))
	var batchErr *BatchError
	for i, m := range results {
		if m != nil {
			maps = append(maps, *m)
			continue
		}
		if batchErr == nil {
			batchErr = &BatchError{Total: len(docs), Failed: map[string]error{}}
		}
		batchErr.Failed[docs[i].ID] = errs[i]
	}
	if err := ctx.Err(); err != nil {
		return maps, err
	}
	if batchErr != nil {
		return maps, batchErr
	}
	return maps, nil
}

// documentBlock renders a document the way every extraction prompt sees it.
func documentBlock(doc common.SourceDocument) string {
	attrs, err := json.Marshal(doc.Attributes)
	if err != nil {
		attrs = []byte("{}")
	}
	content := ai.TruncateToTokens(doc.Content, documentTokenBudget)
	return fmt.Sprintf("Document: %s\n\n%s\n\nDocument attributes: %s", doc.Name, content, attrs)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
