package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Budget for the canonical entities, patterns and timeline of a blueprint
// inside an extraction prompt.
const blueprintContextTokenBudget = 20000

type mappingChecker interface {
	HasMappings(ctx context.Context, sourceID, topic string) (bool, error)
}

// TripletExtractor turns one document into candidate triplets. It does no
// entity resolution.
type TripletExtractor struct {
	store  mappingChecker
	client ai.GraphAIClient
}

type NewTripletExtractorParams struct {
	Store  mappingChecker
	Client ai.GraphAIClient
}

func NewTripletExtractor(params NewTripletExtractorParams) *TripletExtractor {
	return &TripletExtractor{store: params.Store, client: params.Client}
}

// PassError is the failure of one extraction pass.
type PassError struct {
	Category common.TripletCategory
	Err      error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("%s pass: %v", e.Category, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }

// ExtractResult holds the triplets of both passes, narrative first. Skipped is
// set when the document already contributed to the topic graph.
type ExtractResult struct {
	Triplets []common.Triplet
	Errors   []error
	Skipped  bool
}

// Count returns the number of triplets of category c.
func (r ExtractResult) Count(c common.TripletCategory) int {
	n := 0
	for _, t := range r.Triplets {
		if t.Category == c {
			n++
		}
	}
	return n
}

// Failed reports whether every pass failed.
func (r ExtractResult) Failed() bool {
	return len(r.Errors) == 2
}

type extractedEntity struct {
	Name        ai.FlexString   `json:"name"`
	Description ai.FlexString   `json:"description"`
	Attributes  json.RawMessage `json:"attributes"`
}

type extractedTriplet struct {
	Subject                extractedEntity `json:"subject"`
	Predicate              ai.FlexString   `json:"predicate"`
	Object                 extractedEntity `json:"object"`
	RelationshipAttributes json.RawMessage `json:"relationship_attributes"`
}

// Extract runs the narrative and the structural pass over doc concurrently.
// A failing pass is recorded in ExtractResult.Errors and does not stop the
// other one. The returned error is only set when the idempotence check fails.
func (x *TripletExtractor) Extract(
	ctx context.Context,
	topic string,
	doc common.SourceDocument,
	bp common.Blueprint,
	cm *common.CognitiveMap,
) (ExtractResult, error) {
	mapped, err := x.store.HasMappings(ctx, doc.ID, topic)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("check mappings of %s: %w", doc.Name, err)
	}
	if mapped {
		logger.Info("[Extract] Document already in graph, skipping", "document", doc.Name, "topic", topic)
		return ExtractResult{Skipped: true}, nil
	}

	document := documentBlock(doc)
	cognitive := formatCognitiveContext(cm)
	types := strings.Join(bp.SuggestedEntityTypes, ", ")
	themes := strings.Join(bp.KeyNarrativeThemes, ", ")

	prompts := [2]string{
		fmt.Sprintf(ai.NarrativeTripletPrompt,
			topic, types, themes, formatBlueprintContext(bp), bp.ProcessingInstructions, cognitive, document),
		fmt.Sprintf(ai.StructuralTripletPrompt,
			topic, types, themes, bp.ProcessingInstructions, cognitive, document, topic),
	}
	categories := [2]common.TripletCategory{common.CategoryNarrative, common.CategorySkeletal}

	var triplets [2][]common.Triplet
	var errs [2]error

	var eg errgroup.Group
	for i := range prompts {
		idx := i
		eg.Go(func() error {
			triplets[idx], errs[idx] = x.runPass(ctx, prompts[idx], categories[idx])
			if errs[idx] != nil {
				logger.Error("[Extract] Pass failed", "document", doc.Name, "category", categories[idx], "err", errs[idx])
			}
			return nil
		})
	}
	_ = eg.Wait()

	var res ExtractResult
	for i := range triplets {
		res.Triplets = append(res.Triplets, triplets[i]...)
		if errs[i] != nil {
			res.Errors = append(res.Errors, &PassError{Category: categories[i], Err: errs[i]})
		}
	}
	logger.Info(
		"[Extract] Document extracted",
		"document", doc.Name,
		"narrative", res.Count(common.CategoryNarrative),
		"skeletal", res.Count(common.CategorySkeletal),
		"failed_passes", len(res.Errors),
	)
	return res, nil
}

func (x *TripletExtractor) runPass(ctx context.Context, prompt string, category common.TripletCategory) ([]common.Triplet, error) {
	resp, err := x.client.GenerateCompletion(ctx, prompt, ai.WithMaxTokens(16384))
	if err != nil {
		return nil, err
	}

	var raw []extractedTriplet
	if err := ai.ParseJSON(ctx, resp, ai.ShapeArray, &raw, x.client); err != nil {
		return nil, err
	}

	out := make([]common.Triplet, 0, len(raw))
	for _, r := range raw {
		t, ok := normalizeTriplet(r, category)
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// normalizeTriplet drops incomplete triplets and tags the rest. A structural
// triplet keeps hierarchy_level only when it is one of the known levels.
func normalizeTriplet(r extractedTriplet, category common.TripletCategory) (common.Triplet, bool) {
	t := common.Triplet{
		Subject: common.TripletEntity{
			Name:        strings.TrimSpace(r.Subject.Name.String()),
			Description: r.Subject.Description.String(),
			Attributes:  objectOrEmpty(r.Subject.Attributes),
		},
		Predicate: strings.TrimSpace(r.Predicate.String()),
		Object: common.TripletEntity{
			Name:        strings.TrimSpace(r.Object.Name.String()),
			Description: r.Object.Description.String(),
			Attributes:  objectOrEmpty(r.Object.Attributes),
		},
		RelationshipAttributes: objectOrEmpty(r.RelationshipAttributes),
		Category:               category,
	}
	if t.Subject.Name == "" || t.Object.Name == "" || t.Predicate == "" {
		return common.Triplet{}, false
	}

	if category == common.CategorySkeletal {
		level := common.AttrString(t.RelationshipAttributes, common.AttrHierarchyLevel)
		if !common.ValidHierarchyLevel(level) {
			delete(t.RelationshipAttributes, common.AttrHierarchyLevel)
		}
	} else {
		delete(t.RelationshipAttributes, common.AttrHierarchyLevel)
	}
	if ts, ok := t.RelationshipAttributes["fact_time"]; ok {
		if _, has := t.RelationshipAttributes[common.AttrTimestamp]; !has {
			t.RelationshipAttributes[common.AttrTimestamp] = ts
		}
	}
	return t, true
}

func objectOrEmpty(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func formatCognitiveContext(cm *common.CognitiveMap) string {
	if cm == nil {
		return "Not available."
	}
	entities, _ := json.Marshal(cm.KeyEntities)
	themes, _ := json.Marshal(cm.ThemeKeywords)
	timeline, _ := json.Marshal(cm.ImportantTimeline)
	return fmt.Sprintf("- Summary: %s\n- Key Entities: %s\n- Themes: %s\n- Timeline: %s",
		cm.Summary, entities, themes, timeline)
}

func formatBlueprintContext(bp common.Blueprint) string {
	ctx := map[string]any{}
	for _, k := range []string{itemCanonicalEntities, itemKeyPatterns, itemGlobalTimeline} {
		if v, ok := bp.ProcessingItems[k]; ok {
			ctx[k] = v
		}
	}
	b, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "{}"
	}
	return ai.TruncateToTokens(string(b), blueprintContextTokenBudget)
}
