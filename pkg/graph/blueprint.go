package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

// ErrBlueprintFailed is returned when the newest blueprint of a topic failed
// for the current set of sources and regeneration was not forced.
var ErrBlueprintFailed = errors.New("blueprint generation failed for current sources")

// Budget for the serialized cognitive maps of one blueprint prompt.
const mapsTokenBudget = 60000

// Keys of Blueprint.ProcessingItems.
const (
	itemCanonicalEntities = "canonical_entities"
	itemKeyPatterns       = "key_patterns"
	itemGlobalTimeline    = "global_timeline"
	itemDocumentCount     = "document_count"
	itemSkeletalGraph     = "skeletal_graph"
)

type blueprintStore interface {
	store.AnalysisStore
	store.SourceRegistry
}

// BlueprintGenerator derives the topic wide extraction strategy from the
// cognitive maps of a topic.
type BlueprintGenerator struct {
	store    blueprintStore
	client   ai.GraphAIClient
	skeletal bool
}

// NewBlueprintGeneratorParams configures a BlueprintGenerator. With Skeletal
// set a skeletal graph is drafted first and kept in the blueprint's
// processing items.
type NewBlueprintGeneratorParams struct {
	Store    blueprintStore
	Client   ai.GraphAIClient
	Skeletal bool
}

func NewBlueprintGenerator(params NewBlueprintGeneratorParams) *BlueprintGenerator {
	return &BlueprintGenerator{
		store:    params.Store,
		client:   params.Client,
		skeletal: params.Skeletal,
	}
}

type blueprintResponse struct {
	SuggestedEntityTypes   ai.FlexStrings  `json:"suggested_entity_types"`
	KeyNarrativeThemes     ai.FlexStrings  `json:"key_narrative_themes"`
	CanonicalEntities      json.RawMessage `json:"canonical_entities"`
	KeyPatterns            json.RawMessage `json:"key_patterns"`
	GlobalTimeline         json.RawMessage `json:"global_timeline"`
	ProcessingInstructions json.RawMessage `json:"processing_instructions"`
}

// SourceVersionHash returns the version hash of the sources behind maps and
// their ids, sorted.
func (g *BlueprintGenerator) SourceVersionHash(
	ctx context.Context,
	topic string,
	maps []common.CognitiveMap,
) (string, []string, error) {
	wanted := make(map[string]struct{}, len(maps))
	for _, m := range maps {
		wanted[m.DocumentID] = struct{}{}
	}

	sources, err := g.store.ListSources(ctx, topic)
	if err != nil {
		return "", nil, fmt.Errorf("list sources: %w", err)
	}
	versions := make([]string, 0, len(wanted))
	ids := make([]string, 0, len(wanted))
	for _, src := range sources {
		if _, ok := wanted[src.ID]; !ok {
			continue
		}
		version := src.ContentVersion
		if version == "" {
			version = src.ContentHash
		}
		versions = append(versions, version)
		ids = append(ids, src.ID)
	}
	sort.Strings(ids)
	return util.VersionHash(versions), ids, nil
}

// Generate returns the blueprint of topic. The newest blueprint is reused
// when it is ready and was built from the same source versions, unless force
// is set.
func (g *BlueprintGenerator) Generate(
	ctx context.Context,
	topic string,
	maps []common.CognitiveMap,
	force bool,
) (common.Blueprint, error) {
	if len(maps) == 0 {
		return common.Blueprint{}, fmt.Errorf("no cognitive maps for topic %q", topic)
	}

	hash, sourceIDs, err := g.SourceVersionHash(ctx, topic, maps)
	if err != nil {
		return common.Blueprint{}, err
	}

	if !force {
		latest, err := g.store.LatestBlueprint(ctx, topic)
		switch {
		case err == nil && latest.SourceVersionHash == hash && latest.Status == common.BlueprintReady:
			logger.Info("[Blueprint] Using cached blueprint", "topic", topic, "id", latest.ID)
			return latest, nil
		case err == nil && latest.SourceVersionHash == hash && latest.Status == common.BlueprintFailed:
			return latest, fmt.Errorf("%w: %s", ErrBlueprintFailed, latest.ErrorMessage)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return common.Blueprint{}, fmt.Errorf("load blueprint: %w", err)
		}
	}

	bp := common.Blueprint{
		ID:                    util.NewID(),
		TopicName:             topic,
		Status:                common.BlueprintGenerating,
		SourceVersionHash:     hash,
		ContributingSourceIDs: sourceIDs,
		ProcessingItems:       map[string]any{},
	}
	if err := g.store.SaveBlueprint(ctx, bp); err != nil {
		return common.Blueprint{}, fmt.Errorf("save blueprint: %w", err)
	}
	logger.Info("[Blueprint] Generating", "topic", topic, "documents", len(maps), "force", force)

	if err := g.generate(ctx, &bp, maps); err != nil {
		bp.Status = common.BlueprintFailed
		bp.ErrorMessage = err.Error()
		// The caller's context may be gone, the failure still has to be recorded.
		if saveErr := g.store.SaveBlueprint(context.WithoutCancel(ctx), bp); saveErr != nil {
			logger.Error("[Blueprint] Failed to record failure", "topic", topic, "err", saveErr)
		}
		return bp, fmt.Errorf("generate blueprint for %s: %w", topic, err)
	}

	bp.Status = common.BlueprintReady
	if err := g.store.SaveBlueprint(ctx, bp); err != nil {
		return common.Blueprint{}, fmt.Errorf("save blueprint: %w", err)
	}
	logger.Info(
		"[Blueprint] Ready",
		"topic", topic,
		"entity_types", len(bp.SuggestedEntityTypes),
		"themes", len(bp.KeyNarrativeThemes),
	)
	return bp, nil
}

func (g *BlueprintGenerator) generate(ctx context.Context, bp *common.Blueprint, maps []common.CognitiveMap) error {
	skeletalContext := ""
	if g.skeletal {
		sk, err := g.GenerateSkeletalGraph(ctx, bp.TopicName, maps)
		if err != nil {
			// The skeleton only enriches the blueprint.
			logger.Warn("[Blueprint] Skeletal graph failed, continuing without", "topic", bp.TopicName, "err", err)
		} else if len(sk.Entities) > 0 {
			bp.ProcessingItems[itemSkeletalGraph] = sk
			skeletalContext = formatSkeletalContext(bp.TopicName, sk)
		}
	}

	prompt := fmt.Sprintf(ai.BlueprintPrompt, len(maps), bp.TopicName, renderMaps(maps), skeletalContext)
	resp, err := g.client.GenerateCompletion(ctx, prompt, ai.WithMaxTokens(8192))
	if err != nil {
		return err
	}

	var parsed blueprintResponse
	if err := ai.ParseJSON(ctx, resp, ai.ShapeObject, &parsed, g.client); err != nil {
		return err
	}

	bp.SuggestedEntityTypes = nonNil(parsed.SuggestedEntityTypes)
	bp.KeyNarrativeThemes = nonNil(parsed.KeyNarrativeThemes)
	bp.ProcessingInstructions = formatInstructions(parsed.ProcessingInstructions)
	if common.IsPersonalTopic(bp.TopicName) {
		bp.ProcessingInstructions = ai.PersonalMemoryInstructions
	}
	bp.ProcessingItems[itemCanonicalEntities] = rawOr(parsed.CanonicalEntities, map[string]any{})
	bp.ProcessingItems[itemKeyPatterns] = rawOr(parsed.KeyPatterns, map[string]any{})
	bp.ProcessingItems[itemGlobalTimeline] = rawOr(parsed.GlobalTimeline, []any{})
	bp.ProcessingItems[itemDocumentCount] = len(maps)

	if strings.TrimSpace(bp.ProcessingInstructions) == "" {
		return errors.New("response has no processing instructions")
	}
	return nil
}

type skeletalResponse struct {
	Entities      []common.TripletEntity        `json:"skeletal_entities"`
	Relationships []common.SkeletalRelationship `json:"skeletal_relationships"`
}

// GenerateSkeletalGraph drafts the core entities and relationships of topic
// from its cognitive maps. Relationships whose endpoints are not among the
// drafted entities are dropped.
func (g *BlueprintGenerator) GenerateSkeletalGraph(
	ctx context.Context,
	topic string,
	maps []common.CognitiveMap,
) (common.SkeletalGraph, error) {
	prompt := fmt.Sprintf(ai.SkeletalGraphPrompt, topic, len(maps), renderMaps(maps))
	resp, err := g.client.GenerateCompletion(ctx, prompt, ai.WithMaxTokens(8192))
	if err != nil {
		return common.SkeletalGraph{}, err
	}

	var parsed skeletalResponse
	if err := ai.ParseJSON(ctx, resp, ai.ShapeObject, &parsed, g.client); err != nil {
		return common.SkeletalGraph{}, err
	}

	var sk common.SkeletalGraph
	names := make(map[string]struct{}, len(parsed.Entities))
	for _, e := range parsed.Entities {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		if _, dup := names[e.Name]; dup {
			continue
		}
		names[e.Name] = struct{}{}
		sk.Entities = append(sk.Entities, e)
	}
	for _, r := range parsed.Relationships {
		_, okSrc := names[strings.TrimSpace(r.SourceEntity)]
		_, okTgt := names[strings.TrimSpace(r.TargetEntity)]
		if !okSrc || !okTgt || strings.TrimSpace(r.Description) == "" {
			continue
		}
		r.SourceEntity = strings.TrimSpace(r.SourceEntity)
		r.TargetEntity = strings.TrimSpace(r.TargetEntity)
		sk.Relationships = append(sk.Relationships, r)
	}

	logger.Info("[Blueprint] Skeletal graph drafted", "topic", topic, "entities", len(sk.Entities), "relationships", len(sk.Relationships))
	return sk, nil
}

// SkeletalGraphOf returns the skeletal graph stored in bp, if any.
func SkeletalGraphOf(bp common.Blueprint) (common.SkeletalGraph, bool) {
	raw, ok := bp.ProcessingItems[itemSkeletalGraph]
	if !ok || raw == nil {
		return common.SkeletalGraph{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return common.SkeletalGraph{}, false
	}
	var sk common.SkeletalGraph
	if err := json.Unmarshal(b, &sk); err != nil {
		return common.SkeletalGraph{}, false
	}
	return sk, len(sk.Entities) > 0
}

// renderMaps serializes maps for a prompt, dropping trailing maps that do not
// fit the token budget.
func renderMaps(maps []common.CognitiveMap) string {
	items := make([]string, 0, len(maps))
	for _, m := range maps {
		b, err := json.Marshal(struct {
			DocumentID         string   `json:"document_id"`
			Summary            string   `json:"summary"`
			KeyEntities        []string `json:"key_entities"`
			ThemeKeywords      []string `json:"theme_keywords"`
			ImportantTimeline  []string `json:"important_timeline"`
			StructuralPatterns string   `json:"structural_patterns"`
		}{m.DocumentID, m.Summary, m.KeyEntities, m.ThemeKeywords, m.ImportantTimeline, m.StructuralPatterns})
		if err != nil {
			continue
		}
		items = append(items, string(b))
	}
	kept := ai.FitTokenBudget(items, ",\n", mapsTokenBudget)
	if len(kept) < len(items) {
		logger.Warn("[Blueprint] Cognitive maps truncated to token budget", "kept", len(kept), "total", len(items))
	}
	return "[\n" + strings.Join(kept, ",\n") + "\n]"
}

func formatSkeletalContext(topic string, sk common.SkeletalGraph) string {
	entities, _ := json.MarshalIndent(sk.Entities, "", "  ")
	rels, _ := json.MarshalIndent(sk.Relationships, "", "  ")
	return fmt.Sprintf("\nThe skeletal graph for %s:\n\nCore entities:\n%s\n\nCore relationships:\n%s\n", topic, entities, rels)
}

// formatInstructions flattens the processing instructions into text. Objects
// become "KEY:" sections in key order, lists become bullet points.
func formatInstructions(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		var flex ai.FlexString
		if err := json.Unmarshal(raw, &flex); err != nil {
			return ""
		}
		return flex.String()
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		lines := instructionLines(obj[k])
		if len(lines) == 0 {
			continue
		}
		b.WriteString(strings.ToUpper(k))
		b.WriteString(":\n")
		for _, l := range lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func instructionLines(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := fmt.Sprint(item); s != "" {
				out = append(out, "  - "+s)
			}
		}
		return out
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return []string{string(b)}
	}
}

func rawOr(raw json.RawMessage, fallback any) any {
	if len(raw) == 0 {
		return fallback
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return fallback
	}
	return v
}
