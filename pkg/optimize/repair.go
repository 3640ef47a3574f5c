package optimize

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
)

const (
	sourceTokenBudget       = 70000
	relationshipTokenBudget = 30000
	repairMaxTokens         = 8192
)

// outcome of a repair that did not fail.
type outcome int

const (
	repaired outcome = iota
	// skipped issues cannot be repaired and count as resolved.
	skipped
)

// repair dispatches is to the routine of its type. Every routine reads, asks
// the model outside of any transaction, then writes in one store call.
func (e *Engine) repair(ctx context.Context, is common.Issue) (outcome, error) {
	switch is.Type {
	case common.IssueEntityQuality:
		return e.rewriteEntities(ctx, is)
	case common.IssueRedundantEntity:
		return e.mergeEntities(ctx, is)
	case common.IssueRelationshipQuality:
		return e.rewriteRelationships(ctx, is)
	case common.IssueRedundantRelationship:
		return e.mergeRelationships(ctx, is)
	}
	return skipped, fmt.Errorf("unhandled issue type %q", is.Type)
}

type entityDraft struct {
	Name        ai.FlexString   `json:"name"`
	Description ai.FlexString   `json:"description"`
	Attributes  json.RawMessage `json:"attributes"`
}

type relationshipDraft struct {
	SourceEntityID   ai.FlexString   `json:"source_entity_id"`
	TargetEntityID   ai.FlexString   `json:"target_entity_id"`
	SourceEntityName ai.FlexString   `json:"source_entity_name"`
	TargetEntityName ai.FlexString   `json:"target_entity_name"`
	Description      ai.FlexString   `json:"relationship_desc"`
	Attributes       json.RawMessage `json:"attributes"`
}

// rewriteEntities rewrites every affected entity that still exists. Rewrites
// that succeed are stored even if others fail; the issue then stays open.
func (e *Engine) rewriteEntities(ctx context.Context, is common.Issue) (outcome, error) {
	var updates []common.Entity
	var failed []string
	missing := 0
	for _, id := range is.AffectedIDs {
		found, err := e.graph.GetEntities(ctx, []string{id})
		if err != nil {
			return repaired, fmt.Errorf("failed to load entity %s: %w", id, err)
		}
		if len(found) == 0 {
			logger.Warn("[Optimizer] Entity no longer exists", "entity", id)
			missing++
			continue
		}
		ent := found[0]

		rels, err := e.graph.GetRelationshipsByEntityIDs(ctx, []string{id})
		if err != nil {
			return repaired, fmt.Errorf("failed to load relationships of %s: %w", id, err)
		}
		sources, err := e.graph.GetSourceTexts(ctx, common.ElementEntity, []string{id})
		if err != nil {
			return repaired, fmt.Errorf("failed to load sources of %s: %w", id, err)
		}

		prompt := fmt.Sprintf(ai.EntityRewritePrompt,
			issueJSON(is, id),
			toJSON(graphEntity(ent)),
			formatRelationships(rels, false),
			formatSources(sources),
		)
		var draft entityDraft
		if err := e.completeJSON(ctx, prompt, &draft); err != nil {
			logger.Error("[Optimizer] Entity rewrite failed", "entity", id, "err", err)
			failed = append(failed, id)
			continue
		}
		if draft.Name == "" || draft.Description == "" {
			logger.Error("[Optimizer] Entity rewrite without name or description", "entity", id)
			failed = append(failed, id)
			continue
		}

		ent.Name = draft.Name.String()
		ent.Description = draft.Description.String()
		ent.Attributes = keepScope(attrsOf(draft.Attributes), ent.Attributes)
		if ent.Embedding, err = e.embed(ctx, store.EmbeddingText(ent.Name, ent.Description)); err != nil {
			return repaired, err
		}
		updates = append(updates, ent)
	}
	if missing == len(is.AffectedIDs) {
		return skipped, nil
	}

	for _, ent := range updates {
		if err := e.graph.UpdateEntity(ctx, ent); err != nil {
			return repaired, fmt.Errorf("failed to update entity %s: %w", ent.ID, err)
		}
		logger.Info("[Optimizer] Entity rewritten", "entity", ent.ID, "name", ent.Name)
	}
	if len(failed) > 0 {
		return repaired, fmt.Errorf("could not rewrite %d of %d entities: %v", len(failed), len(is.AffectedIDs)-missing, failed)
	}
	return repaired, nil
}

func (e *Engine) mergeEntities(ctx context.Context, is common.Issue) (outcome, error) {
	entities, err := e.graph.GetEntities(ctx, is.AffectedIDs)
	if err != nil {
		return repaired, fmt.Errorf("failed to load entities: %w", err)
	}
	if len(entities) < 2 {
		logger.Info("[Optimizer] Skipping entity merge, nothing left to merge", "key", is.Key)
		return skipped, nil
	}
	topic := entities[0].Topic()
	for _, ent := range entities[1:] {
		if ent.Topic() != topic {
			logger.Info("[Optimizer] Skipping entity merge across topics", "key", is.Key)
			return skipped, nil
		}
	}

	ids := make([]string, len(entities))
	graphEntities := make([]common.GraphEntity, len(entities))
	for i, ent := range entities {
		ids[i] = ent.ID
		graphEntities[i] = graphEntity(ent)
	}
	rels, err := e.graph.GetRelationshipsByEntityIDs(ctx, ids)
	if err != nil {
		return repaired, fmt.Errorf("failed to load relationships: %w", err)
	}
	sources, err := e.graph.GetSourceTexts(ctx, common.ElementEntity, ids)
	if err != nil {
		return repaired, fmt.Errorf("failed to load sources: %w", err)
	}

	prompt := fmt.Sprintf(ai.EntityMergePrompt,
		issueJSON(is, ids...),
		toJSON(graphEntities),
		formatRelationships(rels, false),
		formatSources(sources),
	)
	var draft entityDraft
	if err := e.completeJSON(ctx, prompt, &draft); err != nil {
		return repaired, fmt.Errorf("entity merge request failed: %w", err)
	}
	if draft.Name == "" || draft.Description == "" {
		return repaired, errors.New("merged entity is missing name or description")
	}

	merged := common.Entity{
		Name:        draft.Name.String(),
		Description: draft.Description.String(),
		Attributes:  keepScope(attrsOf(draft.Attributes), entities[0].Attributes),
	}
	if merged.Embedding, err = e.embed(ctx, store.EmbeddingText(merged.Name, merged.Description)); err != nil {
		return repaired, err
	}

	survivor, err := e.graph.MergeEntities(ctx, merged, ids)
	if err != nil {
		return repaired, fmt.Errorf("failed to merge entities: %w", err)
	}
	logger.Info("[Optimizer] Entities merged", "originals", ids, "survivor", survivor, "name", merged.Name)
	return repaired, nil
}

func (e *Engine) rewriteRelationships(ctx context.Context, is common.Issue) (outcome, error) {
	var updates []common.Relationship
	var failed []string
	missing := 0
	for _, id := range is.AffectedIDs {
		found, err := e.graph.GetRelationships(ctx, []string{id})
		if err != nil {
			return repaired, fmt.Errorf("failed to load relationship %s: %w", id, err)
		}
		if len(found) == 0 {
			logger.Warn("[Optimizer] Relationship no longer exists", "relationship", id)
			missing++
			continue
		}
		rel := found[0]

		sources, err := e.graph.GetSourceTexts(ctx, common.ElementRelationship, []string{id})
		if err != nil {
			return repaired, fmt.Errorf("failed to load sources of %s: %w", id, err)
		}

		prompt := fmt.Sprintf(ai.RelationshipRewritePrompt,
			issueJSON(is, id),
			formatRelationships(found, false),
			formatSources(sources),
		)
		var draft relationshipDraft
		if err := e.completeJSON(ctx, prompt, &draft); err != nil {
			logger.Error("[Optimizer] Relationship rewrite failed", "relationship", id, "err", err)
			failed = append(failed, id)
			continue
		}
		if draft.Description == "" {
			logger.Error("[Optimizer] Relationship rewrite without description", "relationship", id)
			failed = append(failed, id)
			continue
		}

		rel.Description = draft.Description.String()
		if attrs := attrsOf(draft.Attributes); len(draft.Attributes) > 0 && string(draft.Attributes) != "null" {
			rel.Attributes = keepScope(attrs, rel.Attributes)
		}
		if rel.Embedding, err = e.embed(ctx, rel.Description); err != nil {
			return repaired, err
		}
		updates = append(updates, rel)
	}
	if missing == len(is.AffectedIDs) {
		return skipped, nil
	}

	for _, rel := range updates {
		if err := e.graph.UpdateRelationship(ctx, rel); err != nil {
			return repaired, fmt.Errorf("failed to update relationship %s: %w", rel.ID, err)
		}
		logger.Info("[Optimizer] Relationship rewritten", "relationship", rel.ID)
	}
	if len(failed) > 0 {
		return repaired, fmt.Errorf("could not rewrite %d of %d relationships: %v", len(failed), len(is.AffectedIDs)-missing, failed)
	}
	return repaired, nil
}

func (e *Engine) mergeRelationships(ctx context.Context, is common.Issue) (outcome, error) {
	rels, err := e.graph.GetRelationships(ctx, is.AffectedIDs)
	if err != nil {
		return repaired, fmt.Errorf("failed to load relationships: %w", err)
	}
	if len(rels) < 2 {
		logger.Info("[Optimizer] Skipping relationship merge, not enough relationships", "key", is.Key)
		return skipped, nil
	}
	endpoints := map[string]struct{}{}
	ids := make([]string, len(rels))
	for i, r := range rels {
		ids[i] = r.ID
		endpoints[r.SourceEntityID] = struct{}{}
		endpoints[r.TargetEntityID] = struct{}{}
	}
	if len(endpoints) > 2 {
		logger.Info("[Optimizer] Skipping relationship merge between different entities", "key", is.Key)
		return skipped, nil
	}

	sources, err := e.graph.GetSourceTexts(ctx, common.ElementRelationship, ids)
	if err != nil {
		return repaired, fmt.Errorf("failed to load sources: %w", err)
	}

	prompt := fmt.Sprintf(ai.RelationshipMergePrompt,
		issueJSON(is, ids...),
		formatRelationships(rels, true),
		formatSources(sources),
	)
	var draft relationshipDraft
	if err := e.completeJSON(ctx, prompt, &draft); err != nil {
		return repaired, fmt.Errorf("relationship merge request failed: %w", err)
	}
	if draft.Description == "" {
		return repaired, errors.New("merged relationship is missing a description")
	}

	// The model may flip the direction but never leave the entity pair.
	first := rels[0]
	source, target := first.SourceEntityID, first.TargetEntityID
	if s := draft.SourceEntityID.String(); s == target {
		source, target = target, source
	}

	merged := common.Relationship{
		SourceEntityID: source,
		TargetEntityID: target,
		Description:    draft.Description.String(),
		Attributes:     keepScope(attrsOf(draft.Attributes), first.Attributes),
	}
	if merged.Embedding, err = e.embed(ctx, merged.Description); err != nil {
		return repaired, err
	}

	survivor, err := e.graph.MergeRelationships(ctx, merged, ids)
	if err != nil {
		return repaired, fmt.Errorf("failed to merge relationships: %w", err)
	}
	logger.Info("[Optimizer] Relationships merged", "originals", ids, "survivor", survivor)
	return repaired, nil
}

func (e *Engine) completeJSON(ctx context.Context, prompt string, out any) error {
	res, err := e.client.GenerateCompletion(ctx, prompt, ai.WithMaxTokens(repairMaxTokens))
	if err != nil {
		return err
	}
	return ai.ParseJSON(ctx, res, ai.ShapeObject, out, e.client)
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := e.client.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to embed: %w", err)
	}
	return emb, nil
}

// keepScope returns attrs with topic_name and category taken from previous,
// so a rewrite can never move an element out of its topic graph.
func keepScope(attrs, previous map[string]any) map[string]any {
	if attrs == nil {
		attrs = map[string]any{}
	}
	for _, k := range []string{common.AttrTopicName, common.AttrCategory} {
		if v, ok := previous[k]; ok {
			attrs[k] = v
		}
	}
	return attrs
}

// attrsOf decodes an attributes value. Models sometimes send the object as a
// JSON string.
func attrsOf(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err == nil && out != nil {
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &out); err == nil && out != nil {
			return out
		}
	}
	return map[string]any{}
}

func graphEntity(e common.Entity) common.GraphEntity {
	return common.GraphEntity{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Attributes:  e.Attributes,
	}
}

func issueJSON(is common.Issue, ids ...string) string {
	return toJSON(map[string]any{
		"issue_type":   is.Type,
		"reasoning":    is.Reasoning,
		"affected_ids": ids,
	})
}

func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func formatRelationships(rels []common.Relationship, withIDs bool) string {
	lines := make([]string, 0, len(rels))
	for _, r := range rels {
		if withIDs {
			lines = append(lines, fmt.Sprintf("%s(source_entity_id=%s) -> %s(target_entity_id=%s): %s",
				r.SourceEntityName, r.SourceEntityID, r.TargetEntityName, r.TargetEntityID, r.Description))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s -> %s: %s", r.SourceEntityName, r.TargetEntityName, r.Description))
	}
	return toJSON(ai.FitTokenBudget(lines, "\n", relationshipTokenBudget))
}

type sourceSnippet struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func formatSources(sources []common.SourceText) string {
	contents := make([]string, len(sources))
	for i, s := range sources {
		contents[i] = s.Content
	}
	kept := ai.FitTokenBudget(contents, "\n", sourceTokenBudget)
	if len(kept) == 0 && len(contents) > 0 {
		// a single oversized source is cut rather than dropped
		kept = []string{ai.TruncateToTokens(contents[0], sourceTokenBudget)}
	}

	snippets := make([]sourceSnippet, len(kept))
	for i, content := range kept {
		snippets[i] = sourceSnippet{Name: sources[i].Name, Content: strings.TrimSpace(content)}
	}
	return toJSON(snippets)
}
