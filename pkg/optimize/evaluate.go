package optimize

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

// scorePerCritic is added to an issue's validation score for every critic
// that confirms it.
const scorePerCritic = 0.9

// Critic is a named model that validates detected issues.
type Critic struct {
	Name   string
	Client ai.GraphAIClient
}

type critique struct {
	IsValid  any           `json:"is_valid"`
	Critique ai.FlexString `json:"critique"`
}

// parseCritique reads a stored critic answer. ok is false when the answer
// holds no usable verdict and the critic has to be asked again.
func parseCritique(ctx context.Context, raw string) (valid bool, ok bool) {
	if strings.TrimSpace(raw) == "" {
		return false, false
	}
	var c critique
	if err := ai.ParseJSON(ctx, raw, ai.ShapeObject, &c, nil); err != nil {
		return false, false
	}
	switch v := c.IsValid.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

// evaluated reports whether every critic left a usable verdict on is.
func (e *Engine) evaluated(ctx context.Context, is common.Issue) bool {
	for _, c := range e.critics {
		if _, ok := parseCritique(ctx, is.CriticEvaluations[c.Name]); !ok {
			return false
		}
	}
	return true
}

func (e *Engine) allEvaluated(ctx context.Context, issues []common.Issue) bool {
	for _, is := range issues {
		if !e.evaluated(ctx, is) {
			return false
		}
	}
	return true
}

// evaluate runs critic passes until every issue carries a verdict from every
// critic or the round limit is reached. Each critique is checkpointed.
func (e *Engine) evaluate(ctx context.Context, issues []common.Issue) ([]common.Issue, error) {
	for round := 1; round <= e.cfg.MaxEvaluationRounds; round++ {
		if e.allEvaluated(ctx, issues) {
			return issues, nil
		}
		logger.Info("[Optimizer] Evaluating issues", "round", round, "issues", len(issues), "critics", len(e.critics))
		for _, c := range e.critics {
			if err := e.evaluateWith(ctx, c, issues); err != nil {
				return issues, err
			}
		}
	}
	if !e.allEvaluated(ctx, issues) {
		logger.Warn("[Optimizer] Some issues are still without a verdict", "rounds", e.cfg.MaxEvaluationRounds)
	}
	return issues, nil
}

func (e *Engine) evaluateWith(ctx context.Context, c Critic, issues []common.Issue) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.MaxConcurrentIssues)

	for i := range issues {
		if _, ok := parseCritique(ctx, issues[i].CriticEvaluations[c.Name]); ok {
			continue
		}
		eg.Go(func() error {
			is := &issues[i]
			res, err := c.Client.GenerateCompletion(gctx, critiquePrompt(*is))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Error("[Optimizer] Critic request failed", "critic", c.Name, "key", is.Key, "err", err)
				return nil
			}

			if is.CriticEvaluations == nil {
				is.CriticEvaluations = map[string]string{}
			}
			is.CriticEvaluations[c.Name] = res
			valid, ok := parseCritique(gctx, res)
			switch {
			case !ok:
				logger.Warn("[Optimizer] Unparseable critique, will ask again", "critic", c.Name, "key", is.Key)
			case valid:
				is.ValidationScore += scorePerCritic
				logger.Info("[Optimizer] Issue confirmed", "critic", c.Name, "key", is.Key, "score", is.ValidationScore)
			default:
				logger.Info("[Optimizer] Issue rejected", "critic", c.Name, "key", is.Key)
			}

			if err := e.state.Update(gctx, *is); err != nil {
				return fmt.Errorf("failed to checkpoint critique: %w", err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func critiquePrompt(is common.Issue) string {
	graphJSON, _ := json.MarshalIndent(is.SourceGraph, "", "  ")
	target := fmt.Sprintf("Affected %ss: %s", is.Type.ElementType(), strings.Join(is.AffectedIDs, ", "))
	label := is.Type.Label()
	return fmt.Sprintf(ai.IssueCriticPrompt,
		guideline(is.Type),
		string(graphJSON),
		is.Type,
		target,
		is.Reasoning,
		is.Type,
		label,
		label,
	)
}

func guideline(t common.IssueType) string {
	switch t {
	case common.IssueRedundantEntity:
		return ai.RedundantEntityGuideline
	case common.IssueRedundantRelationship:
		return ai.RedundantRelationshipGuideline
	case common.IssueEntityQuality:
		return ai.EntityQualityGuideline
	case common.IssueRelationshipQuality:
		return ai.RelationshipQualityGuideline
	}
	return "No specific guideline available for this issue type."
}
