package optimize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

const defaultAnalysisContext = "graph quality analysis"

type detectedIssue struct {
	IssueType   ai.FlexString  `json:"issue_type"`
	AffectedIDs ai.FlexStrings `json:"affected_ids"`
	Reasoning   ai.FlexString  `json:"reasoning"`
	Confidence  ai.FlexString  `json:"confidence"`
}

// detect asks the detector model for issues in data. Items that are
// incomplete, of an unknown type or with too few ids are dropped.
func (e *Engine) detect(ctx context.Context, data common.GraphData, analysisContext string) ([]common.Issue, error) {
	graphJSON, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}
	prompt := fmt.Sprintf(ai.IssueDetectionPrompt, string(graphJSON))

	res, err := e.detector.GenerateCompletion(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}

	var raw []detectedIssue
	if err := ai.ParseJSON(ctx, res, ai.ShapeArray, &raw, e.detector); err != nil {
		return nil, fmt.Errorf("failed to parse detected issues: %w", err)
	}

	if analysisContext == "" {
		analysisContext = defaultAnalysisContext
	}
	issues := make([]common.Issue, 0, len(raw))
	for _, d := range raw {
		is, ok := newIssue(d, data, analysisContext)
		if !ok {
			logger.Debug("[Optimizer] Dropping detected issue",
				"type", d.IssueType.String(), "ids", []string(d.AffectedIDs))
			continue
		}
		issues = append(issues, is)
	}

	logger.Info("[Optimizer] Detected issues", "candidates", len(raw), "kept", len(issues))
	return issues, nil
}

func newIssue(d detectedIssue, data common.GraphData, analysisContext string) (common.Issue, bool) {
	t, ok := common.ParseIssueType(d.IssueType.String())
	if !ok {
		return common.Issue{}, false
	}
	ids := store.DedupeStrings(d.AffectedIDs)
	if len(ids) == 0 || d.Reasoning == "" || d.Confidence == "" {
		return common.Issue{}, false
	}
	if len(ids) < t.MinAffected() {
		return common.Issue{}, false
	}

	return common.Issue{
		Key:               common.IssueKey(t, ids),
		Type:              t,
		AffectedIDs:       ids,
		Reasoning:         d.Reasoning.String(),
		Confidence:        d.Confidence.String(),
		SourceGraph:       data,
		AnalysisContext:   analysisContext,
		CriticEvaluations: map[string]string{},
	}, true
}
