package optimize

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store/memory"
)

func TestOptimize_PartialRewriteStaysOpen(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	res := seedTriplet(t, s, "src-1", "TiDB", "PingCAP", "TiDB is developed by PingCAP", nil)

	st := openState(t)
	if _, err := st.AddIssues(ctx, []common.Issue{{
		Type:              common.IssueEntityQuality,
		AffectedIDs:       []string{res.SubjectID, res.ObjectID},
		Reasoning:         "descriptions are vague",
		Confidence:        "high",
		ValidationScore:   0.9,
		CriticEvaluations: map[string]string{DefaultCriticName: confirmedCritique},
	}}); err != nil {
		t.Fatalf("seed issue: %v", err)
	}

	pingcapRewrite := aitest.Rule{
		Contains: []string{entityRewriteMark, `"name": "PingCAP"`},
		Reply:    `{"name": "PingCAP", "description": "PingCAP is the company behind TiDB."}`,
	}
	// only PingCAP gets an answer
	first := newTestEngine(t, s, st, aitest.New(pingcapRewrite), &staticProvider{})

	report, err := first.Optimize(ctx, Query{Text: "TiDB"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Repaired != 0 || report.Failed != 1 {
		t.Fatalf("expected the issue to fail, got %+v", report)
	}
	issues, _ := st.Issues(ctx)
	if len(issues) != 1 || issues[0].Resolved {
		t.Fatalf("expected the issue to stay open, got %+v", issues)
	}
	ents, _ := s.GetEntities(ctx, []string{res.ObjectID})
	if ents[0].Description != "PingCAP is the company behind TiDB." {
		t.Fatalf("expected the successful rewrite to be stored, got %q", ents[0].Description)
	}

	second := newTestEngine(t, s, st, aitest.New(
		pingcapRewrite,
		aitest.Rule{
			Contains: []string{entityRewriteMark, `"name": "TiDB"`},
			Reply:    `{"name": "TiDB", "description": "TiDB is a distributed SQL database."}`,
		},
	), &staticProvider{})

	report, err = second.Optimize(ctx, Query{Text: "TiDB"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Repaired != 1 || report.Failed != 0 {
		t.Fatalf("expected the retry to repair the issue, got %+v", report)
	}
	ents, _ = s.GetEntities(ctx, []string{res.SubjectID})
	if ents[0].Description != "TiDB is a distributed SQL database." {
		t.Fatalf("expected TiDB to be rewritten, got %q", ents[0].Description)
	}
	issues, _ = st.Issues(ctx)
	if !issues[0].Resolved {
		t.Fatalf("expected the issue to be resolved")
	}
}

func TestRepair_PartialRelationshipRewriteFails(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	a := seedTriplet(t, s, "src-1", "TiDB", "PingCAP", "TiDB is developed by PingCAP", nil)
	b := seedTriplet(t, s, "src-1", "TiKV", "CNCF", "TiKV is hosted by CNCF", nil)

	client := aitest.New(aitest.Rule{
		Contains: []string{"TiKV is hosted by CNCF"},
		Reply:    `{"relationship_desc": "TiKV is a graduated CNCF project"}`,
	})
	e := newTestEngine(t, s, openState(t), client, &staticProvider{})

	_, err := e.repair(ctx, common.Issue{
		Type:        common.IssueRelationshipQuality,
		AffectedIDs: []string{a.RelationshipID, b.RelationshipID},
		Reasoning:   "vague",
	})
	if err == nil {
		t.Fatalf("expected an error while one relationship is not rewritten")
	}
	rels, _ := s.GetRelationships(ctx, []string{b.RelationshipID})
	if rels[0].Description != "TiKV is a graduated CNCF project" {
		t.Fatalf("expected the successful rewrite to be stored, got %q", rels[0].Description)
	}
}

func TestFormatSources_TruncatesOversizedSource(t *testing.T) {
	huge := strings.Repeat("TiDB stores data in TiKV regions. ", 20000)
	out := formatSources([]common.SourceText{
		{Name: "huge.md", Content: huge},
		{Name: "small.md", Content: "TiDB is developed by PingCAP."},
	})

	var snippets []sourceSnippet
	if err := json.Unmarshal([]byte(out), &snippets); err != nil {
		t.Fatalf("expected JSON, got %v", err)
	}
	if len(snippets) != 1 || snippets[0].Name != "huge.md" {
		t.Fatalf("expected the first source to be kept, got %d snippets", len(snippets))
	}
	if snippets[0].Content == "" || len(snippets[0].Content) >= len(huge) {
		t.Fatalf("expected a truncated, non empty source")
	}
	if n := ai.CountTokens(snippets[0].Content); n > sourceTokenBudget {
		t.Fatalf("expected at most %d tokens, got %d", sourceTokenBudget, n)
	}
}
