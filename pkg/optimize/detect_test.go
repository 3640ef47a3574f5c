package optimize

import (
	"context"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store/memory"
)

func TestNewIssue(t *testing.T) {
	tests := []struct {
		name string
		in   detectedIssue
		ok   bool
		ids  []string
	}{
		{
			name: "redundant entities",
			in:   detectedIssue{IssueType: "redundancy_entity", AffectedIDs: ai.FlexStrings{"e2", "e1"}, Reasoning: "same", Confidence: "high"},
			ok:   true,
			ids:  []string{"e2", "e1"},
		},
		{
			name: "unknown type",
			in:   detectedIssue{IssueType: "missing_relationship", AffectedIDs: ai.FlexStrings{"e1"}, Reasoning: "gap", Confidence: "high"},
		},
		{
			name: "redundancy needs two distinct ids",
			in:   detectedIssue{IssueType: "redundancy_entity", AffectedIDs: ai.FlexStrings{"e1", "e1"}, Reasoning: "same", Confidence: "high"},
		},
		{
			name: "missing reasoning",
			in:   detectedIssue{IssueType: "entity_quality_issue", AffectedIDs: ai.FlexStrings{"e1"}, Confidence: "high"},
		},
		{
			name: "missing confidence",
			in:   detectedIssue{IssueType: "relationship_quality_issue", AffectedIDs: ai.FlexStrings{"r1"}, Reasoning: "vague"},
		},
		{
			name: "no ids",
			in:   detectedIssue{IssueType: "entity_quality_issue", Reasoning: "vague", Confidence: "low"},
		},
		{
			name: "single quality issue",
			in:   detectedIssue{IssueType: "relationship_quality_issue", AffectedIDs: ai.FlexStrings{"r1", ""}, Reasoning: "vague", Confidence: "0.8"},
			ok:   true,
			ids:  []string{"r1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is, ok := newIssue(tt.in, common.GraphData{}, "ctx")
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if !reflect.DeepEqual(is.AffectedIDs, tt.ids) {
				t.Fatalf("expected ids %v, got %v", tt.ids, is.AffectedIDs)
			}
			if is.Key == "" || is.CriticEvaluations == nil || is.AnalysisContext != "ctx" {
				t.Fatalf("expected initialised issue, got %+v", is)
			}
		})
	}
}

func TestDetect_ToleratesMessyResponse(t *testing.T) {
	client := aitest.New(aitest.Rule{
		Contains: []string{detectMarker},
		Reply: "Here you go:\n```json\n[{\"issue_type\": \"entity_quality_issue\", \"affected_ids\": \"e1\", " +
			"\"reasoning\": \"too short\", \"confidence\": 0.7}, {\"issue_type\": \"bogus\"}]\n```",
	})
	e := newTestEngine(t, memory.New(), openState(t), client, &staticProvider{})

	data := common.GraphData{Entities: []common.GraphEntity{{ID: "e1", Name: "TiDB"}}}
	issues, err := e.detect(context.Background(), data, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	is := issues[0]
	if is.Key != "entity_quality_issue|e1" || is.Confidence != "0.7" {
		t.Fatalf("unexpected issue %+v", is)
	}
	if is.AnalysisContext != defaultAnalysisContext {
		t.Fatalf("expected default analysis context, got %q", is.AnalysisContext)
	}
	if !reflect.DeepEqual(is.SourceGraph, data) {
		t.Fatalf("expected snapshot to be kept on the issue")
	}
}

func TestParseCritique(t *testing.T) {
	tests := []struct {
		raw   string
		valid bool
		ok    bool
	}{
		{`{"is_valid": true, "critique": "real"}`, true, true},
		{`<think>hm</think>{"is_valid": false}`, false, true},
		{`{"is_valid": "Yes"}`, true, true},
		{`{"is_valid": "no"}`, false, true},
		{`{"is_valid": "maybe"}`, false, false},
		{`{"critique": "no verdict"}`, false, false},
		{`not json at all`, false, false},
		{``, false, false},
	}
	for _, tt := range tests {
		valid, ok := parseCritique(context.Background(), tt.raw)
		if valid != tt.valid || ok != tt.ok {
			t.Fatalf("%q: expected (%v, %v), got (%v, %v)", tt.raw, tt.valid, tt.ok, valid, ok)
		}
	}
}

func TestSnapshot_DeduplicatesElements(t *testing.T) {
	rel := func(id, src, tgt string) common.ScoredRelationship {
		r := common.ScoredRelationship{}
		r.ID = id
		r.SourceEntityID, r.SourceEntityName = src, "name-"+src
		r.TargetEntityID, r.TargetEntityName = tgt, "name-"+tgt
		return r
	}
	data := snapshot([]common.ScoredRelationship{
		rel("r1", "a", "b"),
		rel("r2", "b", "c"),
		rel("r1", "a", "b"),
	})

	var entityIDs, relIDs []string
	for _, e := range data.Entities {
		entityIDs = append(entityIDs, e.ID)
	}
	for _, r := range data.Relationships {
		relIDs = append(relIDs, r.ID)
	}
	if !reflect.DeepEqual(entityIDs, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected entities %v", entityIDs)
	}
	if !reflect.DeepEqual(relIDs, []string{"r1", "r2"}) {
		t.Fatalf("unexpected relationships %v", relIDs)
	}
	if data.Relationships[1].SourceEntity != "name-b" {
		t.Fatalf("expected relationships to reference entity names, got %q", data.Relationships[1].SourceEntity)
	}

	empty := snapshot(nil)
	if empty.Entities == nil || empty.Relationships == nil {
		t.Fatalf("expected empty, non nil slices")
	}
}

func TestAttrsOf(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]any
	}{
		{`{"a": "b"}`, map[string]any{"a": "b"}},
		{`"{\"a\": \"b\"}"`, map[string]any{"a": "b"}},
		{`null`, map[string]any{}},
		{`["x"]`, map[string]any{}},
		{``, map[string]any{}},
	}
	for _, tt := range tests {
		if got := attrsOf([]byte(tt.raw)); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("%q: expected %v, got %v", tt.raw, tt.want, got)
		}
	}
}
