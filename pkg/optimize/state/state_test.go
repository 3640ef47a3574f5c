package state

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/common"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func issue(t common.IssueType, ids ...string) common.Issue {
	return common.Issue{
		Type:        t,
		AffectedIDs: ids,
		Reasoning:   "same thing",
		SourceGraph: common.GraphData{
			Entities: []common.GraphEntity{{ID: "e1", Name: "TiDB", Attributes: map[string]any{"topic_name": "TiDB", "aliases": []any{"tidb"}}}},
		},
		CriticEvaluations: map[string]string{},
	}
}

func TestAddIssues_DeduplicatesByKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	added, err := s.AddIssues(ctx, []common.Issue{
		issue(common.IssueRedundantEntity, "e1", "e2"),
		issue(common.IssueEntityQuality, "e1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("expected 2 added issues, got %d", len(added))
	}

	// Same ids in another order and a repeat inside the batch.
	added, err = s.AddIssues(ctx, []common.Issue{
		issue(common.IssueRedundantEntity, "e2", "e1"),
		issue(common.IssueRedundantRelationship, "r1", "r2"),
		issue(common.IssueRedundantRelationship, "r2", "r1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 1 || added[0].Type != common.IssueRedundantRelationship {
		t.Fatalf("expected only the relationship issue to be added, got %+v", added)
	}

	all, err := s.Issues(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 stored issues, got %d", len(all))
	}
	if all[0].Type != common.IssueRedundantEntity || all[2].Type != common.IssueRedundantRelationship {
		t.Fatalf("expected detection order, got %v, %v, %v", all[0].Type, all[1].Type, all[2].Type)
	}
	if all[0].Key != "redundancy_entity|e1,e2" {
		t.Fatalf("unexpected key %q", all[0].Key)
	}
	if got := all[0].SourceGraph.Entities[0].Attributes["aliases"]; !reflect.DeepEqual(got, []any{"tidb"}) {
		t.Fatalf("expected attributes to survive the round trip, got %v", got)
	}
}

func TestUpdate_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	added, err := s.AddIssues(ctx, []common.Issue{issue(common.IssueEntityQuality, "e1")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	is := added[0]
	is.CriticEvaluations["llm-critic"] = `{"is_valid": true, "critique": "vague"}`
	is.ValidationScore = 0.9
	is.Resolved = true
	if err := s.Update(ctx, is); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s.Close()

	all, err := s.Issues(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 issue after reopen, got %d", len(all))
	}
	if !all[0].Resolved || all[0].ValidationScore != 0.9 || !all[0].HasCritique("llm-critic") {
		t.Fatalf("expected updated issue, got %+v", all[0])
	}
}

func TestUpdate_UnknownIssue(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(context.Background(), issue(common.IssueEntityQuality, "missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnresolvedAndByType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	added, err := s.AddIssues(ctx, []common.Issue{
		issue(common.IssueEntityQuality, "e1"),
		issue(common.IssueEntityQuality, "e2"),
		issue(common.IssueRelationshipQuality, "r1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := added[1]
	done.Resolved = true
	if err := s.Update(ctx, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	open, err := s.Unresolved(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(open) != 2 || open[0].AffectedIDs[0] != "e1" || open[1].AffectedIDs[0] != "r1" {
		t.Fatalf("expected e1 and r1 unresolved, got %+v", open)
	}

	quality, err := s.IssuesByType(ctx, common.IssueEntityQuality)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quality) != 2 {
		t.Fatalf("expected 2 entity quality issues, got %d", len(quality))
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddIssues(ctx, []common.Issue{issue(common.IssueEntityQuality, "e1")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all, _ := s.Issues(ctx)
	if len(all) != 0 {
		t.Fatalf("expected empty store, got %d issues", len(all))
	}

	// A cleared key can be detected again.
	added, err := s.AddIssues(ctx, []common.Issue{issue(common.IssueEntityQuality, "e1")})
	if err != nil || len(added) != 1 {
		t.Fatalf("expected re-add after clear, got %d added, err %v", len(added), err)
	}
}
