package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store/memory"
)

func TestCognitiveGenerate_ParsesAndCaches(t *testing.T) {
	s := memory.New()
	client := aitest.New(pipelineRules()...)
	g := NewCognitiveMapGenerator(NewCognitiveMapGeneratorParams{Store: s, Client: client})
	doc := addDoc(t, s, "overview.md", "TiDB is a distributed SQL database.")

	m, err := g.Generate(context.Background(), testTopic, doc, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Summary != "TiDB is a distributed SQL database that stores data in TiKV." {
		t.Fatalf("unexpected summary %q", m.Summary)
	}
	if len(m.KeyEntities) != 3 || m.StructuralPatterns != "hierarchical" {
		t.Fatalf("unexpected map %+v", m)
	}
	if m.DocumentType != "cognitive_map" {
		t.Fatalf("expected document type cognitive_map, got %q", m.DocumentType)
	}

	prompt := client.Prompts()[0]
	if !strings.Contains(prompt, "Document: overview.md") || !strings.Contains(prompt, "<document>") {
		t.Fatalf("expected document block in prompt")
	}

	again, err := g.Generate(context.Background(), testTopic, doc, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Calls() != 1 {
		t.Fatalf("expected cached map, got %d calls", client.Calls())
	}
	if again.Summary != m.Summary {
		t.Fatalf("expected cached summary, got %q", again.Summary)
	}

	if _, err := g.Generate(context.Background(), testTopic, doc, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Calls() != 2 {
		t.Fatalf("expected force to regenerate, got %d calls", client.Calls())
	}
}

func TestCognitiveGenerate_DefaultsForMissingFields(t *testing.T) {
	s := memory.New()
	client := aitest.New(aitest.Rule{Contains: []string{markCognitive}, Reply: `Here you go: {"summary": "Short."}`})
	g := NewCognitiveMapGenerator(NewCognitiveMapGeneratorParams{Store: s, Client: client})

	m, err := g.Generate(context.Background(), testTopic, addDoc(t, s, "a.md", "alpha"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.KeyEntities == nil || len(m.KeyEntities) != 0 {
		t.Fatalf("expected empty key entities, got %v", m.KeyEntities)
	}
	if m.ImportantTimeline == nil || m.ThemeKeywords == nil {
		t.Fatalf("expected empty lists, got %+v", m)
	}
	if m.StructuralPatterns != "unknown" {
		t.Fatalf("expected unknown structural pattern, got %q", m.StructuralPatterns)
	}
}

func TestBatchGenerate_PartialFailureKeepsOrder(t *testing.T) {
	s := memory.New()
	rules := append([]aitest.Rule{
		{Contains: []string{markCognitive, "BROKEN"}, Err: errors.New("context length exceeded")},
	}, pipelineRules()...)
	client := aitest.New(rules...)
	g := NewCognitiveMapGenerator(NewCognitiveMapGeneratorParams{Store: s, Client: client, Workers: 2})

	docs := []common.SourceDocument{
		addDoc(t, s, "a.md", "alpha"),
		addDoc(t, s, "b.md", "BROKEN beta"),
		addDoc(t, s, "c.md", "gamma"),
	}

	maps, err := g.BatchGenerate(context.Background(), testTopic, docs, false)
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected *BatchError, got %v", err)
	}
	if batchErr.Total != 3 || len(batchErr.Failed) != 1 || batchErr.Failed[docs[1].ID] == nil {
		t.Fatalf("expected only b.md to fail, got %+v", batchErr.Failed)
	}
	if len(maps) != 2 || maps[0].DocumentID != docs[0].ID || maps[1].DocumentID != docs[2].ID {
		t.Fatalf("expected maps for a.md and c.md in order, got %v", maps)
	}

	// Successful maps are persisted.
	if _, err := s.GetCognitiveMap(context.Background(), testTopic, docs[2].ID); err != nil {
		t.Fatalf("expected c.md map to be stored, got %v", err)
	}
}

func TestBatchError_Message(t *testing.T) {
	err := &BatchError{Total: 4, Failed: map[string]error{"doc-1": errors.New("x")}}
	if got := err.Error(); got != "1 of 4 documents failed: doc-1" {
		t.Fatalf("unexpected message %q", got)
	}
}
