package graph

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store/memory"
)

func saveMap(t *testing.T, s *memory.Store, doc common.SourceDocument) common.CognitiveMap {
	t.Helper()
	m := common.CognitiveMap{
		DocumentID:  doc.ID,
		TopicName:   testTopic,
		Summary:     "summary of " + doc.Name,
		KeyEntities: []string{"TiDB"},
	}
	if err := s.SaveCognitiveMap(context.Background(), m); err != nil {
		t.Fatalf("save map: %v", err)
	}
	return m
}

func TestBlueprintGenerate_CacheHitByVersionHash(t *testing.T) {
	s := memory.New()
	client := aitest.New(pipelineRules()...)
	g := NewBlueprintGenerator(NewBlueprintGeneratorParams{Store: s, Client: client})

	maps := []common.CognitiveMap{
		saveMap(t, s, addDoc(t, s, "a.md", "alpha")),
		saveMap(t, s, addDoc(t, s, "b.md", "beta")),
	}

	first, err := g.Generate(context.Background(), testTopic, maps, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != common.BlueprintReady {
		t.Fatalf("expected ready blueprint, got %s", first.Status)
	}
	if !reflect.DeepEqual(first.SuggestedEntityTypes, []string{"Database", "Component", "Protocol"}) {
		t.Fatalf("unexpected entity types %v", first.SuggestedEntityTypes)
	}
	if len(first.ContributingSourceIDs) != 2 {
		t.Fatalf("expected 2 contributing sources, got %v", first.ContributingSourceIDs)
	}

	// Order of maps does not matter for the version hash.
	second, err := g.Generate(context.Background(), testTopic, []common.CognitiveMap{maps[1], maps[0]}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected cached blueprint %s, got %s", first.ID, second.ID)
	}
	if client.Calls() != 1 {
		t.Fatalf("expected 1 completion, got %d", client.Calls())
	}

	forced, err := g.Generate(context.Background(), testTopic, maps, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forced.ID == first.ID || client.Calls() != 2 {
		t.Fatalf("expected forced regeneration, got id %s after %d calls", forced.ID, client.Calls())
	}
}

func TestBlueprintGenerate_NewSourceInvalidatesCache(t *testing.T) {
	s := memory.New()
	client := aitest.New(pipelineRules()...)
	g := NewBlueprintGenerator(NewBlueprintGeneratorParams{Store: s, Client: client})

	maps := []common.CognitiveMap{saveMap(t, s, addDoc(t, s, "a.md", "alpha"))}
	first, err := g.Generate(context.Background(), testTopic, maps, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	maps = append(maps, saveMap(t, s, addDoc(t, s, "b.md", "beta")))
	second, err := g.Generate(context.Background(), testTopic, maps, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID == first.ID || second.SourceVersionHash == first.SourceVersionHash {
		t.Fatalf("expected a new blueprint for a new source set")
	}
	if n := s.BlueprintCount(testTopic); n != 2 {
		t.Fatalf("expected 2 blueprint rows, got %d", n)
	}
}

func TestBlueprintGenerate_FailedRequiresForce(t *testing.T) {
	s := memory.New()
	client := aitest.New(aitest.Rule{
		Contains: []string{markBlueprint},
		Reply:    `{"suggested_entity_types": ["Database"], "key_narrative_themes": []}`,
	})
	g := NewBlueprintGenerator(NewBlueprintGeneratorParams{Store: s, Client: client})
	maps := []common.CognitiveMap{saveMap(t, s, addDoc(t, s, "a.md", "alpha"))}

	if _, err := g.Generate(context.Background(), testTopic, maps, false); err == nil {
		t.Fatalf("expected missing processing instructions to fail")
	}
	latest, err := s.LatestBlueprint(context.Background(), testTopic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.Status != common.BlueprintFailed || latest.ErrorMessage == "" {
		t.Fatalf("expected failed blueprint with message, got %s %q", latest.Status, latest.ErrorMessage)
	}

	_, err = g.Generate(context.Background(), testTopic, maps, false)
	if !errors.Is(err, ErrBlueprintFailed) {
		t.Fatalf("expected ErrBlueprintFailed, got %v", err)
	}
	if client.Calls() != 1 {
		t.Fatalf("expected no model call against a failed blueprint, got %d calls", client.Calls())
	}

	_, _ = g.Generate(context.Background(), testTopic, maps, true)
	if client.Calls() != 2 {
		t.Fatalf("expected force to call the model again, got %d calls", client.Calls())
	}
}

func TestBlueprintGenerate_ModelErrorIsRecorded(t *testing.T) {
	s := memory.New()
	client := aitest.New(aitest.Rule{Contains: []string{markBlueprint}, Err: errors.New("rate limited")})
	g := NewBlueprintGenerator(NewBlueprintGeneratorParams{Store: s, Client: client})
	maps := []common.CognitiveMap{saveMap(t, s, addDoc(t, s, "a.md", "alpha"))}

	_, err := g.Generate(context.Background(), testTopic, maps, false)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected model error, got %v", err)
	}
	latest, _ := s.LatestBlueprint(context.Background(), testTopic)
	if latest.Status != common.BlueprintFailed || !strings.Contains(latest.ErrorMessage, "rate limited") {
		t.Fatalf("expected failure to be persisted, got %s %q", latest.Status, latest.ErrorMessage)
	}
}

func TestBlueprintGenerate_NoMaps(t *testing.T) {
	g := NewBlueprintGenerator(NewBlueprintGeneratorParams{Store: memory.New(), Client: aitest.New()})
	if _, err := g.Generate(context.Background(), testTopic, nil, false); err == nil {
		t.Fatalf("expected error without cognitive maps")
	}
}

func TestGenerateSkeletalGraph_DropsDanglingRelationships(t *testing.T) {
	s := memory.New()
	client := aitest.New(pipelineRules()...)
	g := NewBlueprintGenerator(NewBlueprintGeneratorParams{Store: s, Client: client, Skeletal: true})
	maps := []common.CognitiveMap{saveMap(t, s, addDoc(t, s, "a.md", "alpha"))}

	bp, err := g.Generate(context.Background(), testTopic, maps, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sk, ok := SkeletalGraphOf(bp)
	if !ok {
		t.Fatalf("expected skeletal graph in blueprint")
	}
	if len(sk.Entities) != 2 || len(sk.Relationships) != 1 {
		t.Fatalf("expected 2 entities and 1 relationship, got %d and %d", len(sk.Entities), len(sk.Relationships))
	}
	if sk.Relationships[0].SourceEntity != "PD" || sk.Relationships[0].TargetEntity != "TiDB" {
		t.Fatalf("unexpected relationship %+v", sk.Relationships[0])
	}

	prompts := client.Prompts()
	last := prompts[len(prompts)-1]
	if !strings.Contains(last, markBlueprint) || !strings.Contains(last, "The skeletal graph for "+testTopic) {
		t.Fatalf("expected blueprint prompt to carry the skeletal graph")
	}
}

func TestSkeletalGraphOf_RoundTripsThroughJSON(t *testing.T) {
	sk := common.SkeletalGraph{
		Entities: []common.TripletEntity{{Name: "TiDB"}},
	}
	b, _ := json.Marshal(map[string]any{itemSkeletalGraph: sk})
	var items map[string]any
	_ = json.Unmarshal(b, &items)

	got, ok := SkeletalGraphOf(common.Blueprint{ProcessingItems: items})
	if !ok || got.Entities[0].Name != "TiDB" {
		t.Fatalf("expected skeletal graph from decoded items, got %+v", got)
	}
	if _, ok := SkeletalGraphOf(common.Blueprint{}); ok {
		t.Fatalf("expected no skeletal graph")
	}
}

func TestFormatInstructions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: ``, want: ""},
		{name: "string", raw: `"  Focus on dates  "`, want: "Focus on dates"},
		{
			name: "object sorted by key",
			raw:  `{"quality_focus": "Prefer facts", "conflict_handling": ["Trust newest", "Keep both"], "empty": ""}`,
			want: "CONFLICT_HANDLING:\n  - Trust newest\n  - Keep both\n\nQUALITY_FOCUS:\nPrefer facts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatInstructions(json.RawMessage(tt.raw)); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBlueprintGenerate_PersonalTopicUsesMemoryInstructions(t *testing.T) {
	s := memory.New()
	client := aitest.New(pipelineRules()...)
	g := NewBlueprintGenerator(NewBlueprintGeneratorParams{Store: s, Client: client})

	topic := common.PersonalTopic("u-42")
	doc := addDoc(t, s, "chat.json", "I moved to Oldenburg in May.")
	m := common.CognitiveMap{DocumentID: doc.ID, TopicName: topic, Summary: "a move", KeyEntities: []string{"Oldenburg"}}
	if err := s.SaveCognitiveMap(context.Background(), m); err != nil {
		t.Fatalf("save map: %v", err)
	}

	bp, err := g.Generate(context.Background(), topic, []common.CognitiveMap{m}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bp.ProcessingInstructions != ai.PersonalMemoryInstructions {
		t.Fatalf("expected personal memory instructions, got %q", bp.ProcessingInstructions)
	}

	other, err := g.Generate(context.Background(), testTopic, []common.CognitiveMap{saveMap(t, s, doc)}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.ProcessingInstructions == ai.PersonalMemoryInstructions {
		t.Fatalf("expected generated instructions for a regular topic")
	}
}
