package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store/memory"
)

const testTopic = "TiDB"

const (
	markCognitive  = "cognitive map of one document"
	markBlueprint  = "GLOBAL BLUEPRINT"
	markSkeletal   = "skeletal graph of the topic"
	markNarrative  = "Extract narrative triplets"
	markStructural = "Extract structural triplets"
)

const cognitiveReply = `<think>The document is about TiDB {</think>
` + "```json" + `
{
  "summary": "TiDB is a distributed SQL database that stores data in TiKV.",
  "key_entities": ["TiDB", "TiKV", "MySQL"],
  "theme_keywords": ["database", "storage"],
  "important_timeline": ["GA release: 2017"],
  "structural_patterns": "hierarchical"
}
` + "```"

const blueprintReply = "```json" + `
{
  "suggested_entity_types": ["Database", "Component", "Protocol"],
  "key_narrative_themes": ["distributed storage"],
  "canonical_entities": {"TiDB": {"aliases": ["TiDB Server"], "entity_type": "Database"}},
  "key_patterns": {"relationship_patterns": ["SQL layer delegates storage to TiKV"]},
  "global_timeline": [{"period": "2017", "key_events": ["GA"]}],
  "processing_instructions": {
    "quality_focus": "Prefer component level facts",
    "conflict_handling": ["Trust the newest document", "Keep both versions"]
  }
}
` + "```"

const narrativeReply = "```json" + `
[
  {
    "subject": {"name": "TiDB", "description": "A distributed SQL database", "attributes": {"entity_type": "Database"}},
    "predicate": "TiDB stores its data in TiKV",
    "object": {"name": "TiKV", "description": "A distributed key value store", "attributes": {"entity_type": "Component"}},
    "relationship_attributes": {"fact_time": "2017", "sentiment": "neutral"}
  },
  {
    "subject": {"name": "TiDB", "description": "A distributed SQL database"},
    "predicate": "TiDB speaks the MySQL wire protocol",
    "object": {"name": "MySQL", "description": "A relational database protocol", "attributes": "not an object"}
  },
  {
    "subject": {"name": "", "description": "missing name"},
    "predicate": "dropped",
    "object": {"name": "TiKV"}
  }
]
` + "```"

const structuralReply = "```json" + `
[
  {
    "subject": {"name": "TiDB", "description": "A distributed SQL database"},
    "predicate": "TiDB has a storage layer",
    "object": {"name": "Storage layer", "description": "The persistence tier of TiDB"},
    "relationship_attributes": {"hierarchy_level": "topic_to_aspect"}
  },
  {
    "subject": {"name": "Storage layer", "description": "The persistence tier of TiDB"},
    "predicate": "The storage layer is implemented by TiKV",
    "object": {"name": "TiKV", "description": "A distributed key value store"},
    "relationship_attributes": {"hierarchy_level": "somewhere_else"}
  }
]
` + "```"

const skeletalReply = "```json" + `
{
  "skeletal_entities": [
    {"name": "TiDB", "description": "A distributed SQL database", "attributes": {"entity_type": "Database"}},
    {"name": "PD", "description": "The placement driver", "attributes": {"entity_type": "Component"}},
    {"name": "TiDB", "description": "duplicate entry"}
  ],
  "skeletal_relationships": [
    {"source_entity": "PD", "target_entity": "TiDB", "relationship_desc": "PD schedules data for TiDB"},
    {"source_entity": "PD", "target_entity": "Unknown", "relationship_desc": "dangling"}
  ]
}
` + "```"

func pipelineRules() []aitest.Rule {
	return []aitest.Rule{
		{Contains: []string{markCognitive}, Reply: cognitiveReply},
		{Contains: []string{markSkeletal}, Reply: skeletalReply},
		{Contains: []string{markBlueprint}, Reply: blueprintReply},
		{Contains: []string{markNarrative}, Reply: narrativeReply},
		{Contains: []string{markStructural}, Reply: structuralReply},
	}
}

func addDoc(t *testing.T, s *memory.Store, name, content string) common.SourceDocument {
	t.Helper()
	ctx := context.Background()

	hash := util.ContentHash([]byte(content))
	if _, err := s.PutContent(ctx, common.Content{Hash: hash, Content: content, Name: name}); err != nil {
		t.Fatalf("put content: %v", err)
	}
	src, _, err := s.UpsertSource(ctx, common.SourceData{
		Name:        name,
		Link:        "file:///docs/" + name,
		TopicName:   testTopic,
		ContentHash: hash,
		SourceType:  common.SourceTypeDocument,
		Attributes:  map[string]any{common.AttrTopicName: testTopic},
	})
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	return common.SourceDocument{SourceData: src, Content: content}
}

func countCalls(client *aitest.Client, mark string) int {
	n := 0
	for _, p := range client.Prompts() {
		if strings.Contains(p, mark) {
			n++
		}
	}
	return n
}
