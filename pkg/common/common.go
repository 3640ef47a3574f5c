package common

import "time"

// Attribute keys shared by entities, relationships, sources and mappings.
const (
	AttrTopicName      = "topic_name"
	AttrCategory       = "category"
	AttrEntityType     = "entity_type"
	AttrHierarchyLevel = "hierarchy_level"
	AttrTimestamp      = "timestamp"
	AttrSentiment      = "sentiment"
	AttrDocLink        = "doc_link"
	AttrOriginalName   = "original_filename"
)

// Entity is a node of a topic graph. Within one topic the exact Name is unique;
// near duplicates are left for the optimizer to merge.
type Entity struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Embedding   []float32      `json:"-"`
	Attributes  map[string]any `json:"attributes"`
}

// Topic returns the topic_name attribute.
func (e Entity) Topic() string {
	return AttrString(e.Attributes, AttrTopicName)
}

// Relationship is a directed edge. (SourceEntityID, TargetEntityID, Description)
// is unique.
type Relationship struct {
	ID             string         `json:"id"`
	SourceEntityID string         `json:"source_entity_id"`
	TargetEntityID string         `json:"target_entity_id"`
	Description    string         `json:"relationship_desc"`
	Embedding      []float32      `json:"-"`
	Attributes     map[string]any `json:"attributes"`

	// Filled by read queries that join the endpoint names.
	SourceEntityName string `json:"source_entity_name,omitempty"`
	TargetEntityName string `json:"target_entity_name,omitempty"`
}

// ElementType distinguishes the two kinds of graph element a mapping can point at.
type ElementType string

const (
	ElementEntity       ElementType = "entity"
	ElementRelationship ElementType = "relationship"
)

// Mapping is a provenance edge from a source document to a graph element.
type Mapping struct {
	SourceID    string         `json:"source_id"`
	ElementID   string         `json:"graph_element_id"`
	ElementType ElementType    `json:"graph_element_type"`
	Attributes  map[string]any `json:"attributes"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MappingCounts summarises provenance rows of one topic.
type MappingCounts struct {
	Total         int `json:"total"`
	Entities      int `json:"entity"`
	Relationships int `json:"relationship"`
}

// SourceText is source content that backs a graph element, used as repair context.
type SourceText struct {
	SourceID    string `json:"source_id"`
	Name        string `json:"name"`
	ContentHash string `json:"content_hash"`
	Content     string `json:"content"`
}

// ScoredRelationship is a vector search hit.
type ScoredRelationship struct {
	Relationship
	SourceEntityDescription string         `json:"source_entity_description"`
	SourceEntityAttributes  map[string]any `json:"source_entity_attributes"`
	TargetEntityDescription string         `json:"target_entity_description"`
	TargetEntityAttributes  map[string]any `json:"target_entity_attributes"`
	Score                   float64        `json:"similarity_score"`
}

// AttrString reads a string attribute, returning "" for missing or non string values.
func AttrString(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	s, _ := attrs[key].(string)
	return s
}

// CloneAttrs returns a shallow copy that is safe to mutate.
func CloneAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
