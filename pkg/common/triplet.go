package common

// TripletCategory tags which extraction pass produced a triplet.
type TripletCategory string

const (
	CategoryNarrative TripletCategory = "narrative"
	CategorySkeletal  TripletCategory = "skeletal"
)

// Hierarchy levels allowed on structural triplets.
const (
	HierarchyTopicToAspect     = "topic_to_aspect"
	HierarchyAspectToComponent = "aspect_to_component"
	HierarchyComponentToDetail = "component_to_detail"
)

// ValidHierarchyLevel reports whether level is one of the known hierarchy levels.
func ValidHierarchyLevel(level string) bool {
	switch level {
	case HierarchyTopicToAspect, HierarchyAspectToComponent, HierarchyComponentToDetail:
		return true
	}
	return false
}

// TripletEntity is one end of an extracted fact.
type TripletEntity struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Triplet is an extracted (subject, predicate, object) candidate fact.
type Triplet struct {
	Subject                TripletEntity   `json:"subject"`
	Predicate              string          `json:"predicate"`
	Object                 TripletEntity   `json:"object"`
	RelationshipAttributes map[string]any  `json:"relationship_attributes,omitempty"`
	Category               TripletCategory `json:"category"`
}

// SkeletalRelationship connects two skeletal entities by name.
type SkeletalRelationship struct {
	SourceEntity string         `json:"source_entity"`
	TargetEntity string         `json:"target_entity"`
	Description  string         `json:"relationship_desc"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// SkeletalGraph is the coarse, topic wide pre-seed produced from summaries.
type SkeletalGraph struct {
	Entities      []TripletEntity        `json:"entities"`
	Relationships []SkeletalRelationship `json:"relationships"`
}
