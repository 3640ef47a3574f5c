package common

import "time"

// CognitiveMap is the per document digest used as cheap context for later stages.
// It is persisted as the document summary of (DocumentID, TopicName).
type CognitiveMap struct {
	DocumentID         string         `json:"document_id"`
	TopicName          string         `json:"topic_name"`
	Summary            string         `json:"summary"`
	KeyEntities        []string       `json:"key_entities"`
	ThemeKeywords      []string       `json:"theme_keywords"`
	ImportantTimeline  []string       `json:"important_timeline"`
	StructuralPatterns string         `json:"structural_patterns"`
	DocumentType       string         `json:"document_type"`
	BusinessContext    map[string]any `json:"business_context"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// BlueprintStatus is the lifecycle state of an analysis blueprint.
type BlueprintStatus string

const (
	BlueprintGenerating BlueprintStatus = "generating"
	BlueprintReady      BlueprintStatus = "ready"
	BlueprintFailed     BlueprintStatus = "failed"
)

// Blueprint is the topic wide extraction strategy. The newest row of a topic is
// authoritative. A ready blueprint always has ProcessingInstructions.
type Blueprint struct {
	ID                     string          `json:"id"`
	TopicName              string          `json:"topic_name"`
	Status                 BlueprintStatus `json:"status"`
	SuggestedEntityTypes   []string        `json:"suggested_entity_types"`
	KeyNarrativeThemes     []string        `json:"key_narrative_themes"`
	ProcessingInstructions string          `json:"processing_instructions"`
	ProcessingItems        map[string]any  `json:"processing_items"`
	SourceVersionHash      string          `json:"source_data_version_hash"`
	ContributingSourceIDs  []string        `json:"contributing_source_data_ids"`
	ErrorMessage           string          `json:"error_message,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// BuildStatus is the state of a graph build task.
type BuildStatus string

const (
	BuildUploaded   BuildStatus = "uploaded"
	BuildPending    BuildStatus = "pending"
	BuildProcessing BuildStatus = "processing"
	BuildCompleted  BuildStatus = "completed"
	BuildFailed     BuildStatus = "failed"
)

// GraphBuild is one (topic, source) unit of work for the build daemon.
// ExternalDatabaseURI scopes the task to a tenant database.
type GraphBuild struct {
	ID                  string      `json:"id"`
	BuildID             string      `json:"build_id"`
	TopicName           string      `json:"topic_name"`
	ExternalDatabaseURI string      `json:"external_database_uri"`
	DocLink             string      `json:"doc_link"`
	SourceID            string      `json:"source_id"`
	Status              BuildStatus `json:"status"`
	ErrorMessage        string      `json:"error_message,omitempty"`
	ScheduledAt         time.Time   `json:"scheduled_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// TopicBuilds is a claimed batch of build tasks that share one topic and database.
type TopicBuilds struct {
	TopicName           string       `json:"topic_name"`
	ExternalDatabaseURI string       `json:"external_database_uri"`
	Tasks               []GraphBuild `json:"tasks"`
}

// BuildCounts counts build tasks per status.
type BuildCounts map[BuildStatus]int

// Total sums all statuses.
func (c BuildCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
