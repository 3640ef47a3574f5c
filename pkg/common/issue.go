package common

import (
	"slices"
	"strings"
)

// IssueType is the closed set of graph quality problems the optimizer repairs.
type IssueType string

const (
	IssueRedundantEntity       IssueType = "redundancy_entity"
	IssueRedundantRelationship IssueType = "redundancy_relationship"
	IssueEntityQuality         IssueType = "entity_quality_issue"
	IssueRelationshipQuality   IssueType = "relationship_quality_issue"
)

// IssueTypes lists every IssueType in reporting order.
var IssueTypes = []IssueType{
	IssueEntityQuality,
	IssueRedundantEntity,
	IssueRelationshipQuality,
	IssueRedundantRelationship,
}

// ParseIssueType maps a detector label onto an IssueType. Labels outside the
// closed set, such as missing_relationship, are rejected.
func ParseIssueType(s string) (IssueType, bool) {
	t := IssueType(strings.TrimSpace(s))
	if slices.Contains(IssueTypes, t) {
		return t, true
	}
	return "", false
}

// MinAffected is the smallest number of affected ids an issue of type t can
// carry to be actionable.
func (t IssueType) MinAffected() int {
	switch t {
	case IssueRedundantEntity, IssueRedundantRelationship:
		return 2
	default:
		return 1
	}
}

// ElementType returns the kind of graph element the issue's ids refer to.
func (t IssueType) ElementType() ElementType {
	switch t {
	case IssueRedundantRelationship, IssueRelationshipQuality:
		return ElementRelationship
	default:
		return ElementEntity
	}
}

// Label is the human readable form used in prompts.
func (t IssueType) Label() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// GraphData is the neighbourhood snapshot an issue was detected on.
type GraphData struct {
	Entities      []GraphEntity       `json:"entities"`
	Relationships []GraphRelationship `json:"relationships"`
}

// Len is the number of elements in the snapshot.
func (g GraphData) Len() int {
	return len(g.Entities) + len(g.Relationships)
}

type GraphEntity struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes"`
}

type GraphRelationship struct {
	ID           string         `json:"id"`
	SourceEntity string         `json:"source_entity"`
	TargetEntity string         `json:"target_entity"`
	Description  string         `json:"description"`
	Attributes   map[string]any `json:"attributes"`
}

// Issue is the working record of one detected quality problem. It moves from
// detection through critic evaluation to resolution and is checkpointed in the
// issue state store after every stage.
type Issue struct {
	Key               string            `json:"key"`
	Type              IssueType         `json:"issue_type"`
	AffectedIDs       []string          `json:"affected_ids"`
	Reasoning         string            `json:"reasoning"`
	Confidence        string            `json:"confidence"`
	SourceGraph       GraphData         `json:"source_graph"`
	AnalysisContext   string            `json:"analysis_context"`
	ValidationScore   float64           `json:"validation_score"`
	CriticEvaluations map[string]string `json:"critic_evaluations"`
	Resolved          bool              `json:"is_resolved"`
}

// IssueKey identifies an issue by type and affected ids, independent of the
// order the detector listed the ids in.
func IssueKey(t IssueType, ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return string(t) + "|" + strings.Join(sorted, ",")
}

// HasCritique reports whether critic already left a non empty critique.
func (i Issue) HasCritique(critic string) bool {
	return i.CriticEvaluations[critic] != ""
}
