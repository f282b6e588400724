// internal/models/candidate.go
package models

import "time"

// EntityType names the platform entity kinds that can be acted on.
type EntityType string

const (
	EntityStory  EntityType = "story"
	EntityTask   EntityType = "task"
	EntitySprint EntityType = "sprint"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityStory, EntityTask, EntitySprint:
		return true
	}
	return false
}

// EvidenceKind tags why a candidate is plausibly the referenced entity.
type EvidenceKind string

const (
	EvidencePR         EvidenceKind = "pr"
	EvidenceCommit     EvidenceKind = "commit"
	EvidenceAssignment EvidenceKind = "assignment"
	EvidenceTime       EvidenceKind = "time"
	EvidenceMention    EvidenceKind = "mention"
)

// EvidenceChip is one human-readable grounding hint attached to a candidate.
type EvidenceChip struct {
	Kind  EvidenceKind `json:"kind"`
	Label string       `json:"label"`
	Value string       `json:"value"`
}

// EntityCandidate is one scored match for an entity reference in an
// utterance. Scores are kept separately so the ranking stays explainable.
type EntityCandidate struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	EntityType      EntityType     `json:"entity_type"`
	Title           string         `json:"title"`
	Status          string         `json:"status,omitempty"`
	Assignee        string         `json:"assignee,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	RetrievalScore  float64        `json:"retrieval_score"`
	RecencyBoost    float64        `json:"recency_boost"`
	ExactMatchBoost float64        `json:"exact_match_boost"`
	FinalScore      float64        `json:"final_score"`
	Evidence        []EvidenceChip `json:"evidence,omitempty"`
}

// DecisionState is the disambiguation outcome surfaced to the client.
type DecisionState string

const (
	StateResolved          DecisionState = "Resolved"
	StateNeedsConfirmation DecisionState = "NeedsConfirmation"
	StateAmbiguous         DecisionState = "Ambiguous"
	StateNoMatch           DecisionState = "NoMatch"
)
