// internal/models/intent.go
package models

import "time"

// IntentOrigin tells which parser produced an intent.
type IntentOrigin string

const (
	OriginLLM       IntentOrigin = "llm"
	OriginHeuristic IntentOrigin = "heuristic"
)

// IntentType is the closed set of actions the assistant understands. Parser
// output naming anything else is rejected.
type IntentType string

const (
	IntentMarkComplete     IntentType = "mark_complete"
	IntentUpdateStatus     IntentType = "update_status"
	IntentAssignItem       IntentType = "assign_item"
	IntentCreateTask       IntentType = "create_task"
	IntentSplitStory       IntentType = "split_story"
	IntentMoveToSprint     IntentType = "move_to_sprint"
	IntentBulkUpdateStatus IntentType = "bulk_update_status"
	IntentStartSprint      IntentType = "start_sprint"
	IntentCloseSprint      IntentType = "close_sprint"
	IntentDeleteItem       IntentType = "delete_item"
)

// AllIntentTypes lists every accepted intent, in catalog order.
func AllIntentTypes() []IntentType {
	return []IntentType{
		IntentMarkComplete,
		IntentUpdateStatus,
		IntentAssignItem,
		IntentCreateTask,
		IntentSplitStory,
		IntentMoveToSprint,
		IntentBulkUpdateStatus,
		IntentStartSprint,
		IntentCloseSprint,
		IntentDeleteItem,
	}
}

// Valid reports whether t is a member of the closed intent set.
func (t IntentType) Valid() bool {
	switch t {
	case IntentMarkComplete, IntentUpdateStatus, IntentAssignItem, IntentCreateTask,
		IntentSplitStory, IntentMoveToSprint, IntentBulkUpdateStatus,
		IntentStartSprint, IntentCloseSprint, IntentDeleteItem:
		return true
	}
	return false
}

// Well-known slot names produced by both parser paths.
const (
	SlotEntity     = "entity"
	SlotEntityType = "entity_type"
	SlotStatus     = "status"
	SlotAssignee   = "assignee"
	SlotSprint     = "sprint"
	SlotTitle      = "title"
	SlotParent     = "parent"
)

// Utterance is the raw user request plus its tenant scope.
type Utterance struct {
	Text      string    `json:"text"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ParsedIntent is the structured interpretation of an utterance.
type ParsedIntent struct {
	Type             IntentType        `json:"type"`
	Slots            map[string]string `json:"slots"`
	SourceConfidence float64           `json:"source_confidence"`
	Origin           IntentOrigin      `json:"origin"`
}

// Slot returns the named slot value or "".
func (p *ParsedIntent) Slot(name string) string {
	if p == nil || p.Slots == nil {
		return ""
	}
	return p.Slots[name]
}
