// internal/models/action.go
package models

// RiskLevel classifies the blast radius of an action.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Exceeds reports whether r is strictly riskier than other.
func (r RiskLevel) Exceeds(other RiskLevel) bool {
	return riskRank(r) > riskRank(other)
}

func riskRank(r RiskLevel) int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return 3
}

// StepKind tags what a step does.
type StepKind string

const (
	StepValidation StepKind = "validation"
	StepAPICall    StepKind = "api_call"
	StepNotify     StepKind = "notify"
)

// Port names the downstream service a step is dispatched to.
const (
	PortStory  = "story"
	PortTask   = "task"
	PortSprint = "sprint"
	PortNotify = "notify"
)

// CompensationSpec describes how to best-effort undo a completed step. It is
// plain data so drafts survive the confirmation round trip.
type CompensationSpec struct {
	Port        string                 `json:"port"`
	Op          string                 `json:"op"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Description string                 `json:"description"`
}

// ActionStep is one unit of work inside a draft.
type ActionStep struct {
	ID           string                 `json:"id"`
	Kind         StepKind               `json:"kind"`
	Description  string                 `json:"description"`
	Port         string                 `json:"port"`
	Op           string                 `json:"op"`
	Params       map[string]interface{} `json:"params,omitempty"`
	DependsOn    []string               `json:"depends_on,omitempty"`
	CanSkip      bool                   `json:"can_skip"`
	Idempotent   bool                   `json:"idempotent"`
	Compensation *CompensationSpec      `json:"compensation,omitempty"`
}

// ActionDraft is the reviewable execution plan built for a resolved intent.
type ActionDraft struct {
	ActionType           IntentType             `json:"action_type"`
	TargetEntityID       string                 `json:"target_entity_id"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RiskLevel            RiskLevel              `json:"risk_level"`
	Steps                []ActionStep           `json:"steps"`
	Reasoning            string                 `json:"reasoning"`
	PotentialIssues      []string               `json:"potential_issues,omitempty"`
	RequiresConfirmation bool                   `json:"requires_confirmation"`
}

// StepStatus is the per-step execution outcome.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepNotRun    StepStatus = "not_run"
)

// StepResult records what happened to one step.
type StepResult struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	Compensated bool       `json:"compensated,omitempty"`
}

// ActResult is the outcome of executing a draft.
type ActResult struct {
	Success        bool         `json:"success"`
	PartialSuccess bool         `json:"partial_success"`
	StepResults    []StepResult `json:"step_results"`
	RollbackToken  string       `json:"rollback_token,omitempty"`
	Replayed       bool         `json:"replayed,omitempty"`
}
