// internal/models/audit.go
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AuditKind tags what a history entry records.
type AuditKind string

const (
	AuditInterpret AuditKind = "interpret"
	AuditAct       AuditKind = "act"
	AuditCancel    AuditKind = "cancel"
	AuditSecurity  AuditKind = "security"
)

// AuditEntry is one append-only history row. Raw utterance text is never
// stored, only its hash.
type AuditEntry struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	UserID           string            `json:"user_id"`
	Kind             AuditKind         `json:"kind"`
	UtteranceHash    string            `json:"utterance_hash,omitempty"`
	Origin           IntentOrigin      `json:"origin,omitempty"`
	Intent           *ParsedIntent     `json:"intent,omitempty"`
	Candidates       []EntityCandidate `json:"candidates,omitempty"`
	State            DecisionState     `json:"state,omitempty"`
	SelectedEntityID string            `json:"selected_entity_id,omitempty"`
	ActionType       IntentType        `json:"action_type,omitempty"`
	Risk             RiskLevel         `json:"risk,omitempty"`
	Draft            *ActionDraft      `json:"draft,omitempty"`
	Result           *ActResult        `json:"result,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// HashUtterance returns the hex sha256 of the raw text.
func HashUtterance(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
