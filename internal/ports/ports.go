// internal/ports/ports.go
package ports

import (
	"context"
	"time"
)

// Item is the shared shape for stories and tasks as seen through the ports.
// The downstream services own richer representations; steps only need this
// slice of them.
type Item struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Assignee  string    `json:"assignee,omitempty"`
	SprintID  string    `json:"sprint_id,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sprint is the sprint shape exposed by the sprint service.
type Sprint struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"` // planned, active, closed
	StartedAt *time.Time `json:"started_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Statuses the draft builder reasons about. The downstream services accept
// free-form statuses; these are the ones with pipeline semantics.
const (
	StatusDone    = "done"
	StatusBacklog = "backlog"

	SprintPlanned = "planned"
	SprintActive  = "active"
	SprintClosed  = "closed"
)

// StoryService is the narrow contract of the story CRUD service.
type StoryService interface {
	Get(ctx context.Context, tenantID, id string) (*Item, error)
	UpdateStatus(ctx context.Context, tenantID, id, status string) error
	Assign(ctx context.Context, tenantID, id, assignee string) error
	// Split creates a sibling story carrying the given title and moves the
	// unfinished acceptance criteria over. Returns the new story.
	Split(ctx context.Context, tenantID, id, newTitle string) (*Item, error)
	MoveToSprint(ctx context.Context, tenantID, id, sprintID string) error
	// BulkUpdateStatus sets the status of every task under the story and
	// returns the ids it changed.
	BulkUpdateStatus(ctx context.Context, tenantID, id, status string) ([]string, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// TaskService is the narrow contract of the task CRUD service.
type TaskService interface {
	Get(ctx context.Context, tenantID, id string) (*Item, error)
	Create(ctx context.Context, tenantID string, task Item) (*Item, error)
	UpdateStatus(ctx context.Context, tenantID, id, status string) error
	Assign(ctx context.Context, tenantID, id, assignee string) error
	MoveToSprint(ctx context.Context, tenantID, id, sprintID string) error
	Delete(ctx context.Context, tenantID, id string) error
}

// SprintService is the narrow contract of the sprint service.
type SprintService interface {
	Get(ctx context.Context, tenantID, id string) (*Sprint, error)
	FindByName(ctx context.Context, tenantID, name string) (*Sprint, error)
	Start(ctx context.Context, tenantID, id string) error
	// Close closes the sprint and rolls incomplete items back to the
	// backlog, returning the ids it moved.
	Close(ctx context.Context, tenantID, id string) ([]string, error)
}

// Event is one notification emitted after an action step.
type Event struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	Kind       string                 `json:"kind"`
	Subject    string                 `json:"subject"`
	Message    string                 `json:"message"`
	EntityID   string                 `json:"entity_id,omitempty"`
	EntityType string                 `json:"entity_type,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Notifier is the notification sink.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Platform bundles the four downstream ports the pipeline talks to.
type Platform struct {
	Story    StoryService
	Task     TaskService
	Sprint   SprintService
	Notifier Notifier
}
