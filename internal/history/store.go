// internal/history/store.go
package history

import (
	"context"

	"sprint-assistant/internal/models"
)

// Store is the append-only audit log written by every pipeline stage.
// Entries are keyed by tenant and never updated or deleted.
type Store interface {
	// Append persists one entry. Act entries carrying an idempotency key
	// are unique per (tenant, key); a duplicate returns
	// IDEMPOTENCY_CONFLICT so concurrent duplicates arbitrate to exactly
	// one execution. The orchestrator appends such an entry with a nil
	// Result BEFORE running any step, which is what reserves the key.
	Append(ctx context.Context, entry models.AuditEntry) error

	// CompleteAct fills in the result of a reservation entry. It is the
	// only write that touches an existing row, and it fires exactly once
	// per entry: a second completion or a missing entry is an error.
	CompleteAct(ctx context.Context, tenantID, id string, result *models.ActResult) error

	// GetInterpret loads an interpret entry by id. An id owned by another
	// tenant returns TENANT_ISOLATION_VIOLATION, a missing id NOT_FOUND.
	GetInterpret(ctx context.Context, tenantID, id string) (*models.AuditEntry, error)

	// FindActByIdempotencyKey returns the recorded act entry for
	// (tenant, key), or nil when no execution has been recorded yet.
	FindActByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.AuditEntry, error)

	// ListRecent returns the newest entries for a tenant, newest first.
	ListRecent(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error)
}
