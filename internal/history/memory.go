// internal/history/memory.go
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/models"
)

// MemoryStore is the in-process audit log used in memory mode and tests.
// It mirrors the Postgres semantics, including idempotency-key uniqueness.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(ctx context.Context, entry models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Kind == models.AuditAct && entry.IdempotencyKey != "" {
		for _, existing := range s.entries {
			if existing.Kind == models.AuditAct &&
				existing.TenantID == entry.TenantID &&
				existing.IdempotencyKey == entry.IdempotencyKey {
				return errors.NewIdempotencyConflictError(entry.IdempotencyKey)
			}
		}
	}

	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) CompleteAct(ctx context.Context, tenantID, id string, result *models.ActResult) error {
	if err := ctx.Err(); err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID != id || s.entries[i].Kind != models.AuditAct {
			continue
		}
		if s.entries[i].TenantID != tenantID {
			return errors.NewTenantIsolationViolationError("act entry belongs to another tenant")
		}
		if s.entries[i].Result != nil {
			return errors.NewHistoryWriteFailedError(
				fmt.Errorf("act entry %s already completed", id))
		}
		s.entries[i].Result = result
		return nil
	}
	return errors.NewNotFoundError("act", id)
}

func (s *MemoryStore) GetInterpret(ctx context.Context, tenantID, id string) (*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.entries {
		if s.entries[i].ID == id && s.entries[i].Kind == models.AuditInterpret {
			if s.entries[i].TenantID != tenantID {
				return nil, errors.NewTenantIsolationViolationError("interpret entry belongs to another tenant")
			}
			entry := s.entries[i]
			return &entry, nil
		}
	}
	return nil, errors.NewNotFoundError("interpret", id)
}

func (s *MemoryStore) FindActByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.AuditEntry, error) {
	if key == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.entries {
		if s.entries[i].Kind == models.AuditAct &&
			s.entries[i].TenantID == tenantID &&
			s.entries[i].IdempotencyKey == key {
			entry := s.entries[i]
			return &entry, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.AuditEntry
	for _, entry := range s.entries {
		if entry.TenantID == tenantID {
			matched = append(matched, entry)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Len reports the number of stored entries, for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
