// internal/ports/dispatcher_test.go
package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/models"
)

func seededDispatcher(t *testing.T) (*Dispatcher, *MemoryPlatform) {
	platform := NewMemoryPlatform()
	platform.SeedItem("story", Item{
		ID: "story-1", TenantID: "acme", Title: "Payments story",
		Status: "in_progress", SprintID: "sprint-1", UpdatedAt: time.Now().UTC(),
	})
	platform.SeedItem("task", Item{
		ID: "task-1", TenantID: "acme", Title: "Login task",
		Status: "in_progress", ParentID: "story-1", UpdatedAt: time.Now().UTC(),
	})
	platform.SeedSprint(Sprint{ID: "sprint-1", TenantID: "acme", Name: "Sprint 1", Status: SprintActive})
	return NewDispatcher(platform.Wire()), platform
}

func TestDispatcherRoutesTaskUpdateStatus(t *testing.T) {
	dispatcher, platform := seededDispatcher(t)

	_, err := dispatcher.Invoke(context.Background(), "acme", models.PortTask, OpUpdateStatus,
		map[string]interface{}{"id": "task-1", "status": "done"})
	require.NoError(t, err)

	item, ok := platform.Item("acme", "task-1")
	require.True(t, ok)
	assert.Equal(t, "done", item.Status)
}

func TestDispatcherReturnsCreateOutput(t *testing.T) {
	dispatcher, _ := seededDispatcher(t)

	out, err := dispatcher.Invoke(context.Background(), "acme", models.PortTask, OpCreate,
		map[string]interface{}{"title": "Write docs", "parent_id": "story-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, out["id"])
	assert.Equal(t, "Write docs", out["title"])
}

func TestDispatcherSprintCloseMovesUnfinishedWork(t *testing.T) {
	dispatcher, platform := seededDispatcher(t)

	out, err := dispatcher.Invoke(context.Background(), "acme", models.PortSprint, OpClose,
		map[string]interface{}{"id": "sprint-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, out["moved_count"])

	story, _ := platform.Item("acme", "story-1")
	assert.Equal(t, StatusBacklog, story.Status)
	assert.Empty(t, story.SprintID)
}

func TestDispatcherRejectsUnknownOp(t *testing.T) {
	dispatcher, _ := seededDispatcher(t)

	_, err := dispatcher.Invoke(context.Background(), "acme", models.PortStory, "explode", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}

func TestDispatcherRejectsMissingTenant(t *testing.T) {
	dispatcher, _ := seededDispatcher(t)

	_, err := dispatcher.Invoke(context.Background(), "", models.PortTask, OpGet,
		map[string]interface{}{"id": "task-1"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantIsolationViolation, errors.From(err).Code)
}

func TestDispatcherNotifyDeliversEvent(t *testing.T) {
	dispatcher, platform := seededDispatcher(t)

	out, err := dispatcher.Invoke(context.Background(), "acme", models.PortNotify, OpNotify,
		map[string]interface{}{
			"kind":    "status_change",
			"subject": "Task completed",
			"message": "Login task is done",
		})
	require.NoError(t, err)
	assert.NotEmpty(t, out["event_id"])

	events := platform.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "acme", events[0].TenantID)
	assert.Equal(t, "status_change", events[0].Kind)
}

func TestMemoryPlatformIsolatesTenants(t *testing.T) {
	dispatcher, _ := seededDispatcher(t)

	_, err := dispatcher.Invoke(context.Background(), "other-tenant", models.PortTask, OpGet,
		map[string]interface{}{"id": "task-1"})
	require.Error(t, err, "an id seeded under acme must not resolve for another tenant")
}
