// internal/ports/dispatcher.go
package ports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/models"
)

// Operation names steps and compensations refer to. Drafts survive the
// confirmation round trip as plain data, so dispatch is by name, but only
// these names exist.
const (
	OpGet              = "get"
	OpUpdateStatus     = "update_status"
	OpAssign           = "assign"
	OpCreate           = "create"
	OpSplit            = "split"
	OpMoveToSprint     = "move_to_sprint"
	OpBulkUpdateStatus = "bulk_update_status"
	OpStart            = "start"
	OpClose            = "close"
	OpDelete           = "delete"
	OpNotify           = "notify"
)

// Dispatcher routes a step's (port, op, params) triple to the typed port
// call behind it. Outputs feed compensation parameter substitution.
type Dispatcher struct {
	platform *Platform
}

func NewDispatcher(platform *Platform) *Dispatcher {
	return &Dispatcher{platform: platform}
}

// Invoke executes one operation and returns its output values. Unknown
// port/op combinations are validation errors, not downstream failures.
func (d *Dispatcher) Invoke(ctx context.Context, tenantID, port, op string, params map[string]interface{}) (map[string]interface{}, error) {
	if tenantID == "" {
		return nil, errors.NewTenantIsolationViolationError("step dispatched without tenant id")
	}

	switch port {
	case models.PortStory:
		return d.invokeStory(ctx, tenantID, op, params)
	case models.PortTask:
		return d.invokeTask(ctx, tenantID, op, params)
	case models.PortSprint:
		return d.invokeSprint(ctx, tenantID, op, params)
	case models.PortNotify:
		return d.invokeNotify(ctx, tenantID, op, params)
	}
	return nil, errors.NewValidationError(fmt.Sprintf("unknown port %q", port))
}

func (d *Dispatcher) invokeStory(ctx context.Context, tenantID, op string, params map[string]interface{}) (map[string]interface{}, error) {
	id := stringParam(params, "id")

	switch op {
	case OpGet:
		item, err := d.platform.Story.Get(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		return itemOutput(item), nil
	case OpUpdateStatus:
		return nil, d.platform.Story.UpdateStatus(ctx, tenantID, id, stringParam(params, "status"))
	case OpAssign:
		return nil, d.platform.Story.Assign(ctx, tenantID, id, stringParam(params, "assignee"))
	case OpSplit:
		item, err := d.platform.Story.Split(ctx, tenantID, id, stringParam(params, "title"))
		if err != nil {
			return nil, err
		}
		return itemOutput(item), nil
	case OpMoveToSprint:
		return nil, d.platform.Story.MoveToSprint(ctx, tenantID, id, stringParam(params, "sprint_id"))
	case OpBulkUpdateStatus:
		changed, err := d.platform.Story.BulkUpdateStatus(ctx, tenantID, id, stringParam(params, "status"))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"changed_ids": changed, "changed_count": len(changed)}, nil
	case OpDelete:
		return nil, d.platform.Story.Delete(ctx, tenantID, id)
	}
	return nil, errors.NewValidationError(fmt.Sprintf("story port has no operation %q", op))
}

func (d *Dispatcher) invokeTask(ctx context.Context, tenantID, op string, params map[string]interface{}) (map[string]interface{}, error) {
	id := stringParam(params, "id")

	switch op {
	case OpGet:
		item, err := d.platform.Task.Get(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		return itemOutput(item), nil
	case OpCreate:
		created, err := d.platform.Task.Create(ctx, tenantID, Item{
			Title:    stringParam(params, "title"),
			Status:   stringParam(params, "status"),
			Assignee: stringParam(params, "assignee"),
			ParentID: stringParam(params, "parent_id"),
		})
		if err != nil {
			return nil, err
		}
		return itemOutput(created), nil
	case OpUpdateStatus:
		return nil, d.platform.Task.UpdateStatus(ctx, tenantID, id, stringParam(params, "status"))
	case OpAssign:
		return nil, d.platform.Task.Assign(ctx, tenantID, id, stringParam(params, "assignee"))
	case OpMoveToSprint:
		return nil, d.platform.Task.MoveToSprint(ctx, tenantID, id, stringParam(params, "sprint_id"))
	case OpDelete:
		return nil, d.platform.Task.Delete(ctx, tenantID, id)
	}
	return nil, errors.NewValidationError(fmt.Sprintf("task port has no operation %q", op))
}

func (d *Dispatcher) invokeSprint(ctx context.Context, tenantID, op string, params map[string]interface{}) (map[string]interface{}, error) {
	id := stringParam(params, "id")

	switch op {
	case OpGet:
		sprint, err := d.platform.Sprint.Get(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		return sprintOutput(sprint), nil
	case OpStart:
		return nil, d.platform.Sprint.Start(ctx, tenantID, id)
	case OpClose:
		moved, err := d.platform.Sprint.Close(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"moved_ids": moved, "moved_count": len(moved)}, nil
	}
	return nil, errors.NewValidationError(fmt.Sprintf("sprint port has no operation %q", op))
}

func (d *Dispatcher) invokeNotify(ctx context.Context, tenantID, op string, params map[string]interface{}) (map[string]interface{}, error) {
	if op != OpNotify {
		return nil, errors.NewValidationError(fmt.Sprintf("notify port has no operation %q", op))
	}

	event := Event{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Kind:       stringParam(params, "kind"),
		Subject:    stringParam(params, "subject"),
		Message:    stringParam(params, "message"),
		EntityID:   stringParam(params, "entity_id"),
		EntityType: stringParam(params, "entity_type"),
		OccurredAt: time.Now().UTC(),
	}
	if err := d.platform.Notifier.Notify(ctx, event); err != nil {
		return nil, err
	}
	return map[string]interface{}{"event_id": event.ID}, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func itemOutput(item *Item) map[string]interface{} {
	return map[string]interface{}{
		"id":        item.ID,
		"title":     item.Title,
		"status":    item.Status,
		"assignee":  item.Assignee,
		"sprint_id": item.SprintID,
	}
}

func sprintOutput(sprint *Sprint) map[string]interface{} {
	return map[string]interface{}{
		"id":     sprint.ID,
		"name":   sprint.Name,
		"status": sprint.Status,
	}
}
