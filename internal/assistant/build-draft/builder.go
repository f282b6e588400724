// internal/assistant/build-draft/builder.go
package builddraft

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/models"
	"sprint-assistant/internal/ports"
	"sprint-assistant/pkg/catalog"
)

// Builder turns a resolved intent into a reviewable ActionDraft: ordered
// steps, static risk from the catalog, compensations attached at build
// time, and human-readable reasoning. Validation reads the target's
// current state through the ports but never mutates anything.
type Builder struct {
	catalog  *catalog.ActionCatalog
	platform *ports.Platform
	logger   logger.Logger
}

func NewBuilder(cat *catalog.ActionCatalog, platform *ports.Platform, log logger.Logger) *Builder {
	return &Builder{
		catalog:  cat,
		platform: platform,
		logger:   log.WithFields(map[string]interface{}{"component": "draft-builder"}),
	}
}

// OutputRef marks a compensation parameter to be filled from the step's
// runtime output (e.g. the id of a created item) before the compensation
// runs.
const OutputRef = "$output."

// Build validates the intent against the target's current state and emits
// the draft. Impossible actions fail with VALIDATION_ERROR here, before
// anything executes; already-in-target-state actions become idempotent
// no-op steps instead of errors.
func (b *Builder) Build(ctx context.Context, tenantID string, intent *models.ParsedIntent, target models.EntityCandidate) (*models.ActionDraft, error) {
	if tenantID == "" {
		return nil, errors.NewTenantIsolationViolationError("draft requested without tenant id")
	}
	if target.ID != "" && target.TenantID != tenantID {
		return nil, errors.NewTenantIsolationViolationError(
			fmt.Sprintf("target %s belongs to another tenant", target.ID))
	}

	entry, ok := b.catalog.Lookup(intent.Type)
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown action type %q", intent.Type))
	}
	if !entry.Enabled {
		return nil, errors.NewValidationError(fmt.Sprintf("action %q is disabled", intent.Type))
	}

	if err := checkRequiredSlots(entry, intent, target); err != nil {
		return nil, err
	}
	if target.ID != "" && !kindAllowed(entry, target.EntityType) {
		return nil, errors.NewValidationError(fmt.Sprintf(
			"action %q cannot target a %s", intent.Type, target.EntityType))
	}

	draft := &models.ActionDraft{
		ActionType:     intent.Type,
		TargetEntityID: target.ID,
		Parameters:     map[string]interface{}{},
		RiskLevel:      b.catalog.RiskOf(intent.Type),
	}

	var err error
	switch intent.Type {
	case models.IntentMarkComplete:
		err = b.buildStatusChange(ctx, tenantID, draft, intent, target, ports.StatusDone, true)
	case models.IntentUpdateStatus:
		err = b.buildStatusChange(ctx, tenantID, draft, intent, target, intent.Slot(models.SlotStatus), false)
	case models.IntentAssignItem:
		err = b.buildAssign(ctx, tenantID, draft, intent, target)
	case models.IntentCreateTask:
		err = b.buildCreateTask(ctx, tenantID, draft, intent, target)
	case models.IntentSplitStory:
		err = b.buildSplitStory(ctx, tenantID, draft, intent, target)
	case models.IntentMoveToSprint:
		err = b.buildMoveToSprint(ctx, tenantID, draft, intent, target)
	case models.IntentBulkUpdateStatus:
		err = b.buildBulkUpdate(ctx, tenantID, draft, intent, target)
	case models.IntentStartSprint:
		err = b.buildStartSprint(ctx, tenantID, draft, target)
	case models.IntentCloseSprint:
		err = b.buildCloseSprint(ctx, tenantID, draft, target)
	case models.IntentDeleteItem:
		err = b.buildDelete(ctx, tenantID, draft, target)
	default:
		err = errors.NewValidationError(fmt.Sprintf("no plan template for action %q", intent.Type))
	}
	if err != nil {
		return nil, err
	}

	// Risk above low always forces confirmation; the boundary additionally
	// forces it for any non-Resolved disambiguation state.
	draft.RequiresConfirmation = draft.RiskLevel.Exceeds(models.RiskLow)

	return draft, nil
}

// --- Plan templates per action ---

func (b *Builder) buildStatusChange(ctx context.Context, tenantID string, draft *models.ActionDraft, intent *models.ParsedIntent, target models.EntityCandidate, status string, notify bool) error {
	if status == "" {
		return errors.NewValidationError("no target status given")
	}

	item, err := b.getItem(ctx, tenantID, target)
	if err != nil {
		return err
	}

	port := itemPort(target.EntityType)
	draft.Parameters["status"] = status

	check := validationStep(port, target.ID, fmt.Sprintf("Verify %s %q exists and accepts status %q", target.EntityType, target.Title, status))

	change := models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepAPICall,
		Description: fmt.Sprintf("Set %s %q status to %q", target.EntityType, target.Title, status),
		Port:        port,
		Op:          ports.OpUpdateStatus,
		Params:      map[string]interface{}{"id": target.ID, "status": status},
		DependsOn:   []string{check.ID},
		Compensation: &models.CompensationSpec{
			Port:        port,
			Op:          ports.OpUpdateStatus,
			Params:      map[string]interface{}{"id": target.ID, "status": item.Status},
			Description: fmt.Sprintf("Restore previous status %q", item.Status),
		},
	}

	if item.Status == status {
		// Already in the target state: keep the step for the audit trail
		// but let execution skip it.
		change.CanSkip = true
		change.Idempotent = true
		change.Description += " (already in this status, no-op)"
		change.Compensation = nil
		draft.PotentialIssues = append(draft.PotentialIssues,
			fmt.Sprintf("%q is already %q; the change is a no-op", target.Title, status))
	}

	draft.Steps = []models.ActionStep{check, change}
	draft.Reasoning = fmt.Sprintf("Change the status of %s %q from %q to %q.",
		target.EntityType, target.Title, item.Status, status)

	if notify {
		draft.Steps = append(draft.Steps, notifyStep(change.ID, "status_change",
			fmt.Sprintf("%s completed", target.Title),
			fmt.Sprintf("%s %q was marked %s", target.EntityType, target.Title, status),
			target))
	}
	return nil
}

func (b *Builder) buildAssign(ctx context.Context, tenantID string, draft *models.ActionDraft, intent *models.ParsedIntent, target models.EntityCandidate) error {
	assignee := intent.Slot(models.SlotAssignee)

	item, err := b.getItem(ctx, tenantID, target)
	if err != nil {
		return err
	}

	port := itemPort(target.EntityType)
	draft.Parameters["assignee"] = assignee

	check := validationStep(port, target.ID, fmt.Sprintf("Verify %s %q exists", target.EntityType, target.Title))

	assign := models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepAPICall,
		Description: fmt.Sprintf("Assign %s %q to %s", target.EntityType, target.Title, assignee),
		Port:        port,
		Op:          ports.OpAssign,
		Params:      map[string]interface{}{"id": target.ID, "assignee": assignee},
		DependsOn:   []string{check.ID},
		Compensation: &models.CompensationSpec{
			Port:        port,
			Op:          ports.OpAssign,
			Params:      map[string]interface{}{"id": target.ID, "assignee": item.Assignee},
			Description: fmt.Sprintf("Restore previous assignee %q", item.Assignee),
		},
	}

	if item.Assignee == assignee {
		assign.CanSkip = true
		assign.Idempotent = true
		assign.Description += " (already assigned, no-op)"
		assign.Compensation = nil
		draft.PotentialIssues = append(draft.PotentialIssues,
			fmt.Sprintf("%q is already assigned to %s", target.Title, assignee))
	}

	draft.Steps = []models.ActionStep{check, assign,
		notifyStep(assign.ID, "assignment",
			fmt.Sprintf("%s assigned to you", target.Title),
			fmt.Sprintf("%s %q was assigned to %s", target.EntityType, target.Title, assignee),
			target)}
	draft.Reasoning = fmt.Sprintf("Assign %s %q to %s (previously %s).",
		target.EntityType, target.Title, assignee, orNone(item.Assignee))
	return nil
}

func (b *Builder) buildCreateTask(ctx context.Context, tenantID string, draft *models.ActionDraft, intent *models.ParsedIntent, target models.EntityCandidate) error {
	title := intent.Slot(models.SlotTitle)
	draft.Parameters["title"] = title

	var steps []models.ActionStep
	createParams := map[string]interface{}{"title": title}
	if assignee := intent.Slot(models.SlotAssignee); assignee != "" {
		createParams["assignee"] = assignee
	}

	reason := fmt.Sprintf("Create a new task %q.", title)

	// When the utterance referenced a parent story, it resolved as the
	// target; the task is created under it.
	if target.ID != "" {
		if target.EntityType != models.EntityStory {
			return errors.NewValidationError("a new task can only be parented under a story")
		}
		if _, err := b.platform.Story.Get(ctx, tenantID, target.ID); err != nil {
			return validationFailed("parent story", target.ID, err)
		}
		check := validationStep(models.PortStory, target.ID, fmt.Sprintf("Verify parent story %q exists", target.Title))
		createParams["parent_id"] = target.ID
		steps = append(steps, check)
		reason = fmt.Sprintf("Create a new task %q under story %q.", title, target.Title)
	}

	create := models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepAPICall,
		Description: fmt.Sprintf("Create task %q", title),
		Port:        models.PortTask,
		Op:          ports.OpCreate,
		Params:      createParams,
		Compensation: &models.CompensationSpec{
			Port:        models.PortTask,
			Op:          ports.OpDelete,
			Params:      map[string]interface{}{"id": OutputRef + "id"},
			Description: "Delete the created task",
		},
	}
	if len(steps) > 0 {
		create.DependsOn = []string{steps[0].ID}
	}
	steps = append(steps, create)

	draft.Steps = steps
	draft.Reasoning = reason
	return nil
}

func (b *Builder) buildSplitStory(ctx context.Context, tenantID string, draft *models.ActionDraft, intent *models.ParsedIntent, target models.EntityCandidate) error {
	story, err := b.platform.Story.Get(ctx, tenantID, target.ID)
	if err != nil {
		return validationFailed("story", target.ID, err)
	}
	if story.Status == ports.StatusDone {
		return errors.NewValidationError(fmt.Sprintf("story %q is already done; nothing to split", target.Title))
	}

	newTitle := intent.Slot(models.SlotTitle)
	if newTitle == "" {
		newTitle = fmt.Sprintf("%s (split)", story.Title)
	}
	draft.Parameters["title"] = newTitle

	check := validationStep(models.PortStory, target.ID, fmt.Sprintf("Verify story %q is splittable", target.Title))

	split := models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepAPICall,
		Description: fmt.Sprintf("Split story %q, moving remaining criteria to %q", target.Title, newTitle),
		Port:        models.PortStory,
		Op:          ports.OpSplit,
		Params:      map[string]interface{}{"id": target.ID, "title": newTitle},
		DependsOn:   []string{check.ID},
		Compensation: &models.CompensationSpec{
			Port:        models.PortStory,
			Op:          ports.OpDelete,
			Params:      map[string]interface{}{"id": OutputRef + "id"},
			Description: "Delete the split-off story",
		},
	}

	draft.Steps = []models.ActionStep{check, split,
		notifyStep(split.ID, "story_split",
			fmt.Sprintf("%s was split", target.Title),
			fmt.Sprintf("Story %q was split; remaining work moved to %q", target.Title, newTitle),
			target)}
	draft.Reasoning = fmt.Sprintf("Split story %q into a follow-up story %q carrying the unfinished criteria.",
		target.Title, newTitle)
	draft.PotentialIssues = append(draft.PotentialIssues,
		"Acceptance criteria links move to the new story and are not restored automatically on rollback")
	return nil
}

func (b *Builder) buildMoveToSprint(ctx context.Context, tenantID string, draft *models.ActionDraft, intent *models.ParsedIntent, target models.EntityCandidate) error {
	sprintName := intent.Slot(models.SlotSprint)

	item, err := b.getItem(ctx, tenantID, target)
	if err != nil {
		return err
	}

	sprint, err := b.platform.Sprint.FindByName(ctx, tenantID, sprintName)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("no sprint named %q", sprintName))
	}
	if sprint.Status == ports.SprintClosed {
		return errors.NewValidationError(fmt.Sprintf("sprint %q is closed", sprint.Name))
	}

	port := itemPort(target.EntityType)
	draft.Parameters["sprint_id"] = sprint.ID
	draft.Parameters["sprint_name"] = sprint.Name

	check := validationStep(port, target.ID, fmt.Sprintf("Verify %s %q and sprint %q", target.EntityType, target.Title, sprint.Name))

	move := models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepAPICall,
		Description: fmt.Sprintf("Move %s %q into sprint %q", target.EntityType, target.Title, sprint.Name),
		Port:        port,
		Op:          ports.OpMoveToSprint,
		Params:      map[string]interface{}{"id": target.ID, "sprint_id": sprint.ID},
		DependsOn:   []string{check.ID},
		Compensation: &models.CompensationSpec{
			Port:        port,
			Op:          ports.OpMoveToSprint,
			Params:      map[string]interface{}{"id": target.ID, "sprint_id": item.SprintID},
			Description: "Move the item back to its previous sprint",
		},
	}

	if item.SprintID == sprint.ID {
		move.CanSkip = true
		move.Idempotent = true
		move.Description += " (already there, no-op)"
		move.Compensation = nil
		draft.PotentialIssues = append(draft.PotentialIssues,
			fmt.Sprintf("%q is already in sprint %q", target.Title, sprint.Name))
	}

	draft.Steps = []models.ActionStep{check, move,
		notifyStep(move.ID, "sprint_move",
			fmt.Sprintf("%s moved to %s", target.Title, sprint.Name),
			fmt.Sprintf("%s %q is now in sprint %q", target.EntityType, target.Title, sprint.Name),
			target)}
	draft.Reasoning = fmt.Sprintf("Move %s %q into sprint %q.", target.EntityType, target.Title, sprint.Name)
	return nil
}

func (b *Builder) buildBulkUpdate(ctx context.Context, tenantID string, draft *models.ActionDraft, intent *models.ParsedIntent, target models.EntityCandidate) error {
	status := intent.Slot(models.SlotStatus)
	if status == "" {
		return errors.NewValidationError("no target status given")
	}
	if target.EntityType != models.EntityStory {
		return errors.NewValidationError("bulk status changes target a story's tasks")
	}

	if _, err := b.platform.Story.Get(ctx, tenantID, target.ID); err != nil {
		return validationFailed("story", target.ID, err)
	}

	draft.Parameters["status"] = status

	check := validationStep(models.PortStory, target.ID, fmt.Sprintf("Verify story %q exists", target.Title))

	bulk := models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepAPICall,
		Description: fmt.Sprintf("Set every task under %q to %q", target.Title, status),
		Port:        models.PortStory,
		Op:          ports.OpBulkUpdateStatus,
		Params:      map[string]interface{}{"id": target.ID, "status": status},
		DependsOn:   []string{check.ID},
	}

	draft.Steps = []models.ActionStep{check, bulk}
	draft.Reasoning = fmt.Sprintf("Set the status of every task under story %q to %q.", target.Title, status)
	draft.PotentialIssues = append(draft.PotentialIssues,
		"Bulk changes overwrite each task's individual status and cannot be automatically reverted")
	return nil
}

func (b *Builder) buildStartSprint(ctx context.Context, tenantID string, draft *models.ActionDraft, target models.EntityCandidate) error {
	sprint, err := b.platform.Sprint.Get(ctx, tenantID, target.ID)
	if err != nil {
		return validationFailed("sprint", target.ID, err)
	}
	if sprint.Status == ports.SprintClosed {
		return errors.NewValidationError(fmt.Sprintf("sprint %q is closed and cannot be started", sprint.Name))
	}

	check := validationStep(models.PortSprint, target.ID, fmt.Sprintf("Verify sprint %q can start", sprint.Name))

	start := models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepAPICall,
		Description: fmt.Sprintf("Start sprint %q", sprint.Name),
		Port:        models.PortSprint,
		Op:          ports.OpStart,
		Params:      map[string]interface{}{"id": target.ID},
		DependsOn:   []string{check.ID},
	}
	if sprint.Status == ports.SprintActive {
		start.CanSkip = true
		start.Idempotent = true
		start.Description += " (already active, no-op)"
		draft.PotentialIssues = append(draft.PotentialIssues,
			fmt.Sprintf("Sprint %q is already active", sprint.Name))
	}

	draft.Steps = []models.ActionStep{check, start,
		notifyStep(start.ID, "sprint_started",
			fmt.Sprintf("Sprint %s started", sprint.Name),
			fmt.Sprintf("Sprint %q is now active", sprint.Name),
			target)}
	draft.Reasoning = fmt.Sprintf("Activate sprint %q.", sprint.Name)
	return nil
}

func (b *Builder) buildCloseSprint(ctx context.Context, tenantID string, draft *models.ActionDraft, target models.EntityCandidate) error {
	sprint, err := b.platform.Sprint.Get(ctx, tenantID, target.ID)
	if err != nil {
		return validationFailed("sprint", target.ID, err)
	}
	if sprint.Status == ports.SprintClosed {
		return errors.NewValidationError(fmt.Sprintf("sprint %q is already closed", sprint.Name))
	}

	check := validationStep(models.PortSprint, target.ID, fmt.Sprintf("Verify sprint %q can close", sprint.Name))

	closeStep := models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepAPICall,
		Description: fmt.Sprintf("Close sprint %q, rolling incomplete items back to the backlog", sprint.Name),
		Port:        models.PortSprint,
		Op:          ports.OpClose,
		Params:      map[string]interface{}{"id": target.ID},
		DependsOn:   []string{check.ID},
	}

	draft.Steps = []models.ActionStep{check, closeStep,
		notifyStep(closeStep.ID, "sprint_closed",
			fmt.Sprintf("Sprint %s closed", sprint.Name),
			fmt.Sprintf("Sprint %q was closed; unfinished items returned to the backlog", sprint.Name),
			target)}
	draft.Reasoning = fmt.Sprintf("Close sprint %q. Incomplete stories and tasks move back to the backlog.", sprint.Name)
	draft.PotentialIssues = append(draft.PotentialIssues,
		"Closing a sprint cannot be undone; items moved to the backlog keep their new state")
	return nil
}

func (b *Builder) buildDelete(ctx context.Context, tenantID string, draft *models.ActionDraft, target models.EntityCandidate) error {
	item, err := b.getItem(ctx, tenantID, target)
	if err != nil {
		return err
	}

	port := itemPort(target.EntityType)

	check := validationStep(port, target.ID, fmt.Sprintf("Verify %s %q exists", target.EntityType, target.Title))

	del := models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepAPICall,
		Description: fmt.Sprintf("Delete %s %q", target.EntityType, target.Title),
		Port:        port,
		Op:          ports.OpDelete,
		Params:      map[string]interface{}{"id": target.ID},
		DependsOn:   []string{check.ID},
	}

	draft.Steps = []models.ActionStep{check, del,
		notifyStep(del.ID, "item_deleted",
			fmt.Sprintf("%s deleted", target.Title),
			fmt.Sprintf("%s %q (status %s) was deleted", target.EntityType, target.Title, item.Status),
			target)}
	draft.Reasoning = fmt.Sprintf("Permanently delete %s %q.", target.EntityType, target.Title)
	draft.PotentialIssues = append(draft.PotentialIssues,
		"Deletion is irreversible; no compensation is defined for it")
	return nil
}

// --- Helpers ---

func (b *Builder) getItem(ctx context.Context, tenantID string, target models.EntityCandidate) (*ports.Item, error) {
	var (
		item *ports.Item
		err  error
	)
	switch target.EntityType {
	case models.EntityStory:
		item, err = b.platform.Story.Get(ctx, tenantID, target.ID)
	case models.EntityTask:
		item, err = b.platform.Task.Get(ctx, tenantID, target.ID)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("cannot read entity type %q", target.EntityType))
	}
	if err != nil {
		return nil, validationFailed(string(target.EntityType), target.ID, err)
	}
	return item, nil
}

func validationFailed(kind, id string, err error) error {
	stdErr := errors.From(err)
	if stdErr.Retryable {
		// Transient downstream trouble is not a verdict about the draft.
		return stdErr
	}
	return errors.NewValidationError(fmt.Sprintf("%s %s could not be validated: %s", kind, id, stdErr.Details))
}

func checkRequiredSlots(entry catalog.Action, intent *models.ParsedIntent, target models.EntityCandidate) error {
	for _, slot := range entry.RequiredSlots {
		if slot == models.SlotEntity {
			if target.ID == "" && intent.Type != models.IntentCreateTask {
				return errors.NewValidationError("no target entity selected")
			}
			continue
		}
		if intent.Slot(slot) == "" {
			return errors.NewValidationError(fmt.Sprintf("missing required slot %q", slot))
		}
	}
	return nil
}

func kindAllowed(entry catalog.Action, kind models.EntityType) bool {
	for _, allowed := range entry.EntityKinds {
		if allowed == string(kind) {
			return true
		}
	}
	return false
}

func itemPort(kind models.EntityType) string {
	if kind == models.EntityStory {
		return models.PortStory
	}
	return models.PortTask
}

func validationStep(port, id, description string) models.ActionStep {
	return models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepValidation,
		Description: description,
		Port:        port,
		Op:          ports.OpGet,
		Params:      map[string]interface{}{"id": id},
		Idempotent:  true,
	}
}

func notifyStep(dependsOn, kind, subject, message string, target models.EntityCandidate) models.ActionStep {
	return models.ActionStep{
		ID:          uuid.NewString(),
		Kind:        models.StepNotify,
		Description: "Notify watchers: " + subject,
		Port:        models.PortNotify,
		Op:          ports.OpNotify,
		Params: map[string]interface{}{
			"kind":        kind,
			"subject":     subject,
			"message":     message,
			"entity_id":   target.ID,
			"entity_type": string(target.EntityType),
		},
		DependsOn: []string{dependsOn},
		CanSkip:   true,
	}
}

func orNone(s string) string {
	if s == "" {
		return "nobody"
	}
	return s
}
