// internal/assistant/build-draft/builder_test.go
package builddraft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/models"
	"sprint-assistant/internal/ports"
	"sprint-assistant/pkg/catalog"
)

const testTenant = "tenant-a"

func newTestBuilder(t *testing.T) (*Builder, *ports.MemoryPlatform) {
	t.Helper()
	mem := ports.NewMemoryPlatform()
	b := NewBuilder(catalog.Default(), mem.Wire(), logger.NewTestLogger(t))
	return b, mem
}

func seedStory(mem *ports.MemoryPlatform, id, title, status string) {
	mem.SeedItem("story", ports.Item{
		ID: id, TenantID: testTenant, Title: title, Status: status,
		Assignee: "dana", SprintID: "sprint-1", UpdatedAt: time.Now(),
	})
}

func candidate(id, title string, kind models.EntityType) models.EntityCandidate {
	return models.EntityCandidate{ID: id, TenantID: testTenant, Title: title, EntityType: kind}
}

func intent(typ models.IntentType, slots map[string]string) *models.ParsedIntent {
	return &models.ParsedIntent{Type: typ, Slots: slots, SourceConfidence: 0.9, Origin: models.OriginLLM}
}

func TestBuildMarkComplete(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "login flow", "in_progress")

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentMarkComplete, nil), candidate("s1", "login flow", models.EntityStory))
	require.NoError(t, err)

	assert.Equal(t, models.IntentMarkComplete, draft.ActionType)
	assert.Equal(t, "s1", draft.TargetEntityID)
	assert.Equal(t, models.RiskLow, draft.RiskLevel)
	assert.False(t, draft.RequiresConfirmation)
	require.Len(t, draft.Steps, 3)

	check, change, notify := draft.Steps[0], draft.Steps[1], draft.Steps[2]
	assert.Equal(t, models.StepValidation, check.Kind)
	assert.Equal(t, ports.OpUpdateStatus, change.Op)
	assert.Equal(t, ports.StatusDone, change.Params["status"])
	assert.Equal(t, []string{check.ID}, change.DependsOn)
	require.NotNil(t, change.Compensation)
	assert.Equal(t, "in_progress", change.Compensation.Params["status"])
	assert.Equal(t, models.StepNotify, notify.Kind)
	assert.True(t, notify.CanSkip)
}

func TestBuildMarkCompleteAlreadyDoneIsNoOp(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "login flow", ports.StatusDone)

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentMarkComplete, nil), candidate("s1", "login flow", models.EntityStory))
	require.NoError(t, err)

	change := draft.Steps[1]
	assert.True(t, change.CanSkip)
	assert.True(t, change.Idempotent)
	assert.Nil(t, change.Compensation)
	assert.NotEmpty(t, draft.PotentialIssues)
}

func TestBuildUpdateStatusRequiresStatusSlot(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "login flow", "todo")

	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentUpdateStatus, nil), candidate("s1", "login flow", models.EntityStory))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}

func TestBuildAssignCompensationRestoresPreviousAssignee(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "login flow", "todo")

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentAssignItem, map[string]string{models.SlotAssignee: "mara"}),
		candidate("s1", "login flow", models.EntityStory))
	require.NoError(t, err)

	assign := draft.Steps[1]
	assert.Equal(t, ports.OpAssign, assign.Op)
	assert.Equal(t, "mara", assign.Params["assignee"])
	require.NotNil(t, assign.Compensation)
	assert.Equal(t, "dana", assign.Compensation.Params["assignee"])

	notify := draft.Steps[2]
	assert.Equal(t, "assignment", notify.Params["kind"])
}

func TestBuildCreateTaskWithoutParent(t *testing.T) {
	b, _ := newTestBuilder(t)

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentCreateTask, map[string]string{models.SlotTitle: "write docs"}),
		models.EntityCandidate{})
	require.NoError(t, err)

	require.Len(t, draft.Steps, 1)
	create := draft.Steps[0]
	assert.Equal(t, ports.OpCreate, create.Op)
	assert.Equal(t, "write docs", create.Params["title"])
	assert.NotContains(t, create.Params, "parent_id")
	require.NotNil(t, create.Compensation)
	assert.Equal(t, OutputRef+"id", create.Compensation.Params["id"])
}

func TestBuildCreateTaskUnderParentStory(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "login flow", "in_progress")

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentCreateTask, map[string]string{models.SlotTitle: "add tests"}),
		candidate("s1", "login flow", models.EntityStory))
	require.NoError(t, err)

	require.Len(t, draft.Steps, 2)
	assert.Equal(t, models.StepValidation, draft.Steps[0].Kind)
	assert.Equal(t, "s1", draft.Steps[1].Params["parent_id"])
}

func TestBuildCreateTaskRejectsTaskParent(t *testing.T) {
	b, mem := newTestBuilder(t)
	mem.SeedItem("task", ports.Item{ID: "t1", TenantID: testTenant, Title: "subtask", Status: "todo"})

	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentCreateTask, map[string]string{models.SlotTitle: "x"}),
		candidate("t1", "subtask", models.EntityTask))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}

func TestBuildSplitStory(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "checkout", "in_progress")

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentSplitStory, nil), candidate("s1", "checkout", models.EntityStory))
	require.NoError(t, err)

	assert.Equal(t, models.RiskMedium, draft.RiskLevel)
	assert.True(t, draft.RequiresConfirmation)
	split := draft.Steps[1]
	assert.Equal(t, ports.OpSplit, split.Op)
	assert.Equal(t, "checkout (split)", split.Params["title"])
	require.NotNil(t, split.Compensation)
	assert.Equal(t, ports.OpDelete, split.Compensation.Op)
	assert.Equal(t, OutputRef+"id", split.Compensation.Params["id"])
}

func TestBuildSplitStoryRejectsDoneStory(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "checkout", ports.StatusDone)

	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentSplitStory, nil), candidate("s1", "checkout", models.EntityStory))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}

func TestBuildMoveToSprintResolvesSprintByName(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "checkout", "todo")
	mem.SeedSprint(ports.Sprint{ID: "sp9", TenantID: testTenant, Name: "Sprint 9", Status: ports.SprintPlanned})

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentMoveToSprint, map[string]string{models.SlotSprint: "Sprint 9"}),
		candidate("s1", "checkout", models.EntityStory))
	require.NoError(t, err)

	assert.Equal(t, "sp9", draft.Parameters["sprint_id"])
	move := draft.Steps[1]
	assert.Equal(t, "sp9", move.Params["sprint_id"])
	require.NotNil(t, move.Compensation)
	assert.Equal(t, "sprint-1", move.Compensation.Params["sprint_id"])
}

func TestBuildMoveToSprintUnknownSprint(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "checkout", "todo")

	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentMoveToSprint, map[string]string{models.SlotSprint: "Sprint 99"}),
		candidate("s1", "checkout", models.EntityStory))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}

func TestBuildMoveToClosedSprintRejected(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "checkout", "todo")
	mem.SeedSprint(ports.Sprint{ID: "sp1", TenantID: testTenant, Name: "Sprint 1", Status: ports.SprintClosed})

	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentMoveToSprint, map[string]string{models.SlotSprint: "Sprint 1"}),
		candidate("s1", "checkout", models.EntityStory))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}

func TestBuildBulkUpdateHasNoCompensation(t *testing.T) {
	b, mem := newTestBuilder(t)
	seedStory(mem, "s1", "checkout", "in_progress")

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentBulkUpdateStatus, map[string]string{models.SlotStatus: "done"}),
		candidate("s1", "checkout", models.EntityStory))
	require.NoError(t, err)

	assert.Equal(t, models.RiskMedium, draft.RiskLevel)
	bulk := draft.Steps[1]
	assert.Equal(t, ports.OpBulkUpdateStatus, bulk.Op)
	assert.Nil(t, bulk.Compensation)
	assert.NotEmpty(t, draft.PotentialIssues)
}

func TestBuildStartSprint(t *testing.T) {
	b, mem := newTestBuilder(t)
	mem.SeedSprint(ports.Sprint{ID: "sp2", TenantID: testTenant, Name: "Sprint 2", Status: ports.SprintPlanned})

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentStartSprint, nil), candidate("sp2", "Sprint 2", models.EntitySprint))
	require.NoError(t, err)

	assert.Equal(t, models.RiskMedium, draft.RiskLevel)
	assert.True(t, draft.RequiresConfirmation)
	assert.Equal(t, ports.OpStart, draft.Steps[1].Op)
}

func TestBuildStartSprintAlreadyActiveIsNoOp(t *testing.T) {
	b, mem := newTestBuilder(t)
	mem.SeedSprint(ports.Sprint{ID: "sp2", TenantID: testTenant, Name: "Sprint 2", Status: ports.SprintActive})

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentStartSprint, nil), candidate("sp2", "Sprint 2", models.EntitySprint))
	require.NoError(t, err)
	assert.True(t, draft.Steps[1].CanSkip)
}

func TestBuildCloseSprintAlreadyClosedRejected(t *testing.T) {
	b, mem := newTestBuilder(t)
	mem.SeedSprint(ports.Sprint{ID: "sp2", TenantID: testTenant, Name: "Sprint 2", Status: ports.SprintClosed})

	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentCloseSprint, nil), candidate("sp2", "Sprint 2", models.EntitySprint))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}

func TestBuildCloseSprintIsHighRisk(t *testing.T) {
	b, mem := newTestBuilder(t)
	mem.SeedSprint(ports.Sprint{ID: "sp2", TenantID: testTenant, Name: "Sprint 2", Status: ports.SprintActive})

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentCloseSprint, nil), candidate("sp2", "Sprint 2", models.EntitySprint))
	require.NoError(t, err)

	assert.Equal(t, models.RiskHigh, draft.RiskLevel)
	assert.True(t, draft.RequiresConfirmation)
	assert.Nil(t, draft.Steps[1].Compensation)
}

func TestBuildDeleteItem(t *testing.T) {
	b, mem := newTestBuilder(t)
	mem.SeedItem("task", ports.Item{ID: "t1", TenantID: testTenant, Title: "old task", Status: "todo"})

	draft, err := b.Build(context.Background(), testTenant,
		intent(models.IntentDeleteItem, nil), candidate("t1", "old task", models.EntityTask))
	require.NoError(t, err)

	assert.Equal(t, models.RiskHigh, draft.RiskLevel)
	assert.True(t, draft.RequiresConfirmation)
	del := draft.Steps[1]
	assert.Equal(t, models.PortTask, del.Port)
	assert.Equal(t, ports.OpDelete, del.Op)
	assert.Nil(t, del.Compensation)
}

func TestBuildRejectsCrossTenantTarget(t *testing.T) {
	b, _ := newTestBuilder(t)

	other := models.EntityCandidate{ID: "s1", TenantID: "tenant-b", Title: "x", EntityType: models.EntityStory}
	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentMarkComplete, nil), other)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTenantIsolationViolation, errors.From(err).Code)
}

func TestBuildRejectsMissingTarget(t *testing.T) {
	b, _ := newTestBuilder(t)

	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentMarkComplete, nil), models.EntityCandidate{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}

func TestBuildRejectsWrongEntityKind(t *testing.T) {
	b, mem := newTestBuilder(t)
	mem.SeedSprint(ports.Sprint{ID: "sp1", TenantID: testTenant, Name: "Sprint 1", Status: ports.SprintActive})

	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentMarkComplete, nil), candidate("sp1", "Sprint 1", models.EntitySprint))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}

func TestBuildMissingEntityFailsValidation(t *testing.T) {
	b, _ := newTestBuilder(t)

	_, err := b.Build(context.Background(), testTenant,
		intent(models.IntentMarkComplete, nil), candidate("ghost", "ghost", models.EntityStory))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationError, errors.From(err).Code)
}
