// internal/ports/memory.go
package ports

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/models"
)

// In-memory platform used in memory mode and tests. Every mutating call is
// recorded so tests can assert what ran and in which order.

// Call is one recorded port invocation.
type Call struct {
	Port string
	Op   string
	ID   string
	Arg  string
}

// MemoryPlatform holds the fake downstream state behind all four ports.
type MemoryPlatform struct {
	mu      sync.Mutex
	items   map[string]*Item   // key tenant|id, stories and tasks together
	kinds   map[string]string  // key tenant|id -> "story"|"task"
	sprints map[string]*Sprint // key tenant|id
	calls   []Call
	events  []Event

	// FailOn aborts matching mutating calls with a transient downstream
	// error. Key is "port.op" or "port.op:id".
	FailOn map[string]bool
}

func NewMemoryPlatform() *MemoryPlatform {
	return &MemoryPlatform{
		items:   make(map[string]*Item),
		kinds:   make(map[string]string),
		sprints: make(map[string]*Sprint),
		FailOn:  make(map[string]bool),
	}
}

// Wire returns a Platform view over the shared state.
func (m *MemoryPlatform) Wire() *Platform {
	return &Platform{
		Story:    &memoryStoryService{m},
		Task:     &memoryTaskService{m},
		Sprint:   &memorySprintService{m},
		Notifier: &memoryNotifier{m},
	}
}

func key(tenantID, id string) string { return tenantID + "|" + id }

// SeedItem inserts a story or task.
func (m *MemoryPlatform) SeedItem(kind string, item Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := item
	m.items[key(item.TenantID, item.ID)] = &copied
	m.kinds[key(item.TenantID, item.ID)] = kind
}

// SeedSprint inserts a sprint.
func (m *MemoryPlatform) SeedSprint(sprint Sprint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := sprint
	m.sprints[key(sprint.TenantID, sprint.ID)] = &copied
}

// Calls returns the recorded mutating calls in order.
func (m *MemoryPlatform) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Events returns the delivered notifications in order.
func (m *MemoryPlatform) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Item returns the current item state, for assertions.
func (m *MemoryPlatform) Item(tenantID, id string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key(tenantID, id)]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// SprintState returns the current sprint state, for assertions.
func (m *MemoryPlatform) SprintState(tenantID, id string) (Sprint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sprint, ok := m.sprints[key(tenantID, id)]
	if !ok {
		return Sprint{}, false
	}
	return *sprint, true
}

func (m *MemoryPlatform) record(port, op, id, arg string) error {
	m.calls = append(m.calls, Call{Port: port, Op: op, ID: id, Arg: arg})
	if m.FailOn[port+"."+op] || m.FailOn[port+"."+op+":"+id] {
		return errors.NewDownstreamServiceError(port, true, fmt.Errorf("injected failure for %s.%s", port, op))
	}
	return nil
}

func (m *MemoryPlatform) getItem(port, tenantID, id, wantKind string) (*Item, error) {
	item, ok := m.items[key(tenantID, id)]
	if !ok || m.kinds[key(tenantID, id)] != wantKind {
		return nil, errors.NewDownstreamServiceError(port, false,
			fmt.Errorf("%s %s not found for tenant %s", wantKind, id, tenantID))
	}
	return item, nil
}

// --- Story service ---

type memoryStoryService struct{ m *MemoryPlatform }

var _ StoryService = (*memoryStoryService)(nil)

func (s *memoryStoryService) Get(ctx context.Context, tenantID, id string) (*Item, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	item, err := s.m.getItem(models.PortStory, tenantID, id, "story")
	if err != nil {
		return nil, err
	}
	copied := *item
	return &copied, nil
}

func (s *memoryStoryService) UpdateStatus(ctx context.Context, tenantID, id, status string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortStory, OpUpdateStatus, id, status); err != nil {
		return err
	}
	item, err := s.m.getItem(models.PortStory, tenantID, id, "story")
	if err != nil {
		return err
	}
	item.Status = status
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStoryService) Assign(ctx context.Context, tenantID, id, assignee string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortStory, OpAssign, id, assignee); err != nil {
		return err
	}
	item, err := s.m.getItem(models.PortStory, tenantID, id, "story")
	if err != nil {
		return err
	}
	item.Assignee = assignee
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStoryService) Split(ctx context.Context, tenantID, id, newTitle string) (*Item, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortStory, OpSplit, id, newTitle); err != nil {
		return nil, err
	}
	if _, err := s.m.getItem(models.PortStory, tenantID, id, "story"); err != nil {
		return nil, err
	}
	created := &Item{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Title:     newTitle,
		Status:    StatusBacklog,
		UpdatedAt: time.Now().UTC(),
	}
	s.m.items[key(tenantID, created.ID)] = created
	s.m.kinds[key(tenantID, created.ID)] = "story"
	copied := *created
	return &copied, nil
}

func (s *memoryStoryService) MoveToSprint(ctx context.Context, tenantID, id, sprintID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortStory, OpMoveToSprint, id, sprintID); err != nil {
		return err
	}
	item, err := s.m.getItem(models.PortStory, tenantID, id, "story")
	if err != nil {
		return err
	}
	item.SprintID = sprintID
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStoryService) BulkUpdateStatus(ctx context.Context, tenantID, id, status string) ([]string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortStory, OpBulkUpdateStatus, id, status); err != nil {
		return nil, err
	}
	if _, err := s.m.getItem(models.PortStory, tenantID, id, "story"); err != nil {
		return nil, err
	}
	var changed []string
	for k, item := range s.m.items {
		if s.m.kinds[k] == "task" && item.TenantID == tenantID && item.ParentID == id && item.Status != status {
			item.Status = status
			item.UpdatedAt = time.Now().UTC()
			changed = append(changed, item.ID)
		}
	}
	return changed, nil
}

func (s *memoryStoryService) Delete(ctx context.Context, tenantID, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortStory, OpDelete, id, ""); err != nil {
		return err
	}
	if _, err := s.m.getItem(models.PortStory, tenantID, id, "story"); err != nil {
		return err
	}
	delete(s.m.items, key(tenantID, id))
	delete(s.m.kinds, key(tenantID, id))
	return nil
}

// --- Task service ---

type memoryTaskService struct{ m *MemoryPlatform }

var _ TaskService = (*memoryTaskService)(nil)

func (s *memoryTaskService) Get(ctx context.Context, tenantID, id string) (*Item, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	item, err := s.m.getItem(models.PortTask, tenantID, id, "task")
	if err != nil {
		return nil, err
	}
	copied := *item
	return &copied, nil
}

func (s *memoryTaskService) Create(ctx context.Context, tenantID string, task Item) (*Item, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortTask, OpCreate, "", task.Title); err != nil {
		return nil, err
	}
	created := &Item{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Title:     task.Title,
		Status:    task.Status,
		Assignee:  task.Assignee,
		ParentID:  task.ParentID,
		UpdatedAt: time.Now().UTC(),
	}
	if created.Status == "" {
		created.Status = StatusBacklog
	}
	s.m.items[key(tenantID, created.ID)] = created
	s.m.kinds[key(tenantID, created.ID)] = "task"
	copied := *created
	return &copied, nil
}

func (s *memoryTaskService) UpdateStatus(ctx context.Context, tenantID, id, status string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortTask, OpUpdateStatus, id, status); err != nil {
		return err
	}
	item, err := s.m.getItem(models.PortTask, tenantID, id, "task")
	if err != nil {
		return err
	}
	item.Status = status
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryTaskService) Assign(ctx context.Context, tenantID, id, assignee string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortTask, OpAssign, id, assignee); err != nil {
		return err
	}
	item, err := s.m.getItem(models.PortTask, tenantID, id, "task")
	if err != nil {
		return err
	}
	item.Assignee = assignee
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryTaskService) MoveToSprint(ctx context.Context, tenantID, id, sprintID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortTask, OpMoveToSprint, id, sprintID); err != nil {
		return err
	}
	item, err := s.m.getItem(models.PortTask, tenantID, id, "task")
	if err != nil {
		return err
	}
	item.SprintID = sprintID
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryTaskService) Delete(ctx context.Context, tenantID, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortTask, OpDelete, id, ""); err != nil {
		return err
	}
	if _, err := s.m.getItem(models.PortTask, tenantID, id, "task"); err != nil {
		return err
	}
	delete(s.m.items, key(tenantID, id))
	delete(s.m.kinds, key(tenantID, id))
	return nil
}

// --- Sprint service ---

type memorySprintService struct{ m *MemoryPlatform }

var _ SprintService = (*memorySprintService)(nil)

func (s *memorySprintService) Get(ctx context.Context, tenantID, id string) (*Sprint, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sprint, ok := s.m.sprints[key(tenantID, id)]
	if !ok {
		return nil, errors.NewDownstreamServiceError(models.PortSprint, false,
			fmt.Errorf("sprint %s not found for tenant %s", id, tenantID))
	}
	copied := *sprint
	return &copied, nil
}

func (s *memorySprintService) FindByName(ctx context.Context, tenantID, name string) (*Sprint, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, sprint := range s.m.sprints {
		if sprint.TenantID == tenantID && sprint.Name == name {
			copied := *sprint
			return &copied, nil
		}
	}
	return nil, errors.NewDownstreamServiceError(models.PortSprint, false,
		fmt.Errorf("no sprint named %q for tenant %s", name, tenantID))
}

func (s *memorySprintService) Start(ctx context.Context, tenantID, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortSprint, OpStart, id, ""); err != nil {
		return err
	}
	sprint, ok := s.m.sprints[key(tenantID, id)]
	if !ok {
		return errors.NewDownstreamServiceError(models.PortSprint, false,
			fmt.Errorf("sprint %s not found for tenant %s", id, tenantID))
	}
	now := time.Now().UTC()
	sprint.Status = SprintActive
	sprint.StartedAt = &now
	return nil
}

func (s *memorySprintService) Close(ctx context.Context, tenantID, id string) ([]string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.record(models.PortSprint, OpClose, id, ""); err != nil {
		return nil, err
	}
	sprint, ok := s.m.sprints[key(tenantID, id)]
	if !ok {
		return nil, errors.NewDownstreamServiceError(models.PortSprint, false,
			fmt.Errorf("sprint %s not found for tenant %s", id, tenantID))
	}
	now := time.Now().UTC()
	sprint.Status = SprintClosed
	sprint.ClosedAt = &now

	var moved []string
	for _, item := range s.m.items {
		if item.TenantID == tenantID && item.SprintID == id && item.Status != StatusDone {
			item.SprintID = ""
			item.Status = StatusBacklog
			item.UpdatedAt = now
			moved = append(moved, item.ID)
		}
	}
	return moved, nil
}

// --- Notifier ---

type memoryNotifier struct{ m *MemoryPlatform }

var _ Notifier = (*memoryNotifier)(nil)

func (n *memoryNotifier) Notify(ctx context.Context, event Event) error {
	n.m.mu.Lock()
	defer n.m.mu.Unlock()
	if err := n.m.record(models.PortNotify, OpNotify, event.EntityID, event.Kind); err != nil {
		return err
	}
	n.m.events = append(n.m.events, event)
	return nil
}
