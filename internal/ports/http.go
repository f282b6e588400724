// internal/ports/http.go
package ports

import (
	"context"
	"fmt"
	"net/url"

	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/httpclient"
	"sprint-assistant/internal/models"
)

// HTTP adapters for the platform CRUD services. Each call is one JSON
// round trip; non-2xx responses become DOWNSTREAM_SERVICE_ERROR with the
// transient verdict taken from the transport (5xx/timeout yes, 4xx no).

// NewHTTPPlatform wires the three service adapters from config. The
// notifier is chosen separately (SNS or memory).
func NewHTTPPlatform(cfg config.PortsConfig, notifier Notifier) *Platform {
	budget := cfg.CallBudget()
	return &Platform{
		Story:    &HTTPStoryService{client: httpclient.NewClient(cfg.StoryBaseURL, budget)},
		Task:     &HTTPTaskService{client: httpclient.NewClient(cfg.TaskBaseURL, budget)},
		Sprint:   &HTTPSprintService{client: httpclient.NewClient(cfg.SprintBaseURL, budget)},
		Notifier: notifier,
	}
}

func portError(service string, err error) error {
	return errors.NewDownstreamServiceError(service, httpclient.Transient(err), err)
}

// --- Story service ---

type HTTPStoryService struct {
	client *httpclient.Client
}

var _ StoryService = (*HTTPStoryService)(nil)

func (s *HTTPStoryService) Get(ctx context.Context, tenantID, id string) (*Item, error) {
	var item Item
	path := fmt.Sprintf("/v1/%s/stories/%s", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.GetJSON(ctx, path, &item); err != nil {
		return nil, portError(models.PortStory, err)
	}
	return &item, nil
}

func (s *HTTPStoryService) UpdateStatus(ctx context.Context, tenantID, id, status string) error {
	path := fmt.Sprintf("/v1/%s/stories/%s/status", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, map[string]string{"status": status}, nil); err != nil {
		return portError(models.PortStory, err)
	}
	return nil
}

func (s *HTTPStoryService) Assign(ctx context.Context, tenantID, id, assignee string) error {
	path := fmt.Sprintf("/v1/%s/stories/%s/assignee", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, map[string]string{"assignee": assignee}, nil); err != nil {
		return portError(models.PortStory, err)
	}
	return nil
}

func (s *HTTPStoryService) Split(ctx context.Context, tenantID, id, newTitle string) (*Item, error) {
	var created Item
	path := fmt.Sprintf("/v1/%s/stories/%s/split", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, map[string]string{"title": newTitle}, &created); err != nil {
		return nil, portError(models.PortStory, err)
	}
	return &created, nil
}

func (s *HTTPStoryService) MoveToSprint(ctx context.Context, tenantID, id, sprintID string) error {
	path := fmt.Sprintf("/v1/%s/stories/%s/sprint", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, map[string]string{"sprint_id": sprintID}, nil); err != nil {
		return portError(models.PortStory, err)
	}
	return nil
}

func (s *HTTPStoryService) BulkUpdateStatus(ctx context.Context, tenantID, id, status string) ([]string, error) {
	var resp struct {
		ChangedIDs []string `json:"changed_ids"`
	}
	path := fmt.Sprintf("/v1/%s/stories/%s/tasks/status", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, map[string]string{"status": status}, &resp); err != nil {
		return nil, portError(models.PortStory, err)
	}
	return resp.ChangedIDs, nil
}

func (s *HTTPStoryService) Delete(ctx context.Context, tenantID, id string) error {
	path := fmt.Sprintf("/v1/%s/stories/%s", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.DeleteJSON(ctx, path); err != nil {
		return portError(models.PortStory, err)
	}
	return nil
}

// --- Task service ---

type HTTPTaskService struct {
	client *httpclient.Client
}

var _ TaskService = (*HTTPTaskService)(nil)

func (s *HTTPTaskService) Get(ctx context.Context, tenantID, id string) (*Item, error) {
	var item Item
	path := fmt.Sprintf("/v1/%s/tasks/%s", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.GetJSON(ctx, path, &item); err != nil {
		return nil, portError(models.PortTask, err)
	}
	return &item, nil
}

func (s *HTTPTaskService) Create(ctx context.Context, tenantID string, task Item) (*Item, error) {
	var created Item
	path := fmt.Sprintf("/v1/%s/tasks", url.PathEscape(tenantID))
	if err := s.client.PostJSON(ctx, path, task, &created); err != nil {
		return nil, portError(models.PortTask, err)
	}
	return &created, nil
}

func (s *HTTPTaskService) UpdateStatus(ctx context.Context, tenantID, id, status string) error {
	path := fmt.Sprintf("/v1/%s/tasks/%s/status", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, map[string]string{"status": status}, nil); err != nil {
		return portError(models.PortTask, err)
	}
	return nil
}

func (s *HTTPTaskService) Assign(ctx context.Context, tenantID, id, assignee string) error {
	path := fmt.Sprintf("/v1/%s/tasks/%s/assignee", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, map[string]string{"assignee": assignee}, nil); err != nil {
		return portError(models.PortTask, err)
	}
	return nil
}

func (s *HTTPTaskService) MoveToSprint(ctx context.Context, tenantID, id, sprintID string) error {
	path := fmt.Sprintf("/v1/%s/tasks/%s/sprint", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, map[string]string{"sprint_id": sprintID}, nil); err != nil {
		return portError(models.PortTask, err)
	}
	return nil
}

func (s *HTTPTaskService) Delete(ctx context.Context, tenantID, id string) error {
	path := fmt.Sprintf("/v1/%s/tasks/%s", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.DeleteJSON(ctx, path); err != nil {
		return portError(models.PortTask, err)
	}
	return nil
}

// --- Sprint service ---

type HTTPSprintService struct {
	client *httpclient.Client
}

var _ SprintService = (*HTTPSprintService)(nil)

func (s *HTTPSprintService) Get(ctx context.Context, tenantID, id string) (*Sprint, error) {
	var sprint Sprint
	path := fmt.Sprintf("/v1/%s/sprints/%s", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.GetJSON(ctx, path, &sprint); err != nil {
		return nil, portError(models.PortSprint, err)
	}
	return &sprint, nil
}

func (s *HTTPSprintService) FindByName(ctx context.Context, tenantID, name string) (*Sprint, error) {
	var sprint Sprint
	path := fmt.Sprintf("/v1/%s/sprints/by-name?name=%s", url.PathEscape(tenantID), url.QueryEscape(name))
	if err := s.client.GetJSON(ctx, path, &sprint); err != nil {
		return nil, portError(models.PortSprint, err)
	}
	return &sprint, nil
}

func (s *HTTPSprintService) Start(ctx context.Context, tenantID, id string) error {
	path := fmt.Sprintf("/v1/%s/sprints/%s/start", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, nil, nil); err != nil {
		return portError(models.PortSprint, err)
	}
	return nil
}

func (s *HTTPSprintService) Close(ctx context.Context, tenantID, id string) ([]string, error) {
	var resp struct {
		MovedIDs []string `json:"moved_ids"`
	}
	path := fmt.Sprintf("/v1/%s/sprints/%s/close", url.PathEscape(tenantID), url.PathEscape(id))
	if err := s.client.PostJSON(ctx, path, nil, &resp); err != nil {
		return nil, portError(models.PortSprint, err)
	}
	return resp.MovedIDs, nil
}
