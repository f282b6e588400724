// internal/ports/http_test.go
package ports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
)

func newPlatformAgainst(t *testing.T, handler http.Handler) (*Platform, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.PortsConfig{
		Mode:          "http",
		StoryBaseURL:  srv.URL,
		TaskBaseURL:   srv.URL,
		SprintBaseURL: srv.URL,
		Timeout:       2000,
	}
	return NewHTTPPlatform(cfg, &memoryNotifier{m: NewMemoryPlatform()}), srv
}

func TestHTTPStoryGetDecodesItem(t *testing.T) {
	var gotPath string
	platform, _ := newPlatformAgainst(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(Item{
			ID:        "story-1",
			TenantID:  "acme",
			Title:     "Login flow",
			Status:    "in_progress",
			UpdatedAt: time.Now().UTC(),
		})
	}))

	item, err := platform.Story.Get(context.Background(), "acme", "story-1")
	require.NoError(t, err)
	assert.Equal(t, "/v1/acme/stories/story-1", gotPath)
	assert.Equal(t, "Login flow", item.Title)
}

func TestHTTPTaskUpdateStatusPostsBody(t *testing.T) {
	var gotBody map[string]string
	platform, _ := newPlatformAgainst(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))

	err := platform.Task.UpdateStatus(context.Background(), "acme", "task-9", "done")
	require.NoError(t, err)
	assert.Equal(t, "done", gotBody["status"])
}

func TestHTTPServerErrorIsRetryableDownstreamError(t *testing.T) {
	platform, _ := newPlatformAgainst(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	err := platform.Story.UpdateStatus(context.Background(), "acme", "story-1", "done")
	require.Error(t, err)

	stdErr := errors.From(err)
	assert.Equal(t, errors.ErrCodeDownstreamService, stdErr.Code)
	assert.True(t, stdErr.Retryable, "5xx must be transient")
}

func TestHTTPClientErrorIsNotRetryable(t *testing.T) {
	platform, _ := newPlatformAgainst(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such item", http.StatusNotFound)
	}))

	_, err := platform.Task.Get(context.Background(), "acme", "missing")
	require.Error(t, err)

	stdErr := errors.From(err)
	assert.Equal(t, errors.ErrCodeDownstreamService, stdErr.Code)
	assert.False(t, stdErr.Retryable, "4xx must not be retried")
}

func TestHTTPSprintCloseReturnsMovedIDs(t *testing.T) {
	platform, _ := newPlatformAgainst(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/acme/sprints/sprint-3/close", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"moved_ids": []string{"task-1", "story-2"}})
	}))

	moved, err := platform.Sprint.Close(context.Background(), "acme", "sprint-3")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "story-2"}, moved)
}

func TestHTTPSprintFindByNameEscapesQuery(t *testing.T) {
	var gotQuery string
	platform, _ := newPlatformAgainst(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("name")
		json.NewEncoder(w).Encode(Sprint{ID: "sprint-7", TenantID: "acme", Name: "Sprint 7", Status: SprintPlanned})
	}))

	sprint, err := platform.Sprint.FindByName(context.Background(), "acme", "Sprint 7")
	require.NoError(t, err)
	assert.Equal(t, "Sprint 7", gotQuery)
	assert.Equal(t, "sprint-7", sprint.ID)
}
