// test/e2e/e2e_test.go
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	builddraft "sprint-assistant/internal/assistant/build-draft"
	"sprint-assistant/internal/assistant/disambiguate"
	executeaction "sprint-assistant/internal/assistant/execute-action"
	parseintent "sprint-assistant/internal/assistant/parse-intent"
	resolveentities "sprint-assistant/internal/assistant/resolve-entities"
	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/common/observability"
	"sprint-assistant/internal/history"
	"sprint-assistant/internal/models"
	"sprint-assistant/internal/ports"
	"sprint-assistant/internal/ratelimit"
	"sprint-assistant/internal/search"
	"sprint-assistant/internal/server"
	"sprint-assistant/pkg/catalog"
)

// Full-pipeline tests: real parser, resolver, policy, builder and
// orchestrator wired together behind the real router. The only fake
// pieces are the in-memory stores, the in-memory platform and an
// httptest server standing in for the OpenAI API.

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
	userID  = "user-1"
)

// cannedIntents maps exact utterances to the JSON the stubbed chat
// completion endpoint returns. Anything not listed gets a 500, which
// exercises the heuristic fallback.
var cannedIntents = map[string]string{
	"mark the login flow story as done":           `{"type":"mark_complete","slots":{"entity":"login flow","entity_type":"story"},"confidence":0.92}`,
	"move the payment story to sprint 10":         `{"type":"move_to_sprint","slots":{"entity":"payment","entity_type":"story","sprint":"Sprint 10"},"confidence":0.9}`,
	"delete the flaky test task":                  `{"type":"delete_item","slots":{"entity":"flaky test","entity_type":"task"},"confidence":0.95}`,
	"create a task to update the onboarding docs": `{"type":"create_task","slots":{"title":"update the onboarding docs"},"confidence":0.9}`,
}

// vocab is the toy embedding space shared by the stub endpoint and the
// seeded index, so cosine similarity behaves like a real model would on
// this corpus.
var vocab = []string{"login", "payment", "checkout", "flow", "docs", "onboarding", "flaky", "test"}

func embedVec(text string) []float32 {
	vec := make([]float32, len(vocab))
	for _, tok := range strings.Fields(search.Normalize(text)) {
		for i, word := range vocab {
			if tok == word {
				vec[i]++
			}
		}
	}
	return vec
}

func newOpenAIStub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var utterance string
		for _, m := range req.Messages {
			if m.Role == "user" {
				utterance = m.Content
			}
		}

		intent, ok := cannedIntents[utterance]
		if !ok {
			http.Error(w, "model overloaded", http.StatusInternalServerError)
			return
		}

		writeStubJSON(w, map[string]interface{}{
			"id":      "chatcmpl-e2e",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": intent},
					"finish_reason": "stop",
				},
			},
		})
	})

	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		require.NotEmpty(t, req.Input)

		writeStubJSON(w, map[string]interface{}{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": embedVec(req.Input[0])},
			},
			"usage": map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	})

	return httptest.NewServer(mux)
}

func writeStubJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

type stack struct {
	api      *httptest.Server
	platform *ports.MemoryPlatform
	history  history.Store
}

func newStack(t *testing.T) *stack {
	t.Helper()

	openaiStub := newOpenAIStub(t)
	t.Cleanup(openaiStub.Close)

	log := logger.NewTestLogger(t)

	openaiCfg := config.OpenAIConfig{
		BaseURL:        openaiStub.URL + "/v1",
		APIKey:         "test-key",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        2000,
	}

	parser := parseintent.NewParser(openaiCfg, config.IntentConfig{
		LLMTimeout:          2000,
		HeuristicConfidence: 0.35,
		MaxUtteranceLength:  500,
	}, log)

	now := time.Now().UTC()
	index := search.NewMemoryIndex()
	seedIndex(index, now)

	embedder := search.NewOpenAIEmbedder(openaiCfg)
	resolver := resolveentities.NewResolver(embedder, index, config.ResolverConfig{
		TopK:                10,
		PerLegK:             20,
		BothHitBonus:        0.05,
		ExactMatchBoost:     0.15,
		RecencyWeight:       0.10,
		RecencyHalfLifeDays: 14,
		QueryTimeout:        2000,
	}, log)

	policy := disambiguate.NewPolicy(config.PolicyConfig{
		MarginThreshold:     0.15,
		AutoAcceptThreshold: 0.80,
		MinThreshold:        0.45,
		MaxAlternatives:     3,
	})

	mem := ports.NewMemoryPlatform()
	seedPlatform(mem, now)

	cat := catalog.Default()
	builder := builddraft.NewBuilder(cat, mem.Wire(), log)

	hist := history.NewMemoryStore()
	executor := executeaction.NewOrchestrator(
		ports.NewDispatcher(mem.Wire()),
		hist,
		config.OrchestratorConfig{StepTimeout: 2000, RetryBackoff: 1},
		&observability.Observability{},
		log,
	)

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), map[string]config.BucketConfig{
		"interpret": {Capacity: 100, RefillPerSec: 10},
		"act":       {Capacity: 100, RefillPerSec: 10},
	}, log)

	srv := server.New(server.Options{
		Config:   config.ServerConfig{RequestTimeout: 9000},
		Parser:   parser,
		Resolver: resolver,
		Policy:   policy,
		Builder:  builder,
		Executor: executor,
		Limiter:  limiter,
		History:  hist,
		Catalog:  cat,
		Obs:      &observability.Observability{},
		Logger:   log,
	})

	api := httptest.NewServer(srv.Router())
	t.Cleanup(api.Close)

	return &stack{api: api, platform: mem, history: hist}
}

func seedIndex(index *search.MemoryIndex, now time.Time) {
	docs := []search.EntityDocument{
		{ID: "story-login", TenantID: tenantA, EntityType: "story", Title: "Login flow rework", Status: "in_progress", Assignee: "dana"},
		{ID: "story-payment", TenantID: tenantA, EntityType: "story", Title: "Payment checkout flow", Status: "in_progress"},
		{ID: "story-payment-page", TenantID: tenantA, EntityType: "story", Title: "Payment page polish", Status: "backlog"},
		{ID: "task-docs", TenantID: tenantA, EntityType: "task", Title: "Update onboarding docs", Status: "backlog"},
		{ID: "task-flaky", TenantID: tenantA, EntityType: "task", Title: "Fix flaky checkout test", Status: "in_progress"},
		{ID: "story-login", TenantID: tenantB, EntityType: "story", Title: "Login flow rework", Status: "backlog"},
	}
	for _, doc := range docs {
		doc.UpdatedAt = now
		doc.Embedding = embedVec(doc.Title)
		index.Put(doc)
	}
}

func seedPlatform(mem *ports.MemoryPlatform, now time.Time) {
	mem.SeedItem("story", ports.Item{ID: "story-login", TenantID: tenantA, Title: "Login flow rework", Status: "in_progress", Assignee: "dana", UpdatedAt: now})
	mem.SeedItem("story", ports.Item{ID: "story-payment", TenantID: tenantA, Title: "Payment checkout flow", Status: "in_progress", SprintID: "sprint-9", UpdatedAt: now})
	mem.SeedItem("story", ports.Item{ID: "story-payment-page", TenantID: tenantA, Title: "Payment page polish", Status: "backlog", UpdatedAt: now})
	mem.SeedItem("task", ports.Item{ID: "task-docs", TenantID: tenantA, Title: "Update onboarding docs", Status: "backlog", UpdatedAt: now})
	mem.SeedItem("task", ports.Item{ID: "task-flaky", TenantID: tenantA, Title: "Fix flaky checkout test", Status: "in_progress", UpdatedAt: now})
	mem.SeedItem("story", ports.Item{ID: "story-login", TenantID: tenantB, Title: "Login flow rework", Status: "backlog", UpdatedAt: now})
	mem.SeedSprint(ports.Sprint{ID: "sprint-9", TenantID: tenantA, Name: "Sprint 9", Status: "active"})
	mem.SeedSprint(ports.Sprint{ID: "sprint-10", TenantID: tenantA, Name: "Sprint 10", Status: "planned"})
}

type interpretResponse struct {
	RequestID    string                   `json:"request_id"`
	ParsedIntent *models.ParsedIntent     `json:"parsed_intent"`
	State        models.DecisionState     `json:"state"`
	Risk         models.RiskLevel         `json:"risk"`
	Selected     *models.EntityCandidate  `json:"selected"`
	Alternatives []models.EntityCandidate `json:"alternatives"`
	Candidates   []models.EntityCandidate `json:"candidates"`
	Draft        *models.ActionDraft      `json:"draft"`
}

type actResponse struct {
	RequestID string            `json:"request_id"`
	Result    *models.ActResult `json:"result"`
}

func (s *stack) post(t *testing.T, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.api.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.api.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (s *stack) interpret(t *testing.T, tenantID, text string) interpretResponse {
	t.Helper()

	resp := s.post(t, "/interpret", map[string]string{
		"text":      text,
		"tenant_id": tenantID,
		"user_id":   userID,
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out interpretResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.RequestID)
	return out
}

func (s *stack) act(t *testing.T, tenantID, requestID, selectedID string, confirmed bool, headers map[string]string) *http.Response {
	t.Helper()

	return s.post(t, "/act", map[string]interface{}{
		"request_id":         requestID,
		"tenant_id":          tenantID,
		"user_id":            userID,
		"selected_entity_id": selectedID,
		"confirmed":          confirmed,
	}, headers)
}

func decodeAct(t *testing.T, resp *http.Response) actResponse {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out actResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Result)
	return out
}

func TestResolvedLowRiskFlow(t *testing.T) {
	s := newStack(t)

	interp := s.interpret(t, tenantA, "mark the login flow story as done")

	assert.Equal(t, models.IntentMarkComplete, interp.ParsedIntent.Type)
	assert.Equal(t, models.OriginLLM, interp.ParsedIntent.Origin)
	assert.Equal(t, models.StateResolved, interp.State)
	require.NotNil(t, interp.Selected)
	assert.Equal(t, "story-login", interp.Selected.ID)
	require.NotNil(t, interp.Draft)
	assert.False(t, interp.Draft.RequiresConfirmation)

	act := decodeAct(t, s.act(t, tenantA, interp.RequestID, "", false, nil))
	assert.True(t, act.Result.Success)

	item, ok := s.platform.Item(tenantA, "story-login")
	require.True(t, ok)
	assert.Equal(t, "done", item.Status)

	// The audit trail carries a hash of the utterance, never the text.
	entry, err := s.history.GetInterpret(context.Background(), tenantA, interp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.HashUtterance("mark the login flow story as done"), entry.UtteranceHash)
	assert.NotContains(t, entry.UtteranceHash, "login")
}

func TestAmbiguousSelectionFlow(t *testing.T) {
	s := newStack(t)

	interp := s.interpret(t, tenantA, "move the payment story to sprint 10")

	assert.Equal(t, models.StateAmbiguous, interp.State)
	assert.Nil(t, interp.Selected)
	require.GreaterOrEqual(t, len(interp.Alternatives), 2)

	ids := make([]string, 0, len(interp.Alternatives))
	for _, alt := range interp.Alternatives {
		ids = append(ids, alt.ID)
	}
	assert.Contains(t, ids, "story-payment")
	assert.Contains(t, ids, "story-payment-page")

	// Picking an alternative without confirming is rejected.
	resp := s.act(t, tenantA, interp.RequestID, "story-payment", false, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	act := decodeAct(t, s.act(t, tenantA, interp.RequestID, "story-payment", true, nil))
	assert.True(t, act.Result.Success)

	item, ok := s.platform.Item(tenantA, "story-payment")
	require.True(t, ok)
	assert.Equal(t, "sprint-10", item.SprintID)
}

func TestHighRiskRequiresConfirmation(t *testing.T) {
	s := newStack(t)

	interp := s.interpret(t, tenantA, "delete the flaky test task")

	assert.Equal(t, models.StateNeedsConfirmation, interp.State)
	assert.Equal(t, models.RiskHigh, interp.Risk)
	require.NotNil(t, interp.Draft)
	assert.True(t, interp.Draft.RequiresConfirmation)

	resp := s.act(t, tenantA, interp.RequestID, "task-flaky", false, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	_, stillThere := s.platform.Item(tenantA, "task-flaky")
	assert.True(t, stillThere)

	act := decodeAct(t, s.act(t, tenantA, interp.RequestID, "task-flaky", true, nil))
	assert.True(t, act.Result.Success)

	_, stillThere = s.platform.Item(tenantA, "task-flaky")
	assert.False(t, stillThere)
}

func TestCreateTaskWithoutTarget(t *testing.T) {
	s := newStack(t)

	interp := s.interpret(t, tenantA, "create a task to update the onboarding docs")

	assert.Equal(t, models.IntentCreateTask, interp.ParsedIntent.Type)
	assert.Equal(t, models.StateNeedsConfirmation, interp.State)
	assert.Empty(t, interp.Candidates)
	require.NotNil(t, interp.Draft)

	act := decodeAct(t, s.act(t, tenantA, interp.RequestID, "", true, nil))
	assert.True(t, act.Result.Success)

	var created bool
	for _, call := range s.platform.Calls() {
		if call.Port == "task" && call.Op == "create" {
			created = true
		}
	}
	assert.True(t, created)
}

func TestIdempotencyKeyReplay(t *testing.T) {
	s := newStack(t)

	interp := s.interpret(t, tenantA, "mark the login flow story as done")
	require.Equal(t, models.StateResolved, interp.State)

	headers := map[string]string{"Idempotency-Key": "e2e-key-1"}

	first := decodeAct(t, s.act(t, tenantA, interp.RequestID, "", false, headers))
	assert.True(t, first.Result.Success)
	assert.False(t, first.Result.Replayed)

	callsAfterFirst := len(s.platform.Calls())

	second := decodeAct(t, s.act(t, tenantA, interp.RequestID, "", false, headers))
	assert.True(t, second.Result.Replayed)
	assert.Equal(t, callsAfterFirst, len(s.platform.Calls()))
}

func TestHeuristicFallback(t *testing.T) {
	s := newStack(t)

	// Not in the canned set, so the stub fails the completion call and the
	// heuristic parser takes over.
	interp := s.interpret(t, tenantA, `I wrapped up the "Login flow rework" story`)

	assert.Equal(t, models.IntentMarkComplete, interp.ParsedIntent.Type)
	assert.Equal(t, models.OriginHeuristic, interp.ParsedIntent.Origin)
	assert.NotEqual(t, models.StateResolved, interp.State)
	assert.Nil(t, interp.Selected)
	require.NotEmpty(t, interp.Candidates)
	assert.Equal(t, "story-login", interp.Candidates[0].ID)
}

func TestTenantIsolation(t *testing.T) {
	s := newStack(t)

	interp := s.interpret(t, tenantB, "mark the login flow story as done")
	require.NotEmpty(t, interp.Candidates)
	for _, c := range interp.Candidates {
		assert.Equal(t, tenantB, c.TenantID)
	}

	// Another tenant cannot act on this interpretation.
	resp := s.act(t, tenantA, interp.RequestID, "", true, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestRejectsUnlistedTarget(t *testing.T) {
	s := newStack(t)

	interp := s.interpret(t, tenantA, "move the payment story to sprint 10")
	require.Equal(t, models.StateAmbiguous, interp.State)

	resp := s.act(t, tenantA, interp.RequestID, "story-invented", true, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelRecordsAudit(t *testing.T) {
	s := newStack(t)

	interp := s.interpret(t, tenantA, "delete the flaky test task")

	resp := s.post(t, "/cancel", map[string]string{
		"request_id": interp.RequestID,
		"tenant_id":  tenantA,
		"user_id":    userID,
		"reason":     "changed my mind",
	}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	entries, err := s.history.ListRecent(context.Background(), tenantA, 10)
	require.NoError(t, err)

	var cancelled bool
	for _, e := range entries {
		if e.Kind == models.AuditCancel {
			cancelled = true
			assert.Equal(t, "changed my mind", e.Reason)
		}
	}
	assert.True(t, cancelled)
}

func TestUnknownRequestIDNotFound(t *testing.T) {
	s := newStack(t)

	resp := s.act(t, tenantA, "no-such-request", "", true, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	s := newStack(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := s.api.Client().Get(s.api.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("path %s", path))
		resp.Body.Close()
	}
}
