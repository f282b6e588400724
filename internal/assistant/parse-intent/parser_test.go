// internal/assistant/parse-intent/parser_test.go
package parseintent

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
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/models"
)

// ==========================
// Test Helpers
// ==========================

// stubCompletion serves the OpenAI chat completions shape with a fixed
// message content.
func stubCompletion(t *testing.T, content string, delay time.Duration) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		if delay > 0 {
			time.Sleep(delay)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": content},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newParserAgainst(t *testing.T, baseURL string, llmTimeoutMS int) *Parser {
	openaiCfg := config.OpenAIConfig{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		ChatModel: "gpt-4o-mini",
		Timeout:   2000,
	}
	intentCfg := config.IntentConfig{
		LLMTimeout:          llmTimeoutMS,
		HeuristicConfidence: 0.35,
		MaxUtteranceLength:  500,
	}
	return NewParser(openaiCfg, intentCfg, logger.NewTestLogger(t))
}

func heuristicOnlyParser(t *testing.T) *Parser {
	return &Parser{
		cfg: config.IntentConfig{
			HeuristicConfidence: 0.35,
			MaxUtteranceLength:  500,
		},
		logger: logger.NewTestLogger(t),
	}
}

func utter(text string) models.Utterance {
	return models.Utterance{Text: text, TenantID: "acme", UserID: "user-1", Timestamp: time.Now().UTC()}
}

// ==========================
// LLM Path
// ==========================

func TestParseAcceptsValidLLMOutput(t *testing.T) {
	srv := stubCompletion(t, `{"type":"mark_complete","slots":{"entity":"login task","entity_type":"task"},"confidence":0.93}`, 0)
	parser := newParserAgainst(t, srv.URL+"/v1", 1500)

	intent, err := parser.Parse(context.Background(), utter("I finished the login task"))
	require.NoError(t, err)

	assert.Equal(t, models.IntentMarkComplete, intent.Type)
	assert.Equal(t, models.OriginLLM, intent.Origin)
	assert.InDelta(t, 0.93, intent.SourceConfidence, 0.001)
	assert.Equal(t, "login task", intent.Slot(models.SlotEntity))
}

func TestParseRejectsInventedIntentType(t *testing.T) {
	// "deploy_to_production" is not in the closed set; the schema must
	// reject it and the heuristic path takes over.
	srv := stubCompletion(t, `{"type":"deploy_to_production","slots":{},"confidence":0.99}`, 0)
	parser := newParserAgainst(t, srv.URL+"/v1", 1500)

	intent, err := parser.Parse(context.Background(), utter("I finished the login task"))
	require.NoError(t, err)

	assert.Equal(t, models.OriginHeuristic, intent.Origin)
	assert.Equal(t, models.IntentMarkComplete, intent.Type)
}

func TestParseFallsBackOnMalformedJSON(t *testing.T) {
	srv := stubCompletion(t, `the task is done, marking it complete`, 0)
	parser := newParserAgainst(t, srv.URL+"/v1", 1500)

	intent, err := parser.Parse(context.Background(), utter("mark the login task done"))
	require.NoError(t, err)
	assert.Equal(t, models.OriginHeuristic, intent.Origin)
}

func TestParseFallsBackOnTimeout(t *testing.T) {
	srv := stubCompletion(t, `{"type":"mark_complete","slots":{},"confidence":0.9}`, 300*time.Millisecond)
	parser := newParserAgainst(t, srv.URL+"/v1", 50)

	start := time.Now()
	intent, err := parser.Parse(context.Background(), utter("I finished the login task"))
	require.NoError(t, err)

	assert.Equal(t, models.OriginHeuristic, intent.Origin)
	assert.Equal(t, models.IntentMarkComplete, intent.Type)
	assert.InDelta(t, 0.35, intent.SourceConfidence, 0.001)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "fallback must not wait out the slow stub")
}

func TestParseFallsBackOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	parser := newParserAgainst(t, srv.URL+"/v1", 1500)

	intent, err := parser.Parse(context.Background(), utter("split the payments story"))
	require.NoError(t, err)
	assert.Equal(t, models.OriginHeuristic, intent.Origin)
	assert.Equal(t, models.IntentSplitStory, intent.Type)
}

func TestParseClampsConfidence(t *testing.T) {
	srv := stubCompletion(t, `{"type":"mark_complete","slots":{},"confidence":1}`, 0)
	parser := newParserAgainst(t, srv.URL+"/v1", 1500)

	intent, err := parser.Parse(context.Background(), utter("done with the login task"))
	require.NoError(t, err)
	assert.LessOrEqual(t, intent.SourceConfidence, 1.0)
}

// ==========================
// Heuristic Path
// ==========================

func TestHeuristicRules(t *testing.T) {
	parser := heuristicOnlyParser(t)

	tests := []struct {
		name      string
		utterance string
		want      models.IntentType
		wantSlots map[string]string
	}{
		{
			name:      "finished maps to mark_complete",
			utterance: "I finished the login task",
			want:      models.IntentMarkComplete,
			wantSlots: map[string]string{models.SlotEntity: "login", models.SlotEntityType: "task", models.SlotStatus: "done"},
		},
		{
			name:      "split maps to split_story",
			utterance: `split the "payments integration" story`,
			want:      models.IntentSplitStory,
			wantSlots: map[string]string{models.SlotEntity: "payments integration"},
		},
		{
			name:      "close sprint wins over generic complete",
			utterance: "close sprint 14, we are done",
			want:      models.IntentCloseSprint,
			wantSlots: map[string]string{models.SlotEntity: "sprint 14", models.SlotEntityType: "sprint"},
		},
		{
			name:      "start sprint",
			utterance: "start sprint 15 please",
			want:      models.IntentStartSprint,
		},
		{
			name:      "assign with mention",
			utterance: "assign the login task to @dana",
			want:      models.IntentAssignItem,
			wantSlots: map[string]string{models.SlotAssignee: "dana"},
		},
		{
			name:      "move to sprint",
			utterance: "move the login task into sprint 15",
			want:      models.IntentMoveToSprint,
			wantSlots: map[string]string{models.SlotSprint: "sprint 15"},
		},
		{
			name:      "create task with quoted title",
			utterance: `add a task "write release notes"`,
			want:      models.IntentCreateTask,
			wantSlots: map[string]string{models.SlotTitle: "write release notes"},
		},
		{
			name:      "bulk update",
			utterance: "set all tasks in the payments story to blocked",
			want:      models.IntentBulkUpdateStatus,
			wantSlots: map[string]string{models.SlotStatus: "blocked"},
		},
		{
			name:      "delete item",
			utterance: "delete the duplicate login task",
			want:      models.IntentDeleteItem,
		},
		{
			name:      "update status",
			utterance: "set the login task to blocked",
			want:      models.IntentUpdateStatus,
			wantSlots: map[string]string{models.SlotStatus: "blocked"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, err := parser.Parse(context.Background(), utter(tt.utterance))
			require.NoError(t, err)
			assert.Equal(t, tt.want, intent.Type)
			assert.Equal(t, models.OriginHeuristic, intent.Origin)
			assert.InDelta(t, 0.35, intent.SourceConfidence, 0.001)
			for slot, want := range tt.wantSlots {
				assert.Equal(t, want, intent.Slot(slot), "slot %s", slot)
			}
		})
	}
}

func TestParseFailsWhenNoRuleMatches(t *testing.T) {
	parser := heuristicOnlyParser(t)

	_, err := parser.Parse(context.Background(), utter("what is the weather like"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIntentParseFailed, errors.From(err).Code)
}

func TestParseRejectsEmptyUtterance(t *testing.T) {
	parser := heuristicOnlyParser(t)

	_, err := parser.Parse(context.Background(), utter("   "))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIntentParseFailed, errors.From(err).Code)
}

func TestParseRejectsOversizedUtterance(t *testing.T) {
	parser := heuristicOnlyParser(t)

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	_, err := parser.Parse(context.Background(), utter(string(long)))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIntentParseFailed, errors.From(err).Code)
}
