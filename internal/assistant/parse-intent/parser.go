// internal/assistant/parse-intent/parser.go
package parseintent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/common/metrics"
	"sprint-assistant/internal/common/validation"
	"sprint-assistant/internal/models"
)

// Parser turns an utterance into a ParsedIntent. Primary path is an LLM
// chat completion with schema-validated JSON output; any failure there
// (timeout, transport, invalid shape, invented intent type) falls through
// to the heuristic rules. Only when both paths come up empty does Parse
// return INTENT_PARSE_FAILED.
type Parser struct {
	client    *openai.Client
	chatModel string
	cfg       config.IntentConfig
	logger    logger.Logger
}

func NewParser(openaiCfg config.OpenAIConfig, intentCfg config.IntentConfig, log logger.Logger) *Parser {
	var client *openai.Client
	if openaiCfg.APIKey != "" || openaiCfg.BaseURL != "" {
		clientCfg := openai.DefaultConfig(openaiCfg.APIKey)
		if openaiCfg.BaseURL != "" {
			clientCfg.BaseURL = openaiCfg.BaseURL
		}
		clientCfg.HTTPClient = &http.Client{Timeout: openaiCfg.CallBudget()}
		client = openai.NewClientWithConfig(clientCfg)
	}

	return &Parser{
		client:    client,
		chatModel: openaiCfg.ChatModel,
		cfg:       intentCfg,
		logger:    log.WithFields(map[string]interface{}{"component": "intent-parser"}),
	}
}

// Parse never mutates state; its only side effect is the outbound LLM call.
func (p *Parser) Parse(ctx context.Context, utterance models.Utterance) (*models.ParsedIntent, error) {
	text := strings.TrimSpace(utterance.Text)
	if text == "" {
		return nil, errors.NewIntentParseFailedError("empty utterance")
	}
	if p.cfg.MaxUtteranceLength > 0 && len(text) > p.cfg.MaxUtteranceLength {
		return nil, errors.NewIntentParseFailedError(
			fmt.Sprintf("utterance exceeds %d characters", p.cfg.MaxUtteranceLength))
	}

	if p.client != nil {
		intent, err := p.parseLLM(ctx, text)
		if err == nil {
			return intent, nil
		}

		reason := fallbackReason(err)
		metrics.LLMFallbacks.WithLabelValues(reason).Inc()
		p.logger.Warn("LLM parse failed, falling back to heuristics", map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
	}

	if intent := p.parseHeuristic(text); intent != nil {
		return intent, nil
	}

	return nil, errors.NewIntentParseFailedError("no intent rule matched the utterance")
}

func (p *Parser) parseLLM(ctx context.Context, text string) (*models.ParsedIntent, error) {
	llmCtx, cancel := context.WithTimeout(ctx, p.cfg.LLMBudget())
	defer cancel()

	resp, err := p.client.CreateChatCompletion(llmCtx, openai.ChatCompletionRequest{
		Model:       p.chatModel,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || llmCtx.Err() != nil {
			return nil, errors.NewLLMTimeoutError(p.cfg.LLMBudget())
		}
		return nil, errors.NewIntentParseFailedError("completion call failed: " + err.Error())
	}
	if len(resp.Choices) == 0 {
		return nil, errors.NewSchemaValidationFailedError("completion returned no choices")
	}

	raw := resp.Choices[0].Message.Content

	result, err := validation.ValidateJSONString(raw, intentSchema())
	if err != nil {
		return nil, errors.NewSchemaValidationFailedError("output is not valid JSON: " + err.Error())
	}
	if !result.Valid {
		return nil, errors.NewSchemaValidationFailedError(
			strings.Join(result.GetErrorMessages(), "; "))
	}

	var out struct {
		Type       string            `json:"type"`
		Slots      map[string]string `json:"slots"`
		Confidence float64           `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errors.NewSchemaValidationFailedError("output decode failed: " + err.Error())
	}

	intentType := models.IntentType(out.Type)
	// The schema enum already rejects invented types; this guards against
	// schema edits drifting from the compiled set.
	if !intentType.Valid() {
		return nil, errors.NewSchemaValidationFailedError("unknown intent type " + out.Type)
	}

	if out.Slots == nil {
		out.Slots = map[string]string{}
	}
	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &models.ParsedIntent{
		Type:             intentType,
		Slots:            out.Slots,
		SourceConfidence: confidence,
		Origin:           models.OriginLLM,
	}, nil
}

func fallbackReason(err error) string {
	switch errors.From(err).Code {
	case errors.ErrCodeLLMTimeout:
		return "timeout"
	case errors.ErrCodeSchemaValidationFailed:
		return "schema"
	default:
		return "transport"
	}
}
