// internal/search/embedder.go
package search

import (
	"context"
	stderrors "errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
)

var (
	errEmptyInput  = stderrors.New("empty input text")
	errEmptyVector = stderrors.New("embedding response contained no vector")
)

// OpenAIEmbedder computes embeddings through the OpenAI embeddings API.
// Vectors are tenant-independent; the tenant argument only scopes caching
// layers above this one.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

func NewOpenAIEmbedder(cfg config.OpenAIConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.CallBudget()}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.EmbeddingModel,
		dims:   cfg.EmbeddingDimensions,
	}
}

var _ Embedder = (*OpenAIEmbedder)(nil)

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dims
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, tenantID, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.NewEmbeddingFailedError(errEmptyInput)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dims > 0 {
		req.Dimensions = e.dims
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, errors.NewEmbeddingFailedError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.NewEmbeddingFailedError(errEmptyVector)
	}

	return resp.Data[0].Embedding, nil
}
