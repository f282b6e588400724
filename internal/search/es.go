// internal/search/es.go
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"sprint-assistant/internal/common/database"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/common/metrics"
)

// ElasticIndex serves both retrieval legs from one entity index. Every
// query carries a tenant term filter, and every returned hit is re-checked
// against the requested tenant; a mismatch is a security event, not
// something to filter out quietly.
type ElasticIndex struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewElasticIndex(es *database.ElasticsearchClient, index string, log logger.Logger) *ElasticIndex {
	return &ElasticIndex{
		client: es.Client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "entity-index"}),
	}
}

var _ Index = (*ElasticIndex)(nil)

func entityMapping(dims int) map[string]interface{} {
	return map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"tenant_id":   map[string]interface{}{"type": "keyword"},
				"entity_type": map[string]interface{}{"type": "keyword"},
				"title": map[string]interface{}{
					"type": "text",
					"fields": map[string]interface{}{
						"raw": map[string]interface{}{"type": "keyword"},
					},
				},
				"description":    map[string]interface{}{"type": "text"},
				"status":         map[string]interface{}{"type": "keyword"},
				"assignee":       map[string]interface{}{"type": "keyword"},
				"updated_at":     map[string]interface{}{"type": "date"},
				"linked_prs":     map[string]interface{}{"type": "keyword"},
				"linked_commits": map[string]interface{}{"type": "keyword"},
				"mentions":       map[string]interface{}{"type": "text"},
				"embedding": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
}

// EnsureIndex creates the entity index with its mapping if it is missing.
func (x *ElasticIndex) EnsureIndex(ctx context.Context, dims int) error {
	existsReq := esapi.IndicesExistsRequest{Index: []string{x.index}}
	existsRes, err := existsReq.Do(ctx, x.client)
	if err != nil {
		return errors.NewSearchFailedError("ensure-index", err)
	}
	defer existsRes.Body.Close()

	if existsRes.StatusCode == http.StatusOK {
		return nil
	}
	if existsRes.StatusCode != http.StatusNotFound {
		return errors.NewSearchFailedError("ensure-index", fmt.Errorf("exists check returned %s", existsRes.Status()))
	}

	payload, err := json.Marshal(entityMapping(dims))
	if err != nil {
		return errors.NewSearchFailedError("ensure-index", err)
	}

	createReq := esapi.IndicesCreateRequest{Index: x.index, Body: bytes.NewReader(payload)}
	createRes, err := createReq.Do(ctx, x.client)
	if err != nil {
		return errors.NewSearchFailedError("ensure-index", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return errors.NewSearchFailedError("ensure-index", fmt.Errorf("create returned %s", createRes.Status()))
	}

	x.logger.Info("created entity index", map[string]interface{}{
		"index":      x.index,
		"dimensions": dims,
	})
	return nil
}

// IndexEntity upserts one document. Used by the seeder tool and tests.
func (x *ElasticIndex) IndexEntity(ctx context.Context, doc EntityDocument) error {
	if doc.TenantID == "" {
		return errors.NewTenantIsolationViolationError("refusing to index a document without tenant id")
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return errors.NewSearchFailedError("index", err)
	}

	req := esapi.IndexRequest{
		Index:      x.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(payload),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return errors.NewSearchFailedError("index", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewSearchFailedError("index", fmt.Errorf("index returned %s", res.Status()))
	}
	return nil
}

// VectorSearch runs a tenant-filtered kNN query. Elasticsearch reports
// cosine kNN scores already mapped into [0,1], so the leg needs no further
// normalization.
func (x *ElasticIndex) VectorSearch(ctx context.Context, tenantID string, vector []float32, entityType string, k int) ([]Hit, error) {
	if tenantID == "" {
		return nil, x.tenantViolation("vector search without tenant id")
	}
	if k <= 0 {
		k = 10
	}

	body := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
			"filter":         tenantFilter(tenantID, entityType),
		},
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{"embedding"}},
	}

	resp, err := x.search(ctx, "vector", body)
	if err != nil {
		return nil, err
	}
	return x.collectHits(tenantID, resp, 0)
}

// LexicalSearch runs a tenant-filtered multi_match query. BM25 scores are
// unbounded, so each hit is divided by the leg's max score.
func (x *ElasticIndex) LexicalSearch(ctx context.Context, tenantID, text, entityType string, k int) ([]Hit, error) {
	if tenantID == "" {
		return nil, x.tenantViolation("lexical search without tenant id")
	}
	if k <= 0 {
		k = 10
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{
						"multi_match": map[string]interface{}{
							"query":     text,
							"fields":    []string{"title^3", "description", "mentions"},
							"type":      "best_fields",
							"fuzziness": "AUTO",
						},
					},
				},
				"filter": tenantFilter(tenantID, entityType),
			},
		},
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{"embedding"}},
	}

	resp, err := x.search(ctx, "lexical", body)
	if err != nil {
		return nil, err
	}

	var maxScore float64
	if resp.Hits.MaxScore != nil {
		maxScore = *resp.Hits.MaxScore
	}
	return x.collectHits(tenantID, resp, maxScore)
}

func tenantFilter(tenantID, entityType string) []interface{} {
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"tenant_id": tenantID}},
	}
	if entityType != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"entity_type": entityType},
		})
	}
	return filter
}

type searchResponse struct {
	Hits struct {
		MaxScore *float64 `json:"max_score"`
		Hits     []struct {
			ID     string         `json:"_id"`
			Score  float64        `json:"_score"`
			Source EntityDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (x *ElasticIndex) search(ctx context.Context, leg string, body map[string]interface{}) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewSearchFailedError(leg, err)
	}

	req := esapi.SearchRequest{
		Index: []string{x.index},
		Body:  bytes.NewReader(payload),
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return nil, errors.NewSearchFailedError(leg, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.NewSearchFailedError(leg, fmt.Errorf("search returned %s", res.Status()))
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, errors.NewSearchFailedError(leg, err)
	}
	return &out, nil
}

// collectHits converts the raw response, dividing by maxScore when it is
// positive, and re-verifies tenant ownership of every document.
func (x *ElasticIndex) collectHits(tenantID string, resp *searchResponse, maxScore float64) ([]Hit, error) {
	hits := make([]Hit, 0, len(resp.Hits.Hits))
	for _, raw := range resp.Hits.Hits {
		doc := raw.Source
		if doc.ID == "" {
			doc.ID = raw.ID
		}
		if doc.TenantID != tenantID {
			return nil, x.tenantViolation(fmt.Sprintf("index returned document %s owned by another tenant", doc.ID))
		}

		score := raw.Score
		if maxScore > 0 {
			score = score / maxScore
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		hits = append(hits, Hit{EntityDocument: doc, Score: score})
	}
	return hits, nil
}

func (x *ElasticIndex) tenantViolation(details string) error {
	metrics.TenantViolations.WithLabelValues("search").Inc()
	x.logger.Error("tenant isolation violation", map[string]interface{}{
		"security_event": true,
		"details":        details,
	})
	return errors.NewTenantIsolationViolationError(details)
}
