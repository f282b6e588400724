// internal/search/memory.go
package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is the in-process Index used in memory mode, demos and
// tests. The vector leg ranks by cosine similarity, the lexical leg by
// normalized token overlap; both are tenant-scoped like the Elasticsearch
// implementation.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs []EntityDocument
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

var _ Index = (*MemoryIndex)(nil)

// Put inserts or replaces a document by (tenant, id).
func (m *MemoryIndex) Put(doc EntityDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.docs {
		if m.docs[i].TenantID == doc.TenantID && m.docs[i].ID == doc.ID {
			m.docs[i] = doc
			return
		}
	}
	m.docs = append(m.docs, doc)
}

func (m *MemoryIndex) VectorSearch(ctx context.Context, tenantID string, vector []float32, entityType string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, doc := range m.docs {
		if doc.TenantID != tenantID {
			continue
		}
		if entityType != "" && doc.EntityType != entityType {
			continue
		}
		if len(doc.Embedding) == 0 {
			continue
		}
		score := cosine(vector, doc.Embedding)
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{EntityDocument: doc, Score: score})
	}
	return topHits(hits, k), nil
}

func (m *MemoryIndex) LexicalSearch(ctx context.Context, tenantID, text, entityType string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := strings.Fields(Normalize(text))
	if len(query) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, doc := range m.docs {
		if doc.TenantID != tenantID {
			continue
		}
		if entityType != "" && doc.EntityType != entityType {
			continue
		}
		score := overlap(query, strings.Fields(Normalize(doc.Title+" "+doc.Description)))
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{EntityDocument: doc, Score: score})
	}
	return topHits(hits, k), nil
}

func topHits(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// overlap scores how much of the query appears in the document tokens.
func overlap(query, docTokens []string) float64 {
	if len(query) == 0 || len(docTokens) == 0 {
		return 0
	}
	present := make(map[string]bool, len(docTokens))
	for _, tok := range docTokens {
		present[tok] = true
	}
	matched := 0
	for _, tok := range query {
		if present[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
