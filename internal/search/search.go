// internal/search/search.go
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// EntityDocument is the indexed shape of one platform entity. The same
// struct serves indexing and _source decoding.
type EntityDocument struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	EntityType    string    `json:"entity_type"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Status        string    `json:"status,omitempty"`
	Assignee      string    `json:"assignee,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
	LinkedPRs     []string  `json:"linked_prs,omitempty"`
	LinkedCommits []string  `json:"linked_commits,omitempty"`
	Mentions      []string  `json:"mentions,omitempty"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

// Hit is one scored retrieval result. Scores are normalized to [0,1]
// within each leg before they leave this package.
type Hit struct {
	EntityDocument
	Score float64
}

// Embedder turns text into a vector. Implementations must be deterministic
// for identical input so cached vectors stay interchangeable with fresh ones.
type Embedder interface {
	Embed(ctx context.Context, tenantID, text string) ([]float32, error)
	Dimensions() int
}

// Index is the hybrid retrieval surface. Both legs are tenant-scoped;
// entityType narrows the entity universe when the intent hints one.
type Index interface {
	VectorSearch(ctx context.Context, tenantID string, vector []float32, entityType string, k int) ([]Hit, error)
	LexicalSearch(ctx context.Context, tenantID, text, entityType string, k int) ([]Hit, error)
}

// Normalize lowercases, folds punctuation into spaces and collapses runs of
// whitespace. Both the embedding cache key and title matching use this so
// the two agree on what "the same text" means.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

func cacheKey(tenantID, text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return "emb:" + tenantID + ":" + hex.EncodeToString(sum[:])
}
