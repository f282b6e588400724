// internal/search/memory_test.go
package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexLexicalSearchIsTenantScoped(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Put(EntityDocument{ID: "a1", TenantID: "tenant-a", EntityType: "story", Title: "login flow", UpdatedAt: time.Now()})
	idx.Put(EntityDocument{ID: "b1", TenantID: "tenant-b", EntityType: "story", Title: "login flow", UpdatedAt: time.Now()})

	hits, err := idx.LexicalSearch(context.Background(), "tenant-a", "login", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].ID)
}

func TestMemoryIndexLexicalRanksByOverlap(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Put(EntityDocument{ID: "s1", TenantID: "t", EntityType: "story", Title: "payment checkout flow"})
	idx.Put(EntityDocument{ID: "s2", TenantID: "t", EntityType: "story", Title: "payment page"})

	hits, err := idx.LexicalSearch(context.Background(), "t", "payment checkout", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "s1", hits[0].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMemoryIndexVectorSearchCosine(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Put(EntityDocument{ID: "s1", TenantID: "t", EntityType: "story", Title: "a", Embedding: []float32{1, 0}})
	idx.Put(EntityDocument{ID: "s2", TenantID: "t", EntityType: "story", Title: "b", Embedding: []float32{0, 1}})

	hits, err := idx.VectorSearch(context.Background(), "t", []float32{1, 0.1}, "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "s1", hits[0].ID)
}

func TestMemoryIndexEntityTypeFilter(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Put(EntityDocument{ID: "s1", TenantID: "t", EntityType: "story", Title: "release"})
	idx.Put(EntityDocument{ID: "sp1", TenantID: "t", EntityType: "sprint", Title: "release sprint"})

	hits, err := idx.LexicalSearch(context.Background(), "t", "release", "sprint", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "sp1", hits[0].ID)
}
