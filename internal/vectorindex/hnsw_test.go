package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/docspine/internal/catalog"
	"github.com/fabfab/docspine/internal/filterplan"
)

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestHNSWIndexSearchReturnsClosestVector(t *testing.T) {
	idx := NewHNSWIndex(4)
	chunks := []catalog.Chunk{
		{ChunkID: "a", SourceID: "s1", Framework: "PCAOB", Jurisdiction: "US", DocType: "standard", AuthorityLevel: "authoritative", EffectiveDate: time.Now(), Embedding: unitVector(4, 0)},
		{ChunkID: "b", SourceID: "s2", Framework: "PCAOB", Jurisdiction: "US", DocType: "standard", AuthorityLevel: "authoritative", EffectiveDate: time.Now(), Embedding: unitVector(4, 1)},
	}
	require.NoError(t, idx.Upsert(context.Background(), chunks))

	hits, err := idx.Search(context.Background(), unitVector(4, 0), filterplan.Predicate{}, 10, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a", hits[0].ChunkID)
}

func TestHNSWIndexSearchAppliesPredicate(t *testing.T) {
	idx := NewHNSWIndex(4)
	chunks := []catalog.Chunk{
		{ChunkID: "a", SourceID: "s1", Framework: "PCAOB", Jurisdiction: "US", DocType: "standard", AuthorityLevel: "authoritative", EffectiveDate: time.Now(), Embedding: unitVector(4, 0)},
		{ChunkID: "b", SourceID: "s2", Framework: "ESMA", Jurisdiction: "EU", DocType: "guidance", AuthorityLevel: "interpretive", EffectiveDate: time.Now(), Embedding: unitVector(4, 0)},
	}
	require.NoError(t, idx.Upsert(context.Background(), chunks))

	_, pred := filterplan.Plan(map[string]string{"jurisdiction": "EU"})
	hits, err := idx.Search(context.Background(), unitVector(4, 0), pred, 10, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "b", hits[0].ChunkID)
}

func TestHNSWIndexDeleteRemovesHit(t *testing.T) {
	idx := NewHNSWIndex(4)
	chunks := []catalog.Chunk{
		{ChunkID: "a", SourceID: "s1", EffectiveDate: time.Now(), Embedding: unitVector(4, 0)},
	}
	require.NoError(t, idx.Upsert(context.Background(), chunks))
	require.NoError(t, idx.Delete(context.Background(), []string{"a"}))

	hits, err := idx.Search(context.Background(), unitVector(4, 0), filterplan.Predicate{}, 10, 5)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestHNSWIndexRejectsDimensionMismatch(t *testing.T) {
	idx := NewHNSWIndex(4)
	err := idx.Upsert(context.Background(), []catalog.Chunk{{ChunkID: "a", Embedding: unitVector(3, 0)}})
	require.Error(t, err)
}

func TestHNSWIndexTieBreaksByNewestEffectiveDate(t *testing.T) {
	idx := NewHNSWIndex(4)
	older := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	chunks := []catalog.Chunk{
		{ChunkID: "old", SourceID: "s1", EffectiveDate: older, Embedding: unitVector(4, 0)},
		{ChunkID: "new", SourceID: "s2", EffectiveDate: newer, Embedding: unitVector(4, 0)},
	}
	require.NoError(t, idx.Upsert(context.Background(), chunks))

	hits, err := idx.Search(context.Background(), unitVector(4, 0), filterplan.Predicate{}, 10, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "new", hits[0].ChunkID)
}
