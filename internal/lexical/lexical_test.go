package lexical

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/docspine/internal/catalog"
	"github.com/fabfab/docspine/internal/filterplan"
)

func sampleChunks() []catalog.Chunk {
	return []catalog.Chunk{
		{
			ChunkID:        "c1",
			SourceID:       "s1",
			Text:           "internal control over financial reporting requires a risk assessment",
			Framework:      "PCAOB",
			Jurisdiction:   "US",
			DocType:        "standard",
			AuthorityLevel: "authoritative",
			EffectiveDate:  time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			Version:        "1",
		},
		{
			ChunkID:        "c2",
			SourceID:       "s2",
			Text:           "inline XBRL tagging requirements for ESEF filings",
			Framework:      "ESMA",
			Jurisdiction:   "EU",
			DocType:        "guidance",
			AuthorityLevel: "interpretive",
			EffectiveDate:  time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC),
			Version:        "1",
		},
	}
}

func TestIndexAndSearchMatchesByExpandedAcronym(t *testing.T) {
	idx, err := NewIndex("", true)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexChunks(context.Background(), sampleChunks()))

	hits, err := idx.Search(context.Background(), "ICFR", filterplan.Predicate{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "c1", hits[0].ChunkID)
}

func TestSearchRespectsJurisdictionFilter(t *testing.T) {
	idx, err := NewIndex("", true)
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.IndexChunks(context.Background(), sampleChunks()))

	_, pred := filterplan.Plan(map[string]string{"jurisdiction": "EU"})
	hits, err := idx.Search(context.Background(), "XBRL", pred, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "c2", hits[0].ChunkID)
}

func TestSearchRankIsOneIndexed(t *testing.T) {
	idx, err := NewIndex("", true)
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.IndexChunks(context.Background(), sampleChunks()))

	hits, err := idx.Search(context.Background(), "requirements", filterplan.Predicate{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, 1, hits[0].Rank)
}

func TestDocCountReflectsIndexedChunks(t *testing.T) {
	idx, err := NewIndex("", true)
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.IndexChunks(context.Background(), sampleChunks()))

	count, err := idx.DocCount()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
}
