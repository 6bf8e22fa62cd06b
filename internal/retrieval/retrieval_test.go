package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/docspine/internal/lexical"
	"github.com/fabfab/docspine/internal/vectorindex"
)

func TestHybridBlendPrefersItemStrongInBoth(t *testing.T) {
	dense := []vectorindex.Hit{
		{ChunkID: "a", Distance: 0.1},
		{ChunkID: "b", Distance: 0.9},
	}
	sparse := []lexical.Hit{
		{ChunkID: "a", Score: 5.0},
		{ChunkID: "b", Score: 0.1},
	}

	out := HybridBlend(dense, sparse, 0.6, 0.4)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].ChunkID)
	require.Greater(t, out[0].Score, out[1].Score)
}

func TestHybridBlendHandlesIDsOnOneSideOnly(t *testing.T) {
	dense := []vectorindex.Hit{{ChunkID: "a", Distance: 0.2}}
	sparse := []lexical.Hit{{ChunkID: "b", Score: 3.0}}

	out := HybridBlend(dense, sparse, 0.6, 0.4)
	require.Len(t, out, 2)
	ids := map[string]bool{out[0].ChunkID: true, out[1].ChunkID: true}
	require.True(t, ids["a"])
	require.True(t, ids["b"])
}

func TestHybridBlendSingleCandidateIsTopScore(t *testing.T) {
	dense := []vectorindex.Hit{{ChunkID: "only", Distance: 0.4}}
	out := HybridBlend(dense, nil, 0.6, 0.4)
	require.Len(t, out, 1)
	require.Equal(t, "only", out[0].ChunkID)
}

func TestMinMaxNormalizeInvertsDistance(t *testing.T) {
	values := map[string]float64{"near": 0.0, "far": 1.0}
	out := minMaxNormalize(values, true)
	require.InDelta(t, 1.0, out["near"], 1e-9)
	require.InDelta(t, 0.0, out["far"], 1e-9)
}

func TestLexicalCrossEncoderScoresOverlap(t *testing.T) {
	enc := LexicalCrossEncoder{}
	candidates := []EvidenceHit{
		{Text: "internal control over financial reporting risk assessment"},
		{Text: "unrelated text about something else entirely"},
	}
	scores, err := enc.Score(context.Background(), "internal control over financial reporting", candidates)
	require.NoError(t, err)
	require.Greater(t, scores[0], scores[1])
}
