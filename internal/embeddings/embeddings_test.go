package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministicEmbedderIsNormalized(t *testing.T) {
	e := NewDeterministicEmbedder(32)
	vec, err := e.EmbedQuery(context.Background(), "internal control over financial reporting")
	require.NoError(t, err)
	require.Len(t, vec, 32)

	var sumSq float64
	for _, x := range vec {
		sumSq += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-5)
}

func TestDeterministicEmbedderDeterministic(t *testing.T) {
	e := NewDeterministicEmbedder(16)
	a, err := e.EmbedQuery(context.Background(), "auditing standard 2201")
	require.NoError(t, err)
	b, err := e.EmbedQuery(context.Background(), "auditing standard 2201")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestDeterministicEmbedderDistinguishesDifferentText(t *testing.T) {
	e := NewDeterministicEmbedder(64)
	a, err := e.EmbedQuery(context.Background(), "internal control over financial reporting")
	require.NoError(t, err)
	b, err := e.EmbedQuery(context.Background(), "inline xbrl tagging requirements")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestDeterministicEmbedderBatchMatchesSingle(t *testing.T) {
	e := NewDeterministicEmbedder(16)
	single, err := e.EmbedQuery(context.Background(), "esef filings")
	require.NoError(t, err)
	batch, err := e.EmbedTexts(context.Background(), []string{"esef filings"})
	require.NoError(t, err)
	require.Equal(t, single, batch[0])
}

func TestDeterministicEmbedderModelID(t *testing.T) {
	e := NewDeterministicEmbedder(8)
	require.Equal(t, "deterministic-hash-v1", e.ModelID())
	require.Equal(t, 8, e.Dimension())
}
