package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, 900, cfg.Chunk.TargetTokens)
	require.Equal(t, 150, cfg.Chunk.Overlap)
	require.Equal(t, "dense", cfg.Retrieval.Backend)
	require.Equal(t, 10, cfg.Retrieval.TopK)
	require.Equal(t, 384, cfg.Embed.Dimension)
}

func TestFromEnvRejectsBadBackend(t *testing.T) {
	t.Setenv("RETRIEVAL_BACKEND", "quantum")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnvRejectsBadOverlap(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestDirectoryHelpers(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/docspine-data")
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "/tmp/docspine-data/raw", cfg.RawDir())
	require.Equal(t, "/tmp/docspine-data/processed", cfg.ProcessedDir())
	require.Equal(t, "/tmp/docspine-data/manifests", cfg.ManifestsDir())
}
