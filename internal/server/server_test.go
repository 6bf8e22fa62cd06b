package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fabfab/docspine/internal/catalog"
	"github.com/fabfab/docspine/internal/config"
	"github.com/fabfab/docspine/internal/embeddings"
	"github.com/fabfab/docspine/internal/ingest"
	"github.com/fabfab/docspine/internal/retrieval"
	"github.com/fabfab/docspine/internal/storage"
	"github.com/fabfab/docspine/internal/vectorindex"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	emb := embeddings.NewDeterministicEmbedder(16)
	idx := vectorindex.NewHNSWIndex(16)
	cat := ingest.NewMemoryCatalog()

	chunks := []catalog.Chunk{
		{
			ChunkID: "s1:0001", SourceID: "s1",
			Text:        "the auditor shall evaluate control deficiencies",
			SectionPath: "AS 2201", PageStart: 3, PageEnd: 3,
			Framework: "Other", Jurisdiction: "US", DocType: "standard", AuthorityLevel: "authoritative",
			EffectiveDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Version: "1.0",
		},
	}
	for i := range chunks {
		vec, err := emb.EmbedQuery(context.Background(), chunks[i].Text)
		require.NoError(t, err)
		chunks[i].Embedding = vec
	}
	require.NoError(t, idx.Upsert(context.Background(), chunks))
	_, err := cat.UpsertChunks(context.Background(), chunks)
	require.NoError(t, err)

	router := retrieval.NewRouter(retrieval.Config{
		Backend: retrieval.BackendDense, TopK: 10, Probes: 10,
	}, emb, idx, nil, cat, nil, nil)

	files, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)

	cfg := config.Config{
		Retrieval: config.RetrievalConfig{Backend: "dense", TopK: 10, Probes: 10},
		Timeouts:  config.TimeoutConfig{Retrieval: 20 * time.Second, Refiner: 60 * time.Second},
	}
	return New(cfg, router, nil, files, nil, zap.NewNop().Sugar())
}

func postQuery(t *testing.T, srv *Server, body map[string]any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	return rec, parsed
}

func TestQueryReturnsCitationsAndManifest(t *testing.T) {
	srv := testServer(t)

	rec, parsed := postQuery(t, srv, map[string]any{
		"q":       "shall",
		"filters": map[string]string{"framework": "Other", "as_of": "2024-12-31"},
		"top_k":   5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, parsed["answer"])
	require.Equal(t, "dense", parsed["backend"])

	citations := parsed["citations"].([]any)
	require.Len(t, citations, 1)
	first := citations[0].(map[string]any)
	require.Equal(t, "s1:0001", first["chunk_id"])

	manifestPath := parsed["run_manifest"].(string)
	require.NotEmpty(t, manifestPath)
	require.FileExists(t, manifestPath)
}

func TestQueryNoEvidenceReturnsSentinelWithEmptyCitations(t *testing.T) {
	srv := testServer(t)

	rec, parsed := postQuery(t, srv, map[string]any{
		"q":       "shall",
		"filters": map[string]string{"framework": "IAASB"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "No evidence found in the specified corpus and filters.", parsed["answer"])
	require.Empty(t, parsed["citations"])
	require.FileExists(t, parsed["run_manifest"].(string))
}

func TestQueryRejectsEmptyQuestion(t *testing.T) {
	srv := testServer(t)
	rec, _ := postQuery(t, srv, map[string]any{"q": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestEndpointDisabledWithoutRunner(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
