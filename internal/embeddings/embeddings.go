// Package embeddings turns chunk text and query text into L2-normalized
// vectors of a fixed dimension.
package embeddings

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"time"
)

// Embedder produces fixed-dimension, L2-normalized embeddings for chunk
// text and query text.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelID() string
}

// OllamaEmbedder calls Ollama's /api/embeddings endpoint once per text
// (the API has no native batch form) and L2-normalizes each result.
type OllamaEmbedder struct {
	host      string
	model     string
	dimension int
	client    *http.Client
}

// NewOllamaEmbedder constructs an Embedder backed by a local Ollama
// server.
func NewOllamaEmbedder(host, model string, dimension int, timeout time.Duration) *OllamaEmbedder {
	return &OllamaEmbedder{
		host:      strings.TrimRight(host, "/"),
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: timeout},
	}
}

func (e *OllamaEmbedder) Dimension() int  { return e.dimension }
func (e *OllamaEmbedder) ModelID() string { return "ollama:" + e.model }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// EmbedTexts embeds each text in order, normalizing to unit length.
func (e *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// EmbedQuery embeds a single query string the same way as document text
// — the provider makes no distinction between query and passage vectors.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embedOne(ctx, text)
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	if e.host == "" {
		return nil, fmt.Errorf("ollama host must be configured")
	}
	if e.model == "" {
		return nil, fmt.Errorf("ollama model must be configured")
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama embeddings api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ollama embeddings api returned status %s", resp.Status)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vec := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vec[i] = float32(v)
	}
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d got %d", e.dimension, len(vec))
	}
	return normalize(vec), nil
}

// normalize returns v scaled to unit L2 length. The zero vector is
// returned unchanged.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// DeterministicEmbedder produces reproducible, model-free embeddings by
// hash-projecting token shingles into a fixed-dimension vector. It has
// no semantic notion of similarity beyond shared vocabulary, but it
// lets ingest, retrieval, and manifest replay be exercised end to end
// without a running model — used by tests and no-model deployments.
type DeterministicEmbedder struct {
	dimension int
}

// NewDeterministicEmbedder constructs a dependency-free Embedder of the
// given dimension.
func NewDeterministicEmbedder(dimension int) *DeterministicEmbedder {
	return &DeterministicEmbedder{dimension: dimension}
}

func (e *DeterministicEmbedder) Dimension() int  { return e.dimension }
func (e *DeterministicEmbedder) ModelID() string { return "deterministic-hash-v1" }

func (e *DeterministicEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *DeterministicEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *DeterministicEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimension))
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign * weightFromHash(sum)
	}
	return normalize(vec)
}

// weightFromHash derives a small deterministic weight in (0, 1] from the
// upper bits of a hash, so repeated words accumulate rather than
// canceling identically.
func weightFromHash(sum uint64) float32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], sum)
	return float32(buf[0]%64+1) / 64
}
