// Package retrieval turns a query string and a filter map into a ranked list of evidence-bearing
// chunks, across three backends (dense-only with optional reranking,
// hybrid dense+lexical, and an external vector service).
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fabfab/docspine/internal/apperrors"
	"github.com/fabfab/docspine/internal/catalog"
	"github.com/fabfab/docspine/internal/embeddings"
	"github.com/fabfab/docspine/internal/filterplan"
	"github.com/fabfab/docspine/internal/lexical"
	"github.com/fabfab/docspine/internal/vectorindex"
)

// Backend selects which retrieval path the Router takes.
type Backend string

const (
	BackendDense    Backend = "dense"
	BackendHybrid   Backend = "hybrid"
	BackendExternal Backend = "external"
)

// EvidenceHit is one retrieved chunk, carrying every field an answer
// citation needs without a further catalog round trip.
type EvidenceHit struct {
	ChunkID        string
	SourceID       string
	Text           string
	SectionPath    string
	PageStart      int
	PageEnd        int
	Framework      string
	Jurisdiction   string
	DocType        string
	AuthorityLevel string
	EffectiveDate  time.Time
	Version        string
	// Distance is the cosine distance reported by the dense backend (kept
	// when the dense path reranks) or 1 minus an external match's score;
	// zero on the hybrid path, which only produces a blended score.
	Distance float64
	Score    float64
}

// ExternalVectorStore is implemented by remote ANN services (Pinecone
// and similar) that return metadata-rich matches without necessarily
// carrying chunk text, which the Router then hydrates from the catalog.
type ExternalVectorStore interface {
	Query(ctx context.Context, vector []float32, topK int, filters filterplan.Filters) ([]EvidenceHit, error)
}

// CrossEncoder re-scores a shortlist of dense candidates against the
// original query text.
type CrossEncoder interface {
	Score(ctx context.Context, query string, candidates []EvidenceHit) ([]float64, error)
}

// ChunkCatalog is the slice of the catalog store the router needs for
// hydrating index hits into full evidence rows.
type ChunkCatalog interface {
	GetChunksByID(ctx context.Context, ids []string) (map[string]catalog.Chunk, error)
	GetChunkText(ctx context.Context, ids []string) (map[string]string, error)
}

// Config carries the tunables the router needs, mirrored 1:1 from
// config.RetrievalConfig so callers don't need to import the config
// package just to build a Router.
type Config struct {
	Backend          Backend
	TopK             int
	Probes           int
	HybridKDense     int
	HybridKSparse    int
	HybridWDense     float64
	HybridWSparse    float64
	RerankEnable     bool
	RerankCandidates int
}

// Router dispatches queries to the configured retrieval backend.
type Router struct {
	cfg      Config
	embedder embeddings.Embedder
	dense    vectorindex.Index
	sparse   *lexical.Index
	catalog  ChunkCatalog
	external ExternalVectorStore
	reranker CrossEncoder
}

// NewRouter wires the embedder and whichever of dense/sparse/external
// backends are configured. sparse, external, and reranker may be nil
// when the corresponding backend/feature is disabled.
func NewRouter(cfg Config, embedder embeddings.Embedder, dense vectorindex.Index, sparse *lexical.Index, cat ChunkCatalog, external ExternalVectorStore, reranker CrossEncoder) *Router {
	if reranker == nil {
		reranker = LexicalCrossEncoder{}
	}
	return &Router{cfg: cfg, embedder: embedder, dense: dense, sparse: sparse, catalog: cat, external: external, reranker: reranker}
}

// Retrieve embeds the query, dispatches to the configured backend, and
// returns the ranked evidence set. probes tunes approximate-search
// recall; zero falls back to the configured default.
func (r *Router) Retrieve(ctx context.Context, queryText string, rawFilters map[string]string, topK, probes int) ([]EvidenceHit, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if probes <= 0 {
		probes = r.cfg.Probes
	}
	filters, pred := filterplan.Plan(rawFilters)

	switch r.cfg.Backend {
	case BackendExternal:
		return r.retrieveExternal(ctx, queryText, filters, topK)
	case BackendHybrid:
		return r.retrieveHybrid(ctx, queryText, pred, topK, probes)
	default:
		return r.retrieveDense(ctx, queryText, pred, topK, probes)
	}
}

func (r *Router) retrieveExternal(ctx context.Context, queryText string, filters filterplan.Filters, topK int) ([]EvidenceHit, error) {
	if r.external == nil {
		return nil, fmt.Errorf("external vector backend not configured")
	}
	qvec, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.external.Query(ctx, qvec, topK, filters)
	if err != nil {
		return nil, fmt.Errorf("%w: external vector query: %v", apperrors.ErrBackendUnavailable, err)
	}
	hydrated, err := r.hydrateText(ctx, hits)
	if err != nil {
		return nil, err
	}
	sortEvidence(hydrated)
	return hydrated, nil
}

func (r *Router) retrieveDense(ctx context.Context, queryText string, pred filterplan.Predicate, topK, probes int) ([]EvidenceHit, error) {
	qvec, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidateK := topK
	if r.cfg.RerankEnable {
		candidateK = r.cfg.RerankCandidates
	}

	hits, err := r.dense.Search(ctx, qvec, pred, probes, candidateK)
	if err != nil {
		return nil, fmt.Errorf("%w: dense search: %v", apperrors.ErrBackendUnavailable, err)
	}

	evidence, err := r.hydrateDenseHits(ctx, hits)
	if err != nil {
		return nil, err
	}

	if !r.cfg.RerankEnable {
		if len(evidence) > topK {
			evidence = evidence[:topK]
		}
		return evidence, nil
	}

	scores, err := r.reranker.Score(ctx, queryText, evidence)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	for i := range evidence {
		evidence[i].Score = scores[i]
	}
	sortEvidence(evidence)
	if len(evidence) > topK {
		evidence = evidence[:topK]
	}
	return evidence, nil
}

// sortEvidence applies the deterministic final ordering shared by every
// retrieval path: score descending, newest effective_date first on ties.
func sortEvidence(hits []EvidenceHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].EffectiveDate.After(hits[j].EffectiveDate)
	})
}

func (r *Router) retrieveHybrid(ctx context.Context, queryText string, pred filterplan.Predicate, topK, probes int) ([]EvidenceHit, error) {
	qvec, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	denseHits, err := r.dense.Search(ctx, qvec, pred, probes, r.cfg.HybridKDense)
	if err != nil {
		return nil, fmt.Errorf("%w: hybrid dense search: %v", apperrors.ErrBackendUnavailable, err)
	}

	var sparseHits []lexical.Hit
	if r.sparse != nil {
		sparseHits, err = r.sparse.Search(ctx, queryText, pred, r.cfg.HybridKSparse)
		if err != nil {
			return nil, fmt.Errorf("%w: hybrid sparse search: %v", apperrors.ErrBackendUnavailable, err)
		}
	}

	blended := HybridBlend(denseHits, sparseHits, r.cfg.HybridWDense, r.cfg.HybridWSparse)
	if len(blended) > topK {
		blended = blended[:topK]
	}

	ids := make([]string, len(blended))
	for i, b := range blended {
		ids[i] = b.ChunkID
	}
	rows, err := r.catalog.GetChunksByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate hybrid hits: %w", err)
	}

	out := make([]EvidenceHit, 0, len(blended))
	for _, b := range blended {
		out = append(out, evidenceFromChunk(rows[b.ChunkID], b.Score))
	}
	sortEvidence(out)
	return out, nil
}

func (r *Router) hydrateDenseHits(ctx context.Context, hits []vectorindex.Hit) ([]EvidenceHit, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	rows, err := r.catalog.GetChunksByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate dense hits: %w", err)
	}
	out := make([]EvidenceHit, len(hits))
	for i, h := range hits {
		out[i] = evidenceFromChunk(rows[h.ChunkID], 1-h.Distance)
		out[i].Distance = h.Distance
	}
	return out, nil
}

// evidenceFromChunk projects a catalog row into an EvidenceHit, keeping
// score as the caller-supplied ranking signal (distance-derived,
// blended, or reranked — the catalog row carries no opinion on score).
func evidenceFromChunk(c catalog.Chunk, score float64) EvidenceHit {
	return EvidenceHit{
		ChunkID:        c.ChunkID,
		SourceID:       c.SourceID,
		Text:           c.Text,
		SectionPath:    c.SectionPath,
		PageStart:      c.PageStart,
		PageEnd:        c.PageEnd,
		Framework:      c.Framework,
		Jurisdiction:   c.Jurisdiction,
		DocType:        c.DocType,
		AuthorityLevel: c.AuthorityLevel,
		EffectiveDate:  c.EffectiveDate,
		Version:        c.Version,
		Score:          score,
	}
}

func (r *Router) hydrateText(ctx context.Context, hits []EvidenceHit) ([]EvidenceHit, error) {
	var missing []string
	for _, h := range hits {
		if strings.TrimSpace(h.Text) == "" {
			missing = append(missing, h.ChunkID)
		}
	}
	if len(missing) == 0 {
		return hits, nil
	}
	rows, err := r.catalog.GetChunkText(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("hydrate external hits: %w", err)
	}
	for i, h := range hits {
		if strings.TrimSpace(h.Text) == "" {
			hits[i].Text = rows[h.ChunkID]
		}
	}
	return hits, nil
}

// blendedHit is one id with its combined dense+sparse score; the caller
// hydrates the full row from the catalog by id.
type blendedHit struct {
	ChunkID string
	Score   float64
}

// HybridBlend normalizes dense distances (inverted, so higher is
// better) and sparse scores via min-max, then combines them with the
// configured weights. Ids present in only one side default the other
// side's contribution to zero.
func HybridBlend(dense []vectorindex.Hit, sparse []lexical.Hit, wDense, wSparse float64) []EvidenceHit {
	denseDistance := make(map[string]float64, len(dense))
	for _, h := range dense {
		denseDistance[h.ChunkID] = h.Distance
	}
	sparseScore := make(map[string]float64, len(sparse))
	for _, h := range sparse {
		sparseScore[h.ChunkID] = h.Score
	}

	denseNorm := minMaxNormalize(denseDistance, true)
	sparseNorm := minMaxNormalize(sparseScore, false)

	seen := map[string]struct{}{}
	var ordered []string
	for _, h := range dense {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			ordered = append(ordered, h.ChunkID)
		}
	}
	for _, h := range sparse {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			ordered = append(ordered, h.ChunkID)
		}
	}

	blended := make([]blendedHit, 0, len(ordered))
	for _, id := range ordered {
		score := wDense*denseNorm[id] + wSparse*sparseNorm[id]
		blended = append(blended, blendedHit{ChunkID: id, Score: score})
	}
	sort.SliceStable(blended, func(i, j int) bool { return blended[i].Score > blended[j].Score })

	out := make([]EvidenceHit, len(blended))
	for i, b := range blended {
		out[i] = EvidenceHit{ChunkID: b.ChunkID, Score: b.Score}
	}
	return out
}

// minMaxNormalize scales values to [0, 1]. With invert, the highest raw
// value maps to 0 (used for distances, where lower is better). A
// single-element or flat input maps every value to the same normalized
// score via an epsilon-guarded denominator.
func minMaxNormalize(values map[string]float64, invert bool) map[string]float64 {
	out := make(map[string]float64, len(values))
	if len(values) == 0 {
		return out
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	denom := max - min
	if denom == 0 {
		denom = 1e-9
	}
	for k, v := range values {
		norm := (v - min) / denom
		if invert {
			norm = 1.0 - norm
		}
		out[k] = norm
	}
	return out
}

// LexicalCrossEncoder is a dependency-free fallback reranker: term
// overlap between the query and the candidate text, divided by the
// square root of the candidate's term count. The corpus carries no Go cross-encoder model
// binding, so this keeps reranking functional without a network call;
// a real embedding-backed cross-encoder can be substituted via the
// CrossEncoder interface without touching the router.
type LexicalCrossEncoder struct{}

func (LexicalCrossEncoder) Score(ctx context.Context, query string, candidates []EvidenceHit) ([]float64, error) {
	queryTerms := termSet(query)
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		candidateTerms := strings.Fields(strings.ToLower(c.Text))
		if len(candidateTerms) == 0 {
			continue
		}
		overlap := 0
		for _, t := range candidateTerms {
			if _, ok := queryTerms[t]; ok {
				overlap++
			}
		}
		scores[i] = float64(overlap) / math.Sqrt(float64(len(candidateTerms)))
	}
	return scores, nil
}

func termSet(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Fields(strings.ToLower(text)) {
		out[t] = struct{}{}
	}
	return out
}
