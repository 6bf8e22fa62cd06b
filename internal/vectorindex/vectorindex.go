// Package vectorindex provides dense ANN search over chunk
// embeddings, predicate-filtered (in SQL for pgvector, as a post-filter
// for hnsw), tie-broken by newest
// effective_date. Two backends are provided: a pgvector-backed index
// sharing the catalog's connection pool, and a pure-Go in-memory hnsw
// index for local/no-database deployments.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/docspine/internal/catalog"
	"github.com/fabfab/docspine/internal/filterplan"
)

// Hit is one dense match.
type Hit struct {
	ChunkID       string
	Distance      float64
	EffectiveDate time.Time
}

// Index is the dense retrieval backend contract shared by the pgvector
// and hnsw implementations. probes tunes the recall/latency tradeoff of
// the approximate search; values outside [1, 200] fall back to the
// backend default.
type Index interface {
	Upsert(ctx context.Context, chunks []catalog.Chunk) error
	Search(ctx context.Context, queryVec []float32, pred filterplan.Predicate, probes, k int) ([]Hit, error)
	Delete(ctx context.Context, chunkIDs []string) error
}

const defaultProbes = 10

func clampProbes(probes int) int {
	if probes < 1 || probes > 200 {
		return defaultProbes
	}
	return probes
}

// PGVectorIndex runs ANN search directly in Postgres via pgvector's
// ivfflat index, sharing the catalog store's connection pool.
type PGVectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPGVectorIndex wraps an existing pool (normally catalog.Store.Pool())
// so the dense index and the catalog never open separate connections.
func NewPGVectorIndex(pool *pgxpool.Pool, dimension int) *PGVectorIndex {
	return &PGVectorIndex{pool: pool, dimension: dimension}
}

// Upsert is a no-op for PGVectorIndex: embeddings are written by
// catalog.Store.UpsertChunks directly into the same table this index
// queries, so there is nothing separate to maintain.
func (p *PGVectorIndex) Upsert(ctx context.Context, chunks []catalog.Chunk) error { return nil }

// Delete is a no-op for PGVectorIndex for the same reason: row deletion
// happens through catalog.Store.DeleteDocument's cascade.
func (p *PGVectorIndex) Delete(ctx context.Context, chunkIDs []string) error { return nil }

// Search performs a filter-first ANN search, ordering by cosine distance
// ascending and breaking ties by newest effective_date.
func (p *PGVectorIndex) Search(ctx context.Context, queryVec []float32, pred filterplan.Predicate, probes, k int) ([]Hit, error) {
	if len(queryVec) != p.dimension {
		return nil, fmt.Errorf("query embedding dimension mismatch: expected %d got %d", p.dimension, len(queryVec))
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin search transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", clampProbes(probes))); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	where, args := pred.SQL(3)
	query := fmt.Sprintf(`
SELECT chunk_id, effective_date, (embedding <=> $1) AS distance
FROM chunks
WHERE embedding IS NOT NULL%s
ORDER BY distance ASC, effective_date DESC
LIMIT $2`, where)

	queryArgs := append([]any{pgvector.NewVector(queryVec), k}, args...)

	rows, err := tx.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("ann search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.EffectiveDate, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan ann hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, tx.Commit(ctx)
}

var _ Index = (*PGVectorIndex)(nil)

// hnswRecord carries the denormalized filter columns alongside each
// vector so Search can post-filter without a round trip to the catalog.
type hnswRecord struct {
	sourceID       string
	framework      string
	jurisdiction   string
	docType        string
	authorityLevel string
	effectiveDate  time.Time
}

// HNSWIndex is a pure-Go, CGO-free approximate nearest-neighbor index
// for local deployments with no Postgres dependency.
type HNSWIndex struct {
	mu        sync.RWMutex
	graph     *hnsw.Graph[uint64]
	dimension int

	idToKey map[string]uint64
	keyToID map[uint64]string
	records map[uint64]hnswRecord
	nextKey uint64
}

// NewHNSWIndex constructs an in-memory cosine-distance hnsw graph.
func NewHNSWIndex(dimension int) *HNSWIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:     graph,
		dimension: dimension,
		idToKey:   make(map[string]uint64),
		keyToID:   make(map[uint64]string),
		records:   make(map[uint64]hnswRecord),
	}
}

// Upsert adds or lazily replaces the given chunks' embeddings. Lazy
// deletion on replace avoids a known coder/hnsw issue when the last
// node in the graph is deleted outright.
func (h *HNSWIndex) Upsert(ctx context.Context, chunks []catalog.Chunk) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) != h.dimension {
			return fmt.Errorf("embedding dimension mismatch for %s: expected %d got %d", c.ChunkID, h.dimension, len(c.Embedding))
		}
		if existing, ok := h.idToKey[c.ChunkID]; ok {
			delete(h.keyToID, existing)
			delete(h.records, existing)
		}

		key := h.nextKey
		h.nextKey++

		h.graph.Add(hnsw.MakeNode(key, c.Embedding))
		h.idToKey[c.ChunkID] = key
		h.keyToID[key] = c.ChunkID
		h.records[key] = hnswRecord{
			sourceID:       c.SourceID,
			framework:      c.Framework,
			jurisdiction:   c.Jurisdiction,
			docType:        c.DocType,
			authorityLevel: c.AuthorityLevel,
			effectiveDate:  c.EffectiveDate,
		}
	}
	return nil
}

// Delete lazily removes chunks from the index.
func (h *HNSWIndex) Delete(ctx context.Context, chunkIDs []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range chunkIDs {
		if key, ok := h.idToKey[id]; ok {
			delete(h.keyToID, key)
			delete(h.records, key)
			delete(h.idToKey, id)
		}
	}
	return nil
}

// Search walks the hnsw graph, over-fetching to survive post-filtering,
// and orders surviving hits by cosine distance ascending, newest
// effective_date first on ties. probes scales the over-fetch factor: the
// graph has no ivfflat probe lists, so widening the candidate pool is
// the equivalent recall lever.
func (h *HNSWIndex) Search(ctx context.Context, queryVec []float32, pred filterplan.Predicate, probes, k int) ([]Hit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(queryVec) != h.dimension {
		return nil, fmt.Errorf("query embedding dimension mismatch: expected %d got %d", h.dimension, len(queryVec))
	}
	if h.graph.Len() == 0 {
		return nil, nil
	}

	fetch := k * clampProbes(probes)
	if fetch < k {
		fetch = k
	}
	nodes := h.graph.Search(queryVec, fetch)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		id, ok := h.keyToID[node.Key]
		if !ok {
			continue // lazily deleted
		}
		rec := h.records[node.Key]
		if !pred.Matches(rec.framework, rec.jurisdiction, rec.docType, rec.authorityLevel, rec.sourceID, rec.effectiveDate) {
			continue
		}
		distance := float64(h.graph.Distance(queryVec, node.Value))
		hits = append(hits, Hit{ChunkID: id, Distance: distance, EffectiveDate: rec.effectiveDate})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if math.Abs(hits[i].Distance-hits[j].Distance) > 1e-9 {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].EffectiveDate.After(hits[j].EffectiveDate)
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

var _ Index = (*HNSWIndex)(nil)
