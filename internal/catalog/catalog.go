// Package catalog persists Document and Chunk records in Postgres via
// pgx: one connection pool shared with the dense vector index, the
// compound filter indexes the retrieval predicates rely on, and the
// content-addressed chunk uniqueness constraint.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document is the catalog's document-level record.
type Document struct {
	SourceID       string
	Title          string
	DocType        string
	Framework      string
	Jurisdiction   string
	AuthorityLevel string
	EffectiveDate  time.Time
	Version        string
	SourcePath     string
	IngestTimestamp time.Time
}

// Chunk is the catalog's chunk-level record, carrying the owning
// document's denormalized filter columns and its L2-normalized
// embedding.
type Chunk struct {
	ChunkID        string
	SourceID       string
	Text           string
	Tokens         int
	PageStart      int
	PageEnd        int
	SectionPath    string
	Framework      string
	Jurisdiction   string
	DocType        string
	AuthorityLevel string
	EffectiveDate  time.Time
	Version        string
	Embedding      []float32
}

// Store holds persistent document and chunk records with denormalized
// filter columns.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewStore connects to Postgres, applies the connection pool limits, and
// ensures the catalog schema exists.
func NewStore(ctx context.Context, dsn string, maxConns, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect catalog database: %w", err)
	}

	store := &Store{pool: pool, dimension: dimension}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pgxpool so sibling components (the
// pgvector-backed Vector Index) can share one connection pool rather
// than opening a second one.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int { return s.dimension }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	source_id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	framework TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	authority_level TEXT NOT NULL,
	effective_date DATE NOT NULL,
	version TEXT NOT NULL,
	source_path TEXT NOT NULL,
	ingest_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL REFERENCES documents(source_id) ON DELETE CASCADE,
	text TEXT NOT NULL,
	tokens INT NOT NULL,
	page_start INT NOT NULL,
	page_end INT NOT NULL,
	section_path TEXT NOT NULL,
	framework TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	authority_level TEXT NOT NULL,
	effective_date DATE NOT NULL,
	version TEXT NOT NULL,
	embedding vector(%[1]d),
	UNIQUE (source_id, section_path, text)
);

CREATE INDEX IF NOT EXISTS idx_chunk_filters
	ON chunks (framework, jurisdiction, doc_type, authority_level);

CREATE INDEX IF NOT EXISTS idx_chunk_asof
	ON chunks (framework, jurisdiction, effective_date, version);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'idx_chunks_embedding_cosine'
	) THEN
		EXECUTE 'CREATE INDEX idx_chunks_embedding_cosine ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;
`, s.dimension)

	_, err := s.pool.Exec(ctx, stmt)
	return err
}

// UpsertDocument inserts or fully replaces a document row. Per the data
// model, document content is immutable but metadata may be updated in
// place — callers that intend a metadata-only update should use
// UpdateDocumentMetadata instead, which also propagates the change to
// owned chunks in one transaction.
func (s *Store) UpsertDocument(ctx context.Context, d Document) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents (source_id, title, doc_type, framework, jurisdiction, authority_level, effective_date, version, source_path, ingest_timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (source_id) DO UPDATE SET
	title = EXCLUDED.title,
	doc_type = EXCLUDED.doc_type,
	framework = EXCLUDED.framework,
	jurisdiction = EXCLUDED.jurisdiction,
	authority_level = EXCLUDED.authority_level,
	effective_date = EXCLUDED.effective_date,
	version = EXCLUDED.version,
	source_path = EXCLUDED.source_path
`, d.SourceID, d.Title, d.DocType, d.Framework, d.Jurisdiction, d.AuthorityLevel, d.EffectiveDate, d.Version, d.SourcePath, d.IngestTimestamp)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// UpsertChunks inserts chunks that do not already exist by chunk_id.
// Existing chunks are skipped, not rewritten — re-ingestion never
// perturbs the embeddings of previously stored content. Returns the
// number of newly inserted rows.
func (s *Store) UpsertChunks(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, c := range chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			if len(c.Embedding) != s.dimension {
				return inserted, fmt.Errorf("embedding dimension mismatch for %s: expected %d got %d", c.ChunkID, s.dimension, len(c.Embedding))
			}
			embedding = pgvector.NewVector(c.Embedding)
		}

		tag, err := tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, source_id, text, tokens, page_start, page_end, section_path,
	framework, jurisdiction, doc_type, authority_level, effective_date, version, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (chunk_id) DO NOTHING
`, c.ChunkID, c.SourceID, c.Text, c.Tokens, c.PageStart, c.PageEnd, c.SectionPath,
			c.Framework, c.Jurisdiction, c.DocType, c.AuthorityLevel, c.EffectiveDate, c.Version, embedding)
		if err != nil {
			return inserted, fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return inserted, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}

// GetChunkText fetches the text of the requested chunk ids, for
// hydrating evidence rows that arrived from a remote vector store
// without their text payload.
func (s *Store) GetChunkText(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT chunk_id, text FROM chunks WHERE chunk_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query chunk text: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("scan chunk text: %w", err)
		}
		out[id] = text
	}
	return out, rows.Err()
}

// GetChunksByID fetches full chunk rows (minus embeddings) for
// hydrating evidence hits with the metadata a citation needs:
// section path, page range, and the document's filter columns.
func (s *Store) GetChunksByID(ctx context.Context, ids []string) (map[string]Chunk, error) {
	if len(ids) == 0 {
		return map[string]Chunk{}, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, source_id, text, tokens, page_start, page_end, section_path,
	framework, jurisdiction, doc_type, authority_level, effective_date, version
FROM chunks WHERE chunk_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query chunks by id: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.SourceID, &c.Text, &c.Tokens, &c.PageStart, &c.PageEnd, &c.SectionPath,
			&c.Framework, &c.Jurisdiction, &c.DocType, &c.AuthorityLevel, &c.EffectiveDate, &c.Version); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out[c.ChunkID] = c
	}
	return out, rows.Err()
}

// ExistingChunkIDs reports which of the given chunk ids are already
// present in the catalog, so ingest can embed only newly inserted
// content.
func (s *Store) ExistingChunkIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT chunk_id FROM chunks WHERE chunk_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query existing chunk ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// AllChunks loads every embedded chunk row, embeddings included, for
// rebuilding the in-memory dense and lexical indexes from the catalog
// at startup.
func (s *Store) AllChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, source_id, text, tokens, page_start, page_end, section_path,
	framework, jurisdiction, doc_type, authority_level, effective_date, version, embedding
FROM chunks WHERE embedding IS NOT NULL ORDER BY chunk_id`)
	if err != nil {
		return nil, fmt.Errorf("query all chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var embedding pgvector.Vector
		if err := rows.Scan(&c.ChunkID, &c.SourceID, &c.Text, &c.Tokens, &c.PageStart, &c.PageEnd, &c.SectionPath,
			&c.Framework, &c.Jurisdiction, &c.DocType, &c.AuthorityLevel, &c.EffectiveDate, &c.Version, &embedding); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		c.Embedding = embedding.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateDocumentMetadata is the dedicated metadata-update operation
// called for by the spec's Open Question: it rewrites the document row
// and propagates its denormalized filter columns to every owned chunk
// in a single transaction, distinct from and never interleaved with
// chunk ingestion.
func (s *Store) UpdateDocumentMetadata(ctx context.Context, d Document) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
UPDATE documents SET title=$2, doc_type=$3, framework=$4, jurisdiction=$5, authority_level=$6, effective_date=$7, version=$8
WHERE source_id=$1
`, d.SourceID, d.Title, d.DocType, d.Framework, d.Jurisdiction, d.AuthorityLevel, d.EffectiveDate, d.Version); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE chunks SET framework=$2, jurisdiction=$3, doc_type=$4, authority_level=$5, effective_date=$6, version=$7
WHERE source_id=$1
`, d.SourceID, d.Framework, d.Jurisdiction, d.DocType, d.AuthorityLevel, d.EffectiveDate, d.Version); err != nil {
		return fmt.Errorf("propagate document metadata to chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit metadata update: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and cascades to its chunks.
func (s *Store) DeleteDocument(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// RefreshStatistics re-analyzes the chunks table so the planner and
// ivfflat index reflect a freshly bulk-loaded corpus.
func (s *Store) RefreshStatistics(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `ANALYZE chunks`)
	if err != nil {
		return fmt.Errorf("refresh statistics: %w", err)
	}
	return nil
}
