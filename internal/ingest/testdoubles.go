package ingest

import (
	"context"
	"sync"

	"github.com/fabfab/docspine/internal/catalog"
)

// StaticExtractor is a deterministic PDFTextExtractor double: it returns
// a fixed page set per input, keyed by the document's full content. It
// exists so the orchestrator can be exercised end to end without a PDF
// parser; production deployments plug in a real extractor.
type StaticExtractor struct {
	// Pages maps a document key (its full byte content as string) to the
	// pages to return. Unknown documents yield a single page holding the
	// raw bytes as text.
	Pages map[string][]Page
}

func (s *StaticExtractor) ExtractPages(ctx context.Context, data []byte) ([]Page, error) {
	if pages, ok := s.Pages[string(data)]; ok {
		return pages, nil
	}
	return []Page{{Number: 1, Text: string(data)}}, nil
}

// StaticOCR is an OCREngine double returning a fixed string per page
// number.
type StaticOCR struct {
	Text map[int]string
}

func (s *StaticOCR) OCRPage(ctx context.Context, data []byte, pageNumber int) (string, error) {
	return s.Text[pageNumber], nil
}

// MemoryCatalog is an in-memory Catalog double preserving the store's
// idempotence semantics: chunks already present by id are skipped.
type MemoryCatalog struct {
	mu        sync.Mutex
	Documents map[string]catalog.Document
	Chunks    map[string]catalog.Chunk
	Refreshes int
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		Documents: make(map[string]catalog.Document),
		Chunks:    make(map[string]catalog.Chunk),
	}
}

func (m *MemoryCatalog) UpsertDocument(ctx context.Context, d catalog.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Documents[d.SourceID] = d
	return nil
}

func (m *MemoryCatalog) UpsertChunks(ctx context.Context, chunks []catalog.Chunk) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, c := range chunks {
		if _, ok := m.Chunks[c.ChunkID]; ok {
			continue
		}
		m.Chunks[c.ChunkID] = c
		inserted++
	}
	return inserted, nil
}

func (m *MemoryCatalog) ExistingChunkIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := m.Chunks[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *MemoryCatalog) RefreshStatistics(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refreshes++
	return nil
}

func (m *MemoryCatalog) GetChunksByID(ctx context.Context, ids []string) (map[string]catalog.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]catalog.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := m.Chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (m *MemoryCatalog) GetChunkText(ctx context.Context, ids []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if c, ok := m.Chunks[id]; ok {
			out[id] = c.Text
		}
	}
	return out, nil
}
