// Package lexical implements the sparse side of hybrid retrieval: a
// bleve inverted index over chunk text with filter-aware search and the
// fixed synonym expansions used to widen acronym-heavy queries.
package lexical

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/fabfab/docspine/internal/catalog"
	"github.com/fabfab/docspine/internal/filterplan"
)

// Hit is one lexical match: a chunk id, its bleve relevance score, and
// its rank among the result set (1-based), used by the hybrid blender.
type Hit struct {
	ChunkID string
	Score   float64
	Rank    int
}

// document is the bleve-indexed shape of a chunk: its analyzed text plus
// the denormalized filter columns needed for predicate-aware search.
type document struct {
	Text           string    `json:"text"`
	SourceID       string    `json:"source_id"`
	SectionPath    string    `json:"section_path"`
	Framework      string    `json:"framework"`
	Jurisdiction   string    `json:"jurisdiction"`
	DocType        string    `json:"doc_type"`
	AuthorityLevel string    `json:"authority_level"`
	EffectiveDate  time.Time `json:"effective_date"`
	Version        string    `json:"version"`
}

// Index is an in-memory or on-disk bleve index keyed by chunk id.
type Index struct {
	mu     sync.RWMutex
	idx    bleve.Index
	expand bool
}

// NewIndex opens an on-disk index at path, or an in-memory index when
// path is empty. expandSynonyms widens queries containing domain
// acronyms with their long-form phrases.
func NewIndex(path string, expandSynonyms bool) (*Index, error) {
	m, err := buildMapping()
	if err != nil {
		return nil, fmt.Errorf("build bleve mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.Open(path)
		if err != nil {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	return &Index{idx: idx, expand: expandSynonyms}, nil
}

func buildMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = "en"

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "en"

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	dateField := bleve.NewDateTimeFieldMapping()

	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.AddFieldMappingsAt("text", textField)
	chunkMapping.AddFieldMappingsAt("source_id", keywordField)
	chunkMapping.AddFieldMappingsAt("section_path", keywordField)
	chunkMapping.AddFieldMappingsAt("framework", keywordField)
	chunkMapping.AddFieldMappingsAt("jurisdiction", keywordField)
	chunkMapping.AddFieldMappingsAt("doc_type", keywordField)
	chunkMapping.AddFieldMappingsAt("authority_level", keywordField)
	chunkMapping.AddFieldMappingsAt("version", keywordField)
	chunkMapping.AddFieldMappingsAt("effective_date", dateField)

	im.DefaultMapping = chunkMapping
	return im, nil
}

// Close releases the underlying bleve index.
func (x *Index) Close() error { return x.idx.Close() }

// IndexChunks adds or replaces the given chunks in the lexical index.
func (x *Index) IndexChunks(ctx context.Context, chunks []catalog.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	batch := x.idx.NewBatch()
	for _, c := range chunks {
		doc := document{
			Text:           c.Text,
			SourceID:       c.SourceID,
			SectionPath:    c.SectionPath,
			Framework:      c.Framework,
			Jurisdiction:   c.Jurisdiction,
			DocType:        c.DocType,
			AuthorityLevel: c.AuthorityLevel,
			EffectiveDate:  c.EffectiveDate,
			Version:        c.Version,
		}
		if err := batch.Index(c.ChunkID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ChunkID, err)
		}
	}
	return x.idx.Batch(batch)
}

// DeleteSource removes every chunk belonging to sourceID from the
// index, used when a document's metadata update changes its filter
// columns and the stale rows must be re-indexed from scratch.
func (x *Index) DeleteSource(ctx context.Context, sourceID string) error {
	x.mu.RLock()
	pred := filterplan.Predicate{Filters: filterplan.Filters{FocusSourceID: sourceID}}
	req := bleve.NewSearchRequest(pred.Bleve())
	req.Size = 10000
	req.Fields = nil
	result, err := x.idx.SearchInContext(context.Background(), req)
	x.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("find chunks for source %s: %w", sourceID, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	batch := x.idx.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	return x.idx.Batch(batch)
}

// Search runs a match query over the chunk text field — widened with
// synonym phrase disjuncts when expansion is enabled — intersected with
// pred, and returns up to k hits ordered by bleve relevance score.
func (x *Index) Search(ctx context.Context, queryText string, pred filterplan.Predicate, k int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	matchQuery := bleve.NewMatchQuery(queryText)
	matchQuery.SetField("text")

	var textQuery query.Query = matchQuery
	if x.expand {
		if phrases := SynonymPhrases(queryText); len(phrases) > 0 {
			disjuncts := []query.Query{matchQuery}
			for _, p := range phrases {
				pq := bleve.NewMatchPhraseQuery(p)
				pq.SetField("text")
				disjuncts = append(disjuncts, pq)
			}
			textQuery = bleve.NewDisjunctionQuery(disjuncts...)
		}
	}

	q := textQuery
	if filter := pred.Bleve(); filter != nil {
		q = bleve.NewConjunctionQuery(textQuery, filter)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = k

	result, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for i, h := range result.Hits {
		hits = append(hits, Hit{ChunkID: h.ID, Score: h.Score, Rank: i + 1})
	}
	return hits, nil
}

// DocCount reports how many chunks are currently indexed.
func (x *Index) DocCount() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.idx.DocCount()
}
