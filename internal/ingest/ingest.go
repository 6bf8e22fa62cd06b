// Package ingest runs the end-to-end document pipeline: resolve sidecar
// metadata, normalize it against the controlled vocabulary, extract and
// OCR-repair page text, chunk, embed, and persist into the catalog and
// indexes. The pass is idempotent: re-running over unchanged raw inputs
// inserts nothing new. Documents fan out to a worker pool; within one
// document, chunking, embedding, and upsert run sequentially so chunk
// sequence numbers stay dense.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/docspine/internal/catalog"
	"github.com/fabfab/docspine/internal/chunker"
	"github.com/fabfab/docspine/internal/embeddings"
	"github.com/fabfab/docspine/internal/manifest"
	"github.com/fabfab/docspine/internal/metadata"
	"github.com/fabfab/docspine/internal/storage"
)

// Page is one extracted page of a PDF: its 1-based number and raw text.
type Page struct {
	Number int
	Text   string
}

// PDFTextExtractor turns raw PDF bytes into per-page text. The engine
// behind it (poppler, a cloud parser) is a deployment concern.
type PDFTextExtractor interface {
	ExtractPages(ctx context.Context, data []byte) ([]Page, error)
}

// OCREngine recovers text from a page whose embedded text layer is
// missing or too short. Optional; nil disables OCR repair.
type OCREngine interface {
	OCRPage(ctx context.Context, data []byte, pageNumber int) (string, error)
}

// Catalog is the slice of the catalog store ingest writes through.
type Catalog interface {
	UpsertDocument(ctx context.Context, d catalog.Document) error
	UpsertChunks(ctx context.Context, chunks []catalog.Chunk) (int, error)
	ExistingChunkIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	RefreshStatistics(ctx context.Context) error
}

// VectorWriter receives newly embedded chunks. For the pgvector backend
// this is a no-op (embeddings land via the catalog upsert); for the
// in-memory backend it feeds the graph.
type VectorWriter interface {
	Upsert(ctx context.Context, chunks []catalog.Chunk) error
}

// LexicalWriter receives newly inserted chunks for sparse indexing.
type LexicalWriter interface {
	IndexChunks(ctx context.Context, chunks []catalog.Chunk) error
}

// Dependencies wires the collaborating components. Lexical and OCR may
// be nil when the deployment runs without them.
type Dependencies struct {
	Vocabulary metadata.Vocabulary
	Files      *storage.Manager
	Catalog    Catalog
	Vectors    VectorWriter
	Lexical    LexicalWriter
	Embedder   embeddings.Embedder
	Extractor  PDFTextExtractor
	OCR        OCREngine
	Log        *zap.SugaredLogger
}

// Options carries the ingest tunables.
type Options struct {
	TargetTokens      int
	Overlap           int
	Workers           int
	MinPageTextLength int
}

// DocumentOutcome is the per-document result: accepted with a source id
// and chunk counts, or rejected with its ledger entries.
type DocumentOutcome struct {
	Filename  string
	Accepted  bool
	SourceID  string
	NumChunks int
	NewChunks int
	Entries   []metadata.ExceptionEntry
}

// Result summarizes one ingest pass.
type Result struct {
	Accepted     int
	Rejected     int
	NewChunks    int
	Outcomes     []DocumentOutcome
	CorpusHash   string
	ManifestPath string
}

// Run executes one idempotent ingest pass over the raw directory.
func Run(ctx context.Context, opts Options, deps Dependencies) (Result, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MinPageTextLength <= 0 {
		opts.MinPageTextLength = 20
	}

	manifestMap, err := deps.Files.LoadRawManifest()
	if err != nil {
		return Result{}, fmt.Errorf("load raw manifest: %w", err)
	}
	if len(manifestMap) == 0 {
		log.Warnw("manifest.csv missing or empty; all documents will be rejected", "dir", deps.Files.RawDir())
	}

	pdfs, err := listPDFs(deps.Files.RawDir())
	if err != nil {
		return Result{}, err
	}

	var (
		mu       sync.Mutex
		outcomes = make([]DocumentOutcome, 0, len(pdfs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, path := range pdfs {
		path := path
		g.Go(func() error {
			outcome, err := ingestOne(gctx, path, manifestMap[filepath.Base(path)], opts, deps, log)
			if err != nil {
				return err
			}
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Filename < outcomes[j].Filename })

	result := Result{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Accepted {
			result.Accepted++
			result.NewChunks += o.NewChunks
		} else {
			result.Rejected++
		}
	}

	if err := deps.Catalog.RefreshStatistics(ctx); err != nil {
		return Result{}, fmt.Errorf("refresh index statistics: %w", err)
	}

	result.CorpusHash, err = manifest.CorpusHash(deps.Files.ProcessedDir())
	if err != nil {
		return Result{}, err
	}

	result.ManifestPath, err = manifest.Write(deps.Files.ManifestsDir(), "ingest", map[string]any{
		"accepted":        result.Accepted,
		"rejected":        result.Rejected,
		"new_chunks":      result.NewChunks,
		"corpus_hash":     result.CorpusHash,
		"embedding_model": deps.Embedder.ModelID(),
		"chunk_target":    opts.TargetTokens,
		"chunk_overlap":   opts.Overlap,
	}, time.Now().UTC())
	if err != nil {
		return Result{}, err
	}

	log.Infow("ingest complete",
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"new_chunks", result.NewChunks,
		"corpus_hash", result.CorpusHash,
	)
	return result, nil
}

func listPDFs(rawDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(rawDir, "*.pdf"))
	if err != nil {
		return nil, fmt.Errorf("list raw directory: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// ingestOne runs the full per-document pipeline. Rejections are local:
// they append to the ledger and report an outcome, never an error.
// Errors are infrastructure failures that abort the whole pass.
func ingestOne(ctx context.Context, path string, metaRow map[string]string, opts Options, deps Dependencies, log *zap.SugaredLogger) (DocumentOutcome, error) {
	filename := filepath.Base(path)

	record, entries := metadata.NormalizeRecord(filename, metaRow, deps.Vocabulary)
	if len(entries) > 0 {
		log.Errorw("rejected: metadata validation failed", "filename", filename, "fields", len(entries))
		return reject(deps, filename, entries)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DocumentOutcome{}, fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	sourceID := hex.EncodeToString(sum[:])

	pages, err := deps.Extractor.ExtractPages(ctx, data)
	if err != nil {
		return DocumentOutcome{}, fmt.Errorf("extract %s: %w", filename, err)
	}

	merged := make([]string, 0, len(pages))
	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		if len(text) < opts.MinPageTextLength && deps.OCR != nil {
			if recovered, err := deps.OCR.OCRPage(ctx, data, p.Number); err == nil && len(recovered) > len(text) {
				text = strings.TrimSpace(recovered)
			}
		}
		merged = append(merged, text)
	}
	fullText := strings.TrimSpace(strings.Join(merged, "\n\n"))
	if fullText == "" {
		log.Errorw("rejected: no text after OCR", "filename", filename)
		return reject(deps, filename, []metadata.ExceptionEntry{
			{Filename: filename, Field: "text", Reason: "empty_document"},
		})
	}

	segments := chunker.Chunk(fullText, opts.TargetTokens, opts.Overlap)
	if len(segments) == 0 {
		log.Errorw("rejected: chunker produced 0 chunks", "filename", filename)
		return reject(deps, filename, []metadata.ExceptionEntry{
			{Filename: filename, Field: "chunking", Reason: "no_chunks_produced"},
		})
	}

	now := time.Now().UTC()
	doc := catalog.Document{
		SourceID:        sourceID,
		Title:           record.Title,
		DocType:         record.DocType,
		Framework:       record.Framework,
		Jurisdiction:    record.Jurisdiction,
		AuthorityLevel:  record.AuthorityLevel,
		EffectiveDate:   record.EffectiveDate,
		Version:         record.Version,
		SourcePath:      path,
		IngestTimestamp: now,
	}

	pageEnd := len(pages)
	if pageEnd == 0 {
		pageEnd = 1
	}
	chunks := make([]catalog.Chunk, len(segments))
	ids := make([]string, len(segments))
	for i, text := range segments {
		id := fmt.Sprintf("%s:%04d", sourceID, i+1)
		ids[i] = id
		chunks[i] = catalog.Chunk{
			ChunkID:        id,
			SourceID:       sourceID,
			Text:           text,
			Tokens:         chunker.CountTokens(text),
			PageStart:      1,
			PageEnd:        pageEnd,
			SectionPath:    record.Title,
			Framework:      record.Framework,
			Jurisdiction:   record.Jurisdiction,
			DocType:        record.DocType,
			AuthorityLevel: record.AuthorityLevel,
			EffectiveDate:  record.EffectiveDate,
			Version:        record.Version,
		}
	}

	existing, err := deps.Catalog.ExistingChunkIDs(ctx, ids)
	if err != nil {
		return DocumentOutcome{}, err
	}
	var fresh []catalog.Chunk
	for _, c := range chunks {
		if _, ok := existing[c.ChunkID]; !ok {
			fresh = append(fresh, c)
		}
	}

	if len(fresh) > 0 {
		texts := make([]string, len(fresh))
		for i, c := range fresh {
			texts[i] = c.Text
		}
		vectors, err := deps.Embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return DocumentOutcome{}, fmt.Errorf("embed %s: %w", filename, err)
		}
		for i := range fresh {
			fresh[i].Embedding = vectors[i]
		}
	}

	if err := deps.Catalog.UpsertDocument(ctx, doc); err != nil {
		return DocumentOutcome{}, err
	}
	inserted, err := deps.Catalog.UpsertChunks(ctx, fresh)
	if err != nil {
		return DocumentOutcome{}, err
	}
	if len(fresh) > 0 {
		if err := deps.Vectors.Upsert(ctx, fresh); err != nil {
			return DocumentOutcome{}, fmt.Errorf("index vectors for %s: %w", filename, err)
		}
		if deps.Lexical != nil {
			if err := deps.Lexical.IndexChunks(ctx, fresh); err != nil {
				return DocumentOutcome{}, fmt.Errorf("index text for %s: %w", filename, err)
			}
		}
	}

	rows := make([]storage.ChunkRecord, len(chunks))
	for i, c := range chunks {
		rows[i] = storage.ChunkRecord{
			ChunkID:        c.ChunkID,
			SourceID:       c.SourceID,
			Text:           c.Text,
			Tokens:         c.Tokens,
			PageStart:      c.PageStart,
			PageEnd:        c.PageEnd,
			SectionPath:    c.SectionPath,
			Framework:      c.Framework,
			Jurisdiction:   c.Jurisdiction,
			DocType:        c.DocType,
			AuthorityLevel: c.AuthorityLevel,
			EffectiveDate:  c.EffectiveDate.Format("2006-01-02"),
			Version:        c.Version,
			Title:          record.Title,
			SourcePath:     path,
			IngestTS:       now.Format(time.RFC3339),
		}
	}
	// A document with nothing new keeps its existing JSONL file, so a
	// rerun over unchanged inputs leaves the corpus hash unchanged.
	jsonlPath := filepath.Join(deps.Files.ProcessedDir(), sourceID+".jsonl")
	if _, statErr := os.Stat(jsonlPath); len(fresh) > 0 || statErr != nil {
		if err := deps.Files.WriteChunkJSONL(sourceID, rows); err != nil {
			return DocumentOutcome{}, err
		}
	}

	log.Infow("ingested", "filename", filename, "source_id", sourceID, "chunks", len(chunks), "new", inserted)
	return DocumentOutcome{
		Filename:  filename,
		Accepted:  true,
		SourceID:  sourceID,
		NumChunks: len(chunks),
		NewChunks: inserted,
	}, nil
}

func reject(deps Dependencies, filename string, entries []metadata.ExceptionEntry) (DocumentOutcome, error) {
	for _, e := range entries {
		row := storage.ExceptionRow{
			Filename:  e.Filename,
			Field:     e.Field,
			Provided:  e.Provided,
			Suggested: e.Suggested,
			Reason:    e.Reason,
		}
		if err := deps.Files.AppendExceptionRow(row); err != nil {
			return DocumentOutcome{}, fmt.Errorf("append exception for %s: %w", filename, err)
		}
	}
	return DocumentOutcome{Filename: filename, Entries: entries}, nil
}
