package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/docspine/internal/catalog"
	"github.com/fabfab/docspine/internal/compose"
	"github.com/fabfab/docspine/internal/config"
	"github.com/fabfab/docspine/internal/embeddings"
	"github.com/fabfab/docspine/internal/ingest"
	"github.com/fabfab/docspine/internal/lexical"
	"github.com/fabfab/docspine/internal/logging"
	"github.com/fabfab/docspine/internal/metadata"
	"github.com/fabfab/docspine/internal/ollama"
	"github.com/fabfab/docspine/internal/retrieval"
	"github.com/fabfab/docspine/internal/storage"
	"github.com/fabfab/docspine/internal/vectorindex"
	"github.com/fabfab/docspine/internal/vectorstore"
)

var devLogging bool

var rootCmd = &cobra.Command{
	Use:           "docspine",
	Short:         "Citation-grounded retrieval over regulatory and audit documents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&devLogging, "dev", false, "human-readable log output")
	rootCmd.AddCommand(serveCmd, ingestCmd, queryCmd, manifestCmd)
}

// app holds the shared component graph every subcommand builds once.
type app struct {
	cfg       config.Config
	log       *zap.SugaredLogger
	files     *storage.Manager
	cat       *catalog.Store
	dense     vectorindex.Index
	sparse    *lexical.Index
	embedder  embeddings.Embedder
	retriever *retrieval.Router
	refiner   compose.Refiner
	vocab     metadata.Vocabulary
}

// buildApp constructs the component graph: config, storage layout,
// embedder, catalog, dense and sparse indexes (in-memory ones rebuilt
// from the catalog), router, and the optional refiner.
func buildApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	log := logging.Init(devLogging)

	files, err := storage.NewManager(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("set up data directories: %w", err)
	}

	vocab, err := metadata.LoadVocabulary(cfg.Vocabulary.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("load controlled vocabulary: %w", err)
	}

	var embedder embeddings.Embedder
	switch cfg.Embed.Provider {
	case "ollama":
		embedder = embeddings.NewOllamaEmbedder(cfg.Ollama.Host, cfg.Embed.Model, cfg.Embed.Dimension, cfg.Timeouts.Embedding)
	default:
		embedder = embeddings.NewDeterministicEmbedder(cfg.Embed.Dimension)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	cat, err := catalog.NewStore(connectCtx, cfg.Database.URL, cfg.Database.MaxConnections, cfg.Embed.Dimension)
	if err != nil {
		return nil, nil, fmt.Errorf("connect catalog: %w", err)
	}

	a := &app{cfg: cfg, log: log, files: files, cat: cat, embedder: embedder, vocab: vocab}

	switch cfg.Retrieval.VectorIndex {
	case "hnsw":
		hnswIdx := vectorindex.NewHNSWIndex(cfg.Embed.Dimension)
		if err := rebuildMemoryIndexes(ctx, cat, hnswIdx, nil); err != nil {
			cat.Close()
			return nil, nil, err
		}
		a.dense = hnswIdx
	default:
		a.dense = vectorindex.NewPGVectorIndex(cat.Pool(), cfg.Embed.Dimension)
	}

	if cfg.Retrieval.Backend == string(retrieval.BackendHybrid) {
		sparse, err := lexical.NewIndex("", cfg.Retrieval.SynonymExpand)
		if err != nil {
			cat.Close()
			return nil, nil, fmt.Errorf("open lexical index: %w", err)
		}
		if err := rebuildMemoryIndexes(ctx, cat, nil, sparse); err != nil {
			sparse.Close()
			cat.Close()
			return nil, nil, err
		}
		a.sparse = sparse
	}

	var external retrieval.ExternalVectorStore
	if cfg.Retrieval.Backend == string(retrieval.BackendExternal) {
		external = vectorstore.NewRemote(cfg.External.URL, cfg.External.APIKey, cfg.External.Namespace, cfg.Timeouts.Retrieval)
	}

	if cfg.Refiner.Enable {
		chat := ollama.NewClient(cfg.Ollama.Host, cfg.Ollama.RefinerModel, 0, cfg.Timeouts.Refiner)
		a.refiner = ollama.NewRefiner(chat)
	}

	a.retriever = retrieval.NewRouter(retrieval.Config{
		Backend:          retrieval.Backend(cfg.Retrieval.Backend),
		TopK:             cfg.Retrieval.TopK,
		Probes:           cfg.Retrieval.Probes,
		HybridKDense:     cfg.Retrieval.HybridKDense,
		HybridKSparse:    cfg.Retrieval.HybridKSparse,
		HybridWDense:     cfg.Retrieval.HybridWDense,
		HybridWSparse:    cfg.Retrieval.HybridWSparse,
		RerankEnable:     cfg.Retrieval.RerankEnable,
		RerankCandidates: cfg.Retrieval.RerankCandidates,
	}, embedder, a.dense, a.sparse, cat, external, nil)

	cleanup := func() {
		if a.sparse != nil {
			_ = a.sparse.Close()
		}
		cat.Close()
		logging.Sync()
	}
	return a, cleanup, nil
}

// rebuildMemoryIndexes replays the catalog's embedded chunks into the
// given in-memory indexes. Rebuilds are idempotent: the indexes are
// projections of the catalog.
func rebuildMemoryIndexes(ctx context.Context, cat *catalog.Store, dense vectorindex.Index, sparse *lexical.Index) error {
	if dense == nil && sparse == nil {
		return nil
	}
	chunks, err := cat.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("load chunks for index rebuild: %w", err)
	}
	if dense != nil {
		if err := dense.Upsert(ctx, chunks); err != nil {
			return fmt.Errorf("rebuild dense index: %w", err)
		}
	}
	if sparse != nil {
		if err := sparse.IndexChunks(ctx, chunks); err != nil {
			return fmt.Errorf("rebuild lexical index: %w", err)
		}
	}
	return nil
}

// ingestDeps assembles the orchestrator's dependency set from the app.
func (a *app) ingestDeps() ingest.Dependencies {
	var lex ingest.LexicalWriter
	if a.sparse != nil {
		lex = a.sparse
	}
	return ingest.Dependencies{
		Vocabulary: a.vocab,
		Files:      a.files,
		Catalog:    a.cat,
		Vectors:    a.dense,
		Lexical:    lex,
		Embedder:   a.embedder,
		Extractor:  ingest.PlainTextExtractor{},
		Log:        a.log,
	}
}

func (a *app) ingestOptions() ingest.Options {
	return ingest.Options{
		TargetTokens:      a.cfg.Chunk.TargetTokens,
		Overlap:           a.cfg.Chunk.Overlap,
		Workers:           a.cfg.Ingest.Workers,
		MinPageTextLength: a.cfg.Ingest.MinPageTextLength,
	}
}
