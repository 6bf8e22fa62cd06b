// Package server is the thin HTTP adapter over the query and ingest
// pipelines. It carries no retrieval or composition logic of its own:
// handlers decode the request, call into the core, write the manifest,
// and encode the response.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/fabfab/docspine/internal/apperrors"
	"github.com/fabfab/docspine/internal/compose"
	"github.com/fabfab/docspine/internal/config"
	"github.com/fabfab/docspine/internal/ingest"
	"github.com/fabfab/docspine/internal/manifest"
	"github.com/fabfab/docspine/internal/retrieval"
	"github.com/fabfab/docspine/internal/storage"
)

// IngestRunner triggers one ingest pass; wired from the orchestrator so
// the handler does not need the full dependency set.
type IngestRunner func(ctx context.Context) (ingest.Result, error)

// Server wires HTTP handlers to the retrieval and ingest pipelines.
type Server struct {
	cfg       config.Config
	router    http.Handler
	retriever *retrieval.Router
	refiner   compose.Refiner
	files     *storage.Manager
	runIngest IngestRunner
	log       *zap.SugaredLogger
}

// New constructs a Server with the provided dependencies. refiner and
// runIngest may be nil; the corresponding features are then disabled.
func New(cfg config.Config, retriever *retrieval.Router, refiner compose.Refiner, files *storage.Manager, runIngest IngestRunner, log *zap.SugaredLogger) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s := &Server{
		cfg:       cfg,
		router:    mux,
		retriever: retriever,
		refiner:   refiner,
		files:     files,
		runIngest: runIngest,
		log:       log,
	}

	mux.Get("/api/health", s.handleHealth)
	mux.Post("/api/query", s.handleQuery)
	mux.Post("/api/ingest", s.handleIngest)

	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Q       string            `json:"q"`
	Filters map[string]string `json:"filters"`
	TopK    int               `json:"top_k"`
	Probes  int               `json:"probes"`
}

type citationJSON struct {
	ChunkID     string `json:"chunk_id"`
	SectionPath string `json:"section_path"`
	PageSpan    [2]int `json:"page_span"`
}

type queryResponse struct {
	Answer      string         `json:"answer"`
	Citations   []citationJSON `json:"citations"`
	Confidence  float64        `json:"confidence"`
	RunManifest string         `json:"run_manifest"`
	Backend     string         `json:"backend"`
	LatencyMS   int64          `json:"latency_ms"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Q = strings.TrimSpace(req.Q)
	if req.Q == "" {
		writeError(w, http.StatusBadRequest, errors.New("q must not be empty"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = s.cfg.Retrieval.TopK
	}
	if req.Probes <= 0 {
		req.Probes = s.cfg.Retrieval.Probes
	}

	retrievalCtx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Retrieval)
	defer cancel()

	evidence, err := s.retriever.Retrieve(retrievalCtx, req.Q, req.Filters, req.TopK, req.Probes)
	if err != nil {
		s.log.Errorw("retrieval failed", "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, apperrors.ErrBackendUnavailable) {
			status = http.StatusBadGateway
		}
		writeError(w, status, fmt.Errorf("retrieval failed: %w", err))
		return
	}

	composeCtx := r.Context()
	if s.refiner != nil {
		var cancelCompose context.CancelFunc
		composeCtx, cancelCompose = context.WithTimeout(composeCtx, s.cfg.Timeouts.Refiner)
		defer cancelCompose()
	}

	answer, err := compose.Compose(composeCtx, evidence, req.Q, s.refiner, meanTopScore(evidence, 5))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("compose answer: %w", err))
		return
	}

	citations := make([]citationJSON, 0, len(answer.Citations))
	citationPayload := make([]map[string]any, 0, len(answer.Citations))
	for _, c := range answer.Citations {
		citations = append(citations, citationJSON{
			ChunkID:     c.ChunkID,
			SectionPath: c.SectionPath,
			PageSpan:    [2]int{c.PageStart, c.PageEnd},
		})
		citationPayload = append(citationPayload, map[string]any{
			"chunk_id":     c.ChunkID,
			"section_path": c.SectionPath,
			"page_span":    []int{c.PageStart, c.PageEnd},
		})
	}

	corpusHash, err := manifest.CorpusHash(s.files.ProcessedDir())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("compute corpus hash: %w", err))
		return
	}

	manifestPath, err := manifest.Write(s.files.ManifestsDir(), "query", map[string]any{
		"q":           req.Q,
		"filters":     req.Filters,
		"top_k":       req.TopK,
		"probes":      req.Probes,
		"backend":     s.cfg.Retrieval.Backend,
		"corpus_hash": corpusHash,
		"citations":   citationPayload,
		"method":      answer.Method,
	}, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("write run manifest: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:      answer.Text,
		Citations:   citations,
		Confidence:  answer.Confidence,
		RunManifest: manifestPath,
		Backend:     s.cfg.Retrieval.Backend,
		LatencyMS:   time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.runIngest == nil {
		writeError(w, http.StatusNotImplemented, errors.New("ingest is not enabled on this deployment"))
		return
	}

	result, err := s.runIngest(r.Context())
	if err != nil {
		s.log.Errorw("ingest failed", "err", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("ingest failed: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":     result.Accepted,
		"rejected":     result.Rejected,
		"new_chunks":   result.NewChunks,
		"corpus_hash":  result.CorpusHash,
		"run_manifest": result.ManifestPath,
	})
}

// meanTopScore averages the first n retrieval scores, the deterministic
// confidence signal carried into the answer.
func meanTopScore(evidence []retrieval.EvidenceHit, n int) float64 {
	if len(evidence) == 0 {
		return 0
	}
	if n > len(evidence) {
		n = len(evidence)
	}
	var sum float64
	for _, e := range evidence[:n] {
		sum += e.Score
	}
	return sum / float64(n)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.S().Errorw("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
