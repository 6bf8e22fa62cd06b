package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/docspine/internal/compose"
	"github.com/fabfab/docspine/internal/manifest"
)

var (
	queryFilters []string
	queryTopK    int
	queryProbes  int
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Run one filtered retrieval and print the grounded answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		filters := make(map[string]string, len(queryFilters))
		for _, f := range queryFilters {
			key, value, ok := strings.Cut(f, "=")
			if !ok {
				return fmt.Errorf("filter %q must be key=value", f)
			}
			filters[key] = value
		}

		started := time.Now()
		evidence, err := a.retriever.Retrieve(cmd.Context(), args[0], filters, queryTopK, queryProbes)
		if err != nil {
			return fmt.Errorf("retrieval failed: %w", err)
		}

		var avg float64
		if n := min(len(evidence), 5); n > 0 {
			for _, e := range evidence[:n] {
				avg += e.Score
			}
			avg /= float64(n)
		}

		answer, err := compose.Compose(cmd.Context(), evidence, args[0], a.refiner, avg)
		if err != nil {
			return err
		}

		corpusHash, err := manifest.CorpusHash(a.files.ProcessedDir())
		if err != nil {
			return err
		}

		citations := make([]map[string]any, 0, len(answer.Citations))
		for _, c := range answer.Citations {
			citations = append(citations, map[string]any{
				"chunk_id":     c.ChunkID,
				"section_path": c.SectionPath,
				"page_span":    []int{c.PageStart, c.PageEnd},
			})
		}

		manifestPath, err := manifest.Write(a.files.ManifestsDir(), "query", map[string]any{
			"q":           args[0],
			"filters":     filters,
			"top_k":       queryTopK,
			"probes":      queryProbes,
			"backend":     a.cfg.Retrieval.Backend,
			"corpus_hash": corpusHash,
			"citations":   citations,
			"method":      answer.Method,
		}, time.Now().UTC())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"answer":       answer.Text,
			"citations":    citations,
			"confidence":   answer.Confidence,
			"run_manifest": manifestPath,
			"backend":      a.cfg.Retrieval.Backend,
			"latency_ms":   time.Since(started).Milliseconds(),
		})
	},
}

func init() {
	queryCmd.Flags().StringArrayVar(&queryFilters, "filter", nil, "filter as key=value (repeatable)")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of evidence passages (0 = configured default)")
	queryCmd.Flags().IntVar(&queryProbes, "probes", 0, "ANN probes 1-200 (0 = configured default)")
}
