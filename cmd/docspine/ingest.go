package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/fabfab/docspine/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one idempotent ingest pass over the raw directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := ingest.Run(cmd.Context(), a.ingestOptions(), a.ingestDeps())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"accepted":     result.Accepted,
			"rejected":     result.Rejected,
			"new_chunks":   result.NewChunks,
			"corpus_hash":  result.CorpusHash,
			"run_manifest": result.ManifestPath,
		})
	},
}
