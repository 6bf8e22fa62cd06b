package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fabfab/docspine/internal/config"
	"github.com/fabfab/docspine/internal/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Print the current corpus hash and recorded run manifests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}

		hash, err := manifest.CorpusHash(cfg.ProcessedDir())
		if err != nil {
			return err
		}

		matches, err := filepath.Glob(filepath.Join(cfg.ManifestsDir(), "*.json"))
		if err != nil {
			return err
		}
		sort.Strings(matches)
		runs := make([]string, 0, len(matches))
		for _, m := range matches {
			runs = append(runs, filepath.Base(m))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"corpus_hash": hash,
			"manifests":   runs,
		})
	},
}
