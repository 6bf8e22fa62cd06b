// Package manifest records the exact inputs of an ingest run, a
// retrieval run, or an index rebuild so the run can be reproduced
// byte-for-byte later.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Manifest is one recorded run.
type Manifest struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"-"`
}

// MarshalJSON flattens Payload alongside the envelope fields rather
// than nesting it under a key.
func (m Manifest) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(m.Payload)+3)
	for k, v := range m.Payload {
		flat[k] = v
	}
	flat["id"] = m.ID
	flat["kind"] = m.Kind
	flat["created_at"] = m.CreatedAt.UTC().Format(time.RFC3339)
	return json.Marshal(flat)
}

// Write persists a manifest under manifestsDir as
// "<kind>_<timestamp>.json" and returns the file path.
func Write(manifestsDir, kind string, payload map[string]any, at time.Time) (string, error) {
	if err := os.MkdirAll(manifestsDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure manifests dir: %w", err)
	}

	m := Manifest{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: at,
		Payload:   payload,
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", kind, at.UTC().Format("20060102T150405Z"))
	path := filepath.Join(manifestsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// CorpusHash hashes every *.jsonl file under processedDir in sorted
// filename order, then hashes the concatenation of those per-file
// digests. Sorting makes the result independent of filesystem
// iteration order while still sensitive to the addition, removal, or
// modification of any processed document.
func CorpusHash(processedDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(processedDir, "*.jsonl"))
	if err != nil {
		return "", fmt.Errorf("glob processed dir: %w", err)
	}
	sort.Strings(matches)

	var concatenated string
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		sum := sha256.Sum256(data)
		concatenated += hex.EncodeToString(sum[:])
	}

	final := sha256.Sum256([]byte(concatenated))
	return hex.EncodeToString(final[:]), nil
}
