// Package vectorstore is the HTTP client for a managed remote vector
// search service. It translates the planner's filters into the
// service's filter dialect (equality for categorical fields, $lte over
// ISO dates, which compare correctly as strings), queries, and maps
// matches back into evidence hits. Chunk text missing from the remote
// metadata is hydrated from the catalog by the retrieval router.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fabfab/docspine/internal/filterplan"
	"github.com/fabfab/docspine/internal/retrieval"
)

// Remote talks to a Pinecone-style vector query endpoint.
type Remote struct {
	baseURL   string
	apiKey    string
	namespace string
	client    *http.Client
}

// NewRemote constructs a client for the given service endpoint.
func NewRemote(baseURL, apiKey, namespace string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		namespace: namespace,
		client:    &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Namespace       string         `json:"namespace,omitempty"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryMatch struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

type queryResponse struct {
	Matches []queryMatch `json:"matches"`
}

// Query runs a filtered similarity search against the remote service.
func (r *Remote) Query(ctx context.Context, vector []float32, topK int, filters filterplan.Filters) ([]retrieval.EvidenceHit, error) {
	if r.baseURL == "" {
		return nil, fmt.Errorf("remote vector service URL must be configured")
	}

	payload := queryRequest{
		Vector:          vector,
		TopK:            topK,
		Namespace:       r.namespace,
		Filter:          translateFilters(filters),
		IncludeMetadata: true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Api-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call remote vector service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote vector service returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	hits := make([]retrieval.EvidenceHit, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		hits = append(hits, hitFromMatch(m))
	}
	return hits, nil
}

// translateFilters renders the typed filters in the service's dialect.
func translateFilters(f filterplan.Filters) map[string]any {
	out := map[string]any{}
	eq := func(key, val string) {
		if val != "" {
			out[key] = map[string]any{"$eq": val}
		}
	}
	eq("framework", f.Framework)
	eq("jurisdiction", f.Jurisdiction)
	eq("doc_type", f.DocType)
	eq("authority_level", f.AuthorityLevel)
	eq("source_id", f.FocusSourceID)
	if f.AsOf != nil {
		out["effective_date"] = map[string]any{"$lte": f.AsOf.Format("2006-01-02")}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hitFromMatch(m queryMatch) retrieval.EvidenceHit {
	md := m.Metadata
	hit := retrieval.EvidenceHit{
		ChunkID:        m.ID,
		SourceID:       md["source_id"],
		Text:           md["text"],
		SectionPath:    md["section_path"],
		Framework:      md["framework"],
		Jurisdiction:   md["jurisdiction"],
		DocType:        md["doc_type"],
		AuthorityLevel: md["authority_level"],
		Version:        md["version"],
		Distance:       1 - m.Score,
		Score:          m.Score,
	}
	if d, err := time.Parse("2006-01-02", md["effective_date"]); err == nil {
		hit.EffectiveDate = d
	}
	fmt.Sscanf(md["page_start"], "%d", &hit.PageStart)
	fmt.Sscanf(md["page_end"], "%d", &hit.PageEnd)
	return hit
}

var _ retrieval.ExternalVectorStore = (*Remote)(nil)
