// Package filterplan translates the typed filter map accepted at the
// query boundary into an index-aware predicate every backend (pgvector,
// bleve, the in-memory hnsw post-filter, and any external vector
// service) can apply consistently.
package filterplan

import (
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Filters is the parsed, typed form of the raw filter map.
type Filters struct {
	Framework      string
	Jurisdiction   string
	DocType        string
	AuthorityLevel string
	AsOf           *time.Time
	// FocusSourceID is the internal-only "_focus_source_id" key, used to
	// restrict retrieval to a single owning document.
	FocusSourceID string
}

// Predicate is the backend-agnostic description of which rows pass the
// filter, realized by SQL, Bleve, or Matches depending on the active
// retrieval backend.
type Predicate struct {
	Filters Filters
}

// Plan parses the recognized keys of a raw filter map
// ({framework, jurisdiction, doc_type, authority_level, as_of}) into
// Filters and its corresponding Predicate. Unrecognized keys are
// ignored; an absent key means no restriction on that column.
func Plan(raw map[string]string) (Filters, Predicate) {
	f := Filters{
		Framework:      raw["framework"],
		Jurisdiction:   raw["jurisdiction"],
		DocType:        raw["doc_type"],
		AuthorityLevel: raw["authority_level"],
		FocusSourceID:  raw["_focus_source_id"],
	}
	if asOf, ok := raw["as_of"]; ok && asOf != "" {
		if parsed, err := time.Parse("2006-01-02", asOf); err == nil {
			f.AsOf = &parsed
		}
	}
	return f, Predicate{Filters: f}
}

// SQL renders the predicate as a WHERE-clause fragment beginning with
// " AND" (empty when unrestricted) plus its bound parameter list, with
// $-placeholders numbered from startArg so callers can prepend their own
// parameters.
func (p Predicate) SQL(startArg int) (string, []any) {
	f := p.Filters
	var sb strings.Builder
	var args []any

	eq := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		fmt.Fprintf(&sb, " AND %s = $%d", col, startArg+len(args)-1)
	}
	eq("framework", f.Framework)
	eq("jurisdiction", f.Jurisdiction)
	eq("doc_type", f.DocType)
	eq("authority_level", f.AuthorityLevel)
	eq("source_id", f.FocusSourceID)

	if f.AsOf != nil {
		args = append(args, *f.AsOf)
		fmt.Fprintf(&sb, " AND effective_date <= $%d", startArg+len(args)-1)
	}
	return sb.String(), args
}

// Bleve renders the predicate as a bleve query.Query, to be ANDed with
// the lexical match query. Returns nil when the predicate has no
// restrictions, so the caller can fall back to a bare match-all/query.
func (p Predicate) Bleve() query.Query {
	f := p.Filters
	var conjuncts []query.Query

	termQuery := func(field, value string) {
		if value == "" {
			return
		}
		tq := bleve.NewTermQuery(value)
		tq.SetField(field)
		conjuncts = append(conjuncts, tq)
	}
	termQuery("framework", f.Framework)
	termQuery("jurisdiction", f.Jurisdiction)
	termQuery("doc_type", f.DocType)
	termQuery("authority_level", f.AuthorityLevel)
	termQuery("source_id", f.FocusSourceID)

	if f.AsOf != nil {
		start := time.Time{}
		inclusiveEnd := true
		drq := bleve.NewDateRangeInclusiveQuery(start, *f.AsOf, nil, &inclusiveEnd)
		drq.SetField("effective_date")
		conjuncts = append(conjuncts, drq)
	}

	if len(conjuncts) == 0 {
		return nil
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

// Matches evaluates the predicate directly against a row's denormalized
// filter columns — used by the in-memory hnsw backend's post-filter
// step and by tests.
func (p Predicate) Matches(framework, jurisdiction, docType, authorityLevel, sourceID string, effectiveDate time.Time) bool {
	f := p.Filters
	if f.Framework != "" && f.Framework != framework {
		return false
	}
	if f.Jurisdiction != "" && f.Jurisdiction != jurisdiction {
		return false
	}
	if f.DocType != "" && f.DocType != docType {
		return false
	}
	if f.AuthorityLevel != "" && f.AuthorityLevel != authorityLevel {
		return false
	}
	if f.FocusSourceID != "" && f.FocusSourceID != sourceID {
		return false
	}
	if f.AsOf != nil && effectiveDate.After(*f.AsOf) {
		return false
	}
	return true
}
