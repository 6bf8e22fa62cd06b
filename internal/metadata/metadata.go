// Package metadata validates and canonicalizes the seven required document
// fields against a controlled vocabulary, producing either a normalized
// Record or a set of ExceptionEntry rows destined for the rejection
// ledger.
package metadata

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RequiredFields lists the seven controlled fields every document must carry.
var RequiredFields = []string{
	"title",
	"doc_type",
	"framework",
	"jurisdiction",
	"authority_level",
	"effective_date",
	"version",
}

const dateLayout = "2006-01-02"

// FieldRule describes the controlled vocabulary for a single field.
type FieldRule struct {
	Allowed  []string          `yaml:"allowed"`
	Synonyms map[string]string `yaml:"synonyms"`
}

// Vocabulary maps each required field name to its FieldRule.
type Vocabulary map[string]FieldRule

// LoadVocabulary reads and parses the controlled vocabulary YAML file.
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary file: %w", err)
	}
	var vocab Vocabulary
	if err := yaml.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("parse vocabulary file: %w", err)
	}
	return vocab, nil
}

// Record is a fully normalized set of the seven required fields.
type Record struct {
	Title          string
	DocType        string
	Framework      string
	Jurisdiction   string
	AuthorityLevel string
	EffectiveDate  time.Time
	Version        string
}

// ExceptionEntry is one row of the append-only rejection ledger: one row
// per invalid field per rejected document.
type ExceptionEntry struct {
	Filename  string
	Field     string
	Provided  string
	Suggested string
	Reason    string
}

// fieldError captures a single field's normalization failure before it is
// turned into an ExceptionEntry (the filename is attached by the caller).
type fieldError struct {
	field     string
	provided  string
	suggested string
	reason    string
}

// NormalizeField trims, substitutes synonyms, and validates a single raw
// value against its vocabulary rule. Returns the canonical value and ok=true
// on success, or a reason/suggestion pair on failure.
func NormalizeField(name, raw string, vocab Vocabulary) (value string, suggestion string, reason string, ok bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", "", "REQUIRED", false
	}

	rule := vocab[name]
	if canon, found := rule.Synonyms[v]; found {
		v = canon
	}

	if len(rule.Allowed) > 0 && !contains(rule.Allowed, v) {
		for _, a := range rule.Allowed {
			if strings.EqualFold(a, v) {
				return "", a, "UNKNOWN", false
			}
		}
		return "", "", "UNKNOWN", false
	}

	return v, "", "", true
}

// NormalizeRecord validates every required field of a raw manifest row.
// Any failing field rejects the whole record — there is no partial
// acceptance. Every failing field is returned as an ExceptionEntry.
func NormalizeRecord(filename string, raw map[string]string, vocab Vocabulary) (Record, []ExceptionEntry) {
	values := make(map[string]string, len(RequiredFields))
	var failures []fieldError

	for _, field := range RequiredFields {
		if field == "effective_date" {
			continue // validated separately below, with its own reason code
		}
		v, suggestion, reason, ok := NormalizeField(field, raw[field], vocab)
		if !ok {
			failures = append(failures, fieldError{field: field, provided: raw[field], suggested: suggestion, reason: reason})
			continue
		}
		values[field] = v
	}

	var effectiveDate time.Time
	dateRaw := strings.TrimSpace(raw["effective_date"])
	switch {
	case dateRaw == "":
		failures = append(failures, fieldError{field: "effective_date", provided: dateRaw, reason: "REQUIRED"})
	default:
		parsed, err := time.Parse(dateLayout, dateRaw)
		if err != nil {
			failures = append(failures, fieldError{field: "effective_date", provided: dateRaw, suggested: "YYYY-MM-DD", reason: "BAD_DATE_FORMAT"})
		} else {
			effectiveDate = parsed
		}
	}

	if len(failures) > 0 {
		entries := make([]ExceptionEntry, 0, len(failures))
		for _, f := range failures {
			entries = append(entries, ExceptionEntry{
				Filename:  filename,
				Field:     f.field,
				Provided:  f.provided,
				Suggested: f.suggested,
				Reason:    f.reason,
			})
		}
		return Record{}, entries
	}

	return Record{
		Title:          values["title"],
		DocType:        values["doc_type"],
		Framework:      values["framework"],
		Jurisdiction:   values["jurisdiction"],
		AuthorityLevel: values["authority_level"],
		EffectiveDate:  effectiveDate,
		Version:        values["version"],
	}, nil
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
