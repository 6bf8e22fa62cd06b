package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleVocab() Vocabulary {
	return Vocabulary{
		"framework": FieldRule{
			Allowed:  []string{"Other", "PCAOB", "IFRS"},
			Synonyms: map[string]string{"pcaob": "PCAOB"},
		},
		"doc_type": FieldRule{
			Allowed: []string{"standard", "guidance"},
		},
		"jurisdiction":    FieldRule{Allowed: []string{"US", "EU"}},
		"authority_level": FieldRule{Allowed: []string{"authoritative", "interpretive"}},
	}
}

func TestNormalizeRecordAccepted(t *testing.T) {
	vocab := sampleVocab()
	raw := map[string]string{
		"title":           "A",
		"doc_type":        "standard",
		"framework":       "Other",
		"jurisdiction":    "US",
		"authority_level": "authoritative",
		"effective_date":  "2024-01-01",
		"version":         "1.0",
	}

	rec, errs := NormalizeRecord("a.pdf", raw, vocab)
	require.Empty(t, errs)
	require.Equal(t, "A", rec.Title)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rec.EffectiveDate)
}

func TestNormalizeRecordBadDateFormat(t *testing.T) {
	vocab := sampleVocab()
	raw := map[string]string{
		"title":           "A",
		"doc_type":        "standard",
		"framework":       "Other",
		"jurisdiction":    "US",
		"authority_level": "authoritative",
		"effective_date":  "January 1, 2024",
		"version":         "1.0",
	}

	_, errs := NormalizeRecord("a.pdf", raw, vocab)
	require.Len(t, errs, 1)
	require.Equal(t, "effective_date", errs[0].Field)
	require.Equal(t, "BAD_DATE_FORMAT", errs[0].Reason)
	require.Equal(t, "YYYY-MM-DD", errs[0].Suggested)
}

func TestNormalizeRecordRequiredFieldMissing(t *testing.T) {
	vocab := sampleVocab()
	raw := map[string]string{
		"doc_type":        "standard",
		"framework":       "Other",
		"jurisdiction":    "US",
		"authority_level": "authoritative",
		"effective_date":  "2024-01-01",
		"version":         "1.0",
	}

	_, errs := NormalizeRecord("a.pdf", raw, vocab)
	require.Len(t, errs, 1)
	require.Equal(t, "title", errs[0].Field)
	require.Equal(t, "REQUIRED", errs[0].Reason)
}

func TestNormalizeFieldSynonymSubstitution(t *testing.T) {
	vocab := sampleVocab()
	v, _, _, ok := NormalizeField("framework", "pcaob", vocab)
	require.True(t, ok)
	require.Equal(t, "PCAOB", v)
}

func TestNormalizeFieldUnknownSuggestsCaseInsensitiveMatch(t *testing.T) {
	vocab := sampleVocab()
	_, suggestion, reason, ok := NormalizeField("framework", "other", vocab)
	require.False(t, ok)
	require.Equal(t, "Other", suggestion)
	require.Equal(t, "UNKNOWN", reason)
}

func TestNormalizeRecordAllFailingFieldsReported(t *testing.T) {
	vocab := sampleVocab()
	raw := map[string]string{
		"title":           "",
		"doc_type":        "memo",
		"framework":       "GAAP",
		"jurisdiction":    "US",
		"authority_level": "authoritative",
		"effective_date":  "not-a-date",
		"version":         "1.0",
	}

	_, errs := NormalizeRecord("a.pdf", raw, vocab)
	fields := map[string]ExceptionEntry{}
	for _, e := range errs {
		fields[e.Field] = e
	}
	require.Contains(t, fields, "title")
	require.Contains(t, fields, "doc_type")
	require.Contains(t, fields, "framework")
	require.Contains(t, fields, "effective_date")
	require.Len(t, errs, 4)
}
