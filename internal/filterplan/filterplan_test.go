package filterplan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlanParsesRecognizedKeysAndIgnoresUnknown(t *testing.T) {
	f, _ := Plan(map[string]string{
		"framework":    "PCAOB",
		"jurisdiction": "US",
		"as_of":        "2024-12-31",
		"sort_by":      "freshness",
	})
	require.Equal(t, "PCAOB", f.Framework)
	require.Equal(t, "US", f.Jurisdiction)
	require.Empty(t, f.DocType)
	require.NotNil(t, f.AsOf)
	require.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), *f.AsOf)
}

func TestPlanIgnoresUnparseableAsOf(t *testing.T) {
	f, _ := Plan(map[string]string{"as_of": "December 31, 2024"})
	require.Nil(t, f.AsOf)
}

func TestSQLRendersEqualityAndAsOf(t *testing.T) {
	_, pred := Plan(map[string]string{"framework": "PCAOB", "as_of": "2024-12-31"})
	where, args := pred.SQL(3)
	require.Equal(t, " AND framework = $3 AND effective_date <= $4", where)
	require.Len(t, args, 2)
	require.Equal(t, "PCAOB", args[0])
}

func TestSQLEmptyWhenUnrestricted(t *testing.T) {
	_, pred := Plan(nil)
	where, args := pred.SQL(3)
	require.Empty(t, where)
	require.Empty(t, args)
}

func TestMatchesAppliesAllKeys(t *testing.T) {
	_, pred := Plan(map[string]string{
		"framework": "PCAOB",
		"as_of":     "2024-06-30",
	})

	require.True(t, pred.Matches("PCAOB", "US", "standard", "authoritative", "s1",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.False(t, pred.Matches("ESMA", "US", "standard", "authoritative", "s1",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.False(t, pred.Matches("PCAOB", "US", "standard", "authoritative", "s1",
		time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)))
}

func TestMatchesFocusSourceID(t *testing.T) {
	_, pred := Plan(map[string]string{"_focus_source_id": "abc"})
	require.True(t, pred.Matches("", "", "", "", "abc", time.Time{}))
	require.False(t, pred.Matches("", "", "", "", "def", time.Time{}))
}

func TestBleveNilWhenUnrestricted(t *testing.T) {
	_, pred := Plan(nil)
	require.Nil(t, pred.Bleve())

	_, restricted := Plan(map[string]string{"doc_type": "standard"})
	require.NotNil(t, restricted.Bleve())
}
