package lexical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandSynonymsICFR(t *testing.T) {
	out := ExpandSynonyms("controls over ICFR testing")
	require.Contains(t, out, "internal control over financial reporting")
}

func TestExpandSynonymsAuditingStandardNumber(t *testing.T) {
	out := ExpandSynonyms("requirements under AS 2201")
	require.Contains(t, out, "Auditing Standard 2201")
	require.Contains(t, out, `"AS 2201"`)
}

func TestExpandSynonymsLeavesUnmatchedTextAlone(t *testing.T) {
	out := ExpandSynonyms("no acronyms here")
	require.Equal(t, "no acronyms here", out)
}

func TestExpandSynonymsCapsLength(t *testing.T) {
	long := strings.Repeat("ICFR ", 400)
	out := ExpandSynonyms(long)
	require.LessOrEqual(t, len(out), maxExpandedQueryLength)
}
