package lexical

import "regexp"

type synonymRule struct {
	pattern     *regexp.Regexp
	phrase      string
	replacement string
	expand      func(groups []string) string
	phraseFor   func(groups []string) string
}

// synonymRules holds the high-signal PCAOB/ESEF/XBRL expansions used to
// widen lexical queries without inflating recall noise.
var synonymRules = []synonymRule{
	{
		pattern:     regexp.MustCompile(`(?i)\bICFR\b`),
		phrase:      "internal control over financial reporting",
		replacement: `("internal control over financial reporting" OR ICFR)`,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bESEF\b`),
		phrase:      "European Single Electronic Format",
		replacement: `("European Single Electronic Format" OR ESEF)`,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\biXBRL\b`),
		phrase:      "inline XBRL",
		replacement: `("inline XBRL" OR iXBRL)`,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bXBRL\b`),
		phrase:      "eXtensible Business Reporting Language",
		replacement: `("eXtensible Business Reporting Language" OR XBRL)`,
	},
	{
		pattern: regexp.MustCompile(`(?i)\bAS\s?(\d{3,4})\b`),
		expand: func(groups []string) string {
			n := groups[1]
			return `("Auditing Standard ` + n + `" OR "AS ` + n + `")`
		},
		phraseFor: func(groups []string) string {
			return "Auditing Standard " + groups[1]
		},
	},
}

const maxExpandedQueryLength = 512

// SynonymPhrases returns the long-form phrases for every domain
// acronym present in q. Backends without an OR grammar (the local
// bleve index) use these as additional phrase disjuncts instead of the
// rewritten query string.
func SynonymPhrases(q string) []string {
	var out []string
	for _, rule := range synonymRules {
		matches := rule.pattern.FindAllStringSubmatch(q, -1)
		for _, m := range matches {
			switch {
			case rule.phraseFor != nil:
				out = append(out, rule.phraseFor(m))
			case rule.phrase != "":
				out = append(out, rule.phrase)
			}
		}
	}
	return out
}

// ExpandSynonyms widens a lexical query with the fixed set of
// PCAOB/ESEF/XBRL expansions, then caps its length so one pathological
// match can't blow up the downstream bleve query.
func ExpandSynonyms(q string) string {
	s := q
	for _, rule := range synonymRules {
		if rule.expand != nil {
			s = rule.pattern.ReplaceAllStringFunc(s, func(match string) string {
				groups := rule.pattern.FindStringSubmatch(match)
				return rule.expand(groups)
			})
			continue
		}
		s = rule.pattern.ReplaceAllString(s, rule.replacement)
	}
	if r := []rune(s); len(r) > maxExpandedQueryLength {
		s = string(r[:maxExpandedQueryLength])
	}
	return s
}
