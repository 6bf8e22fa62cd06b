// Package chunker implements the token-approximate sliding-window
// segmentation used to turn one document's merged page text into an
// ordered sequence of chunks. Deterministic: identical (text, target,
// overlap) always produces byte-identical output.
package chunker

import "regexp"

var tokenPattern = regexp.MustCompile(`\S+`)

// Chunk splits text into target-token windows with overlap, walking by
// step = max(1, target-overlap). Each segment is the whitespace-joined
// re-assembly of up to target tokens. Empty input yields an empty slice.
func Chunk(text string, target, overlap int) []string {
	tokens := tokenPattern.FindAllString(text, -1)
	if len(tokens) == 0 {
		return nil
	}

	step := target - overlap
	if step < 1 {
		step = 1
	}

	var out []string
	for i := 0; i < len(tokens); i += step {
		end := i + target
		if end > len(tokens) {
			end = len(tokens)
		}
		segment := tokens[i:end]
		if len(segment) == 0 {
			break
		}
		out = append(out, joinTokens(segment))
	}
	return out
}

// CountTokens returns the approximate token count of text: the number of
// contiguous non-whitespace runs.
func CountTokens(text string) int {
	return len(tokenPattern.FindAllString(text, -1))
}

func joinTokens(tokens []string) string {
	if len(tokens) == 1 {
		return tokens[0]
	}
	total := len(tokens) - 1
	for _, t := range tokens {
		total += len(t)
	}
	buf := make([]byte, 0, total)
	for i, t := range tokens {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, t...)
	}
	return string(buf)
}
