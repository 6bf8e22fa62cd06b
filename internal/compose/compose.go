// Package compose turns a ranked evidence set into a grounded answer,
// either via an LLM refiner whose claims are citation-validated against
// the evidence it was given, or via an extractive fallback when no
// refiner is configured or its output fails validation. "No citation,
// no claim" is enforced by construction: an empty evidence set never
// reaches the refiner.
package compose

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/docspine/internal/apperrors"
	"github.com/fabfab/docspine/internal/retrieval"
)

// EvidenceSpan is the compact, LLM-facing projection of one evidence
// hit: a short local id ("e1", "e2", ...) plus just the fields a
// citation needs.
type EvidenceSpan struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	SectionPath string `json:"section_path"`
	Page        int    `json:"page"`
	ChunkID     string `json:"chunk_id"`
}

// Claim is one atomic statement in a refined answer, bound to the
// evidence span ids that support it.
type Claim struct {
	Text        string   `json:"text"`
	CitationIDs []string `json:"citation_ids"`
}

// RefinerOutput is the structured response an LLM refiner must produce.
type RefinerOutput struct {
	AnswerMarkdown  string  `json:"answer_markdown"`
	Claims          []Claim `json:"claims"`
	MissingEvidence bool    `json:"missing_evidence"`
}

// Refiner synthesizes a grounded answer from a question and its
// evidence spans. Implementations must never emit a citation_id absent
// from spans; Compose validates this and falls back to the extractive
// path when it isn't true.
type Refiner interface {
	Refine(ctx context.Context, question string, spans []EvidenceSpan) (*RefinerOutput, error)
}

// Citation is one evidence-bound reference attached to an answer.
type Citation struct {
	ChunkID     string
	SectionPath string
	PageStart   int
	PageEnd     int
	Text        string
}

// Answer is the Answer Composer's output.
type Answer struct {
	Text            string
	Citations       []Citation
	Confidence      float64
	MissingEvidence bool
	Method          string
}

const maxSpansForRefiner = 8

// maxSnippetChars bounds the extractive fallback's passage length.
const maxSnippetChars = 280

// Compose builds a grounded answer from evidence. avgScore is the mean
// retrieval score of the top evidence hits (callers average the first
// five); it becomes the answer's confidence on every path, capped at 1
// for refined answers and replaced by 0.3 on the extractive path when
// it is zero.
func Compose(ctx context.Context, evidence []retrieval.EvidenceHit, question string, refiner Refiner, avgScore float64) (Answer, error) {
	if len(evidence) == 0 {
		return Answer{
			Text:            "No evidence found in the specified corpus and filters.",
			MissingEvidence: true,
			Method:          "no_evidence",
		}, nil
	}

	spans := toSpans(evidence)

	if refiner != nil {
		output, err := refiner.Refine(ctx, question, spans)
		if err == nil && output != nil && !citationsAreValid(output, spans) {
			err = apperrors.ErrRefinerInvalid
			output = nil
		}
		if err != nil {
			// Caught here, never surfaced: the extractive path below still
			// produces a fully grounded answer.
			zap.S().Warnw("refinement rejected, falling back to extractive", "err", err)
			output = nil
		}
		if output != nil {
			// Confidence derives from retrieval scores alone, never from
			// what the refiner wrote.
			confidence := avgScore
			if confidence > 1.0 {
				confidence = 1.0
			}
			return Answer{
				Text:            output.AnswerMarkdown,
				Citations:       citationsFromClaims(output, spans),
				Confidence:      confidence,
				MissingEvidence: output.MissingEvidence,
				Method:          "llm_synthesis",
			}, nil
		}
	}

	return extractiveFallback(evidence, avgScore), nil
}

func toSpans(evidence []retrieval.EvidenceHit) []EvidenceSpan {
	limit := len(evidence)
	if limit > maxSpansForRefiner {
		limit = maxSpansForRefiner
	}
	spans := make([]EvidenceSpan, limit)
	for i := 0; i < limit; i++ {
		ev := evidence[i]
		sectionPath := ev.SectionPath
		if sectionPath == "" {
			sectionPath = "Document"
		}
		page := ev.PageStart
		if page == 0 {
			page = 1
		}
		spans[i] = EvidenceSpan{
			ID:          fmt.Sprintf("e%d", i+1),
			Text:        ev.Text,
			SectionPath: sectionPath,
			Page:        page,
			ChunkID:     ev.ChunkID,
		}
	}
	return spans
}

// citationsAreValid enforces the grounding invariant: every citation id
// referenced by every claim must name a span the refiner was actually
// given.
func citationsAreValid(output *RefinerOutput, spans []EvidenceSpan) bool {
	known := make(map[string]struct{}, len(spans))
	for _, s := range spans {
		known[s.ID] = struct{}{}
	}
	for _, claim := range output.Claims {
		for _, id := range claim.CitationIDs {
			if _, ok := known[id]; !ok {
				return false
			}
		}
	}
	return true
}

func citationsFromClaims(output *RefinerOutput, spans []EvidenceSpan) []Citation {
	bySpanID := make(map[string]EvidenceSpan, len(spans))
	for _, s := range spans {
		bySpanID[s.ID] = s
	}

	seen := map[string]struct{}{}
	var citations []Citation
	for _, claim := range output.Claims {
		for _, id := range claim.CitationIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			span, ok := bySpanID[id]
			if !ok {
				continue
			}
			citations = append(citations, Citation{
				ChunkID:     span.ChunkID,
				SectionPath: span.SectionPath,
				PageStart:   span.Page,
				PageEnd:     span.Page,
				Text:        span.Text,
			})
		}
	}
	return citations
}

const maxExtractiveCitations = 5

func extractiveFallback(evidence []retrieval.EvidenceHit, avgScore float64) Answer {
	limit := len(evidence)
	if limit > maxExtractiveCitations {
		limit = maxExtractiveCitations
	}

	var bullets []string
	citations := make([]Citation, 0, limit)
	for _, ev := range evidence[:limit] {
		bullets = append(bullets, "- "+snippet(ev.Text))
		citations = append(citations, Citation{
			ChunkID:     ev.ChunkID,
			SectionPath: ev.SectionPath,
			PageStart:   ev.PageStart,
			PageEnd:     ev.PageEnd,
		})
	}

	confidence := avgScore
	if confidence == 0 {
		confidence = 0.3
	}

	return Answer{
		Text:       "Here are the most relevant cited passages:\n" + strings.Join(bullets, "\n"),
		Citations:  citations,
		Confidence: confidence,
		Method:     "extractive_fallback",
	}
}

func snippet(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) <= maxSnippetChars {
		return collapsed
	}
	return collapsed[:maxSnippetChars] + "…"
}
