package compose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/docspine/internal/retrieval"
)

type fakeRefiner struct {
	output *RefinerOutput
	err    error
}

func (f fakeRefiner) Refine(ctx context.Context, question string, spans []EvidenceSpan) (*RefinerOutput, error) {
	return f.output, f.err
}

func sampleEvidence() []retrieval.EvidenceHit {
	return []retrieval.EvidenceHit{
		{ChunkID: "c1", Text: "Management must assess ICFR annually.", SectionPath: "3.1", PageStart: 10, PageEnd: 10, Score: 0.9},
		{ChunkID: "c2", Text: "Auditors test controls using a risk-based approach.", SectionPath: "3.2", PageStart: 11, PageEnd: 11, Score: 0.8},
	}
}

func TestComposeNoEvidenceReturnsMissingEvidenceAnswer(t *testing.T) {
	ans, err := Compose(context.Background(), nil, "what is required?", nil, 0)
	require.NoError(t, err)
	require.True(t, ans.MissingEvidence)
	require.Empty(t, ans.Citations)
}

func TestComposeFallsBackToExtractiveWithoutRefiner(t *testing.T) {
	ans, err := Compose(context.Background(), sampleEvidence(), "what is required?", nil, 0.7)
	require.NoError(t, err)
	require.Equal(t, "extractive_fallback", ans.Method)
	require.Len(t, ans.Citations, 2)
	require.InDelta(t, 0.7, ans.Confidence, 1e-9)
}

func TestComposeUsesValidRefinerOutput(t *testing.T) {
	refiner := fakeRefiner{output: &RefinerOutput{
		AnswerMarkdown: "Management assesses ICFR annually.",
		Claims: []Claim{
			{Text: "Management assesses ICFR annually.", CitationIDs: []string{"e1"}},
		},
	}}
	ans, err := Compose(context.Background(), sampleEvidence(), "what is required?", refiner, 0.6)
	require.NoError(t, err)
	require.Equal(t, "llm_synthesis", ans.Method)
	require.Len(t, ans.Citations, 1)
	require.Equal(t, "c1", ans.Citations[0].ChunkID)
	require.InDelta(t, 0.6, ans.Confidence, 1e-9)
}

func TestComposeRejectsRefinerCitingUnknownSpan(t *testing.T) {
	refiner := fakeRefiner{output: &RefinerOutput{
		AnswerMarkdown: "bad",
		Claims: []Claim{
			{Text: "bad claim", CitationIDs: []string{"e99"}},
		},
	}}
	ans, err := Compose(context.Background(), sampleEvidence(), "what is required?", refiner, 0.5)
	require.NoError(t, err)
	require.Equal(t, "extractive_fallback", ans.Method)
}

func TestComposeFallsBackOnRefinerError(t *testing.T) {
	refiner := fakeRefiner{err: context.DeadlineExceeded}
	ans, err := Compose(context.Background(), sampleEvidence(), "what is required?", refiner, 0.4)
	require.NoError(t, err)
	require.Equal(t, "extractive_fallback", ans.Method)
}

func TestSnippetTruncatesLongText(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "word "
	}
	s := snippet(long)
	require.LessOrEqual(t, len(s), maxSnippetChars+len("…"))
}
