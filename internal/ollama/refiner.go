package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fabfab/docspine/internal/compose"
)

// answerSystemPrompt is the fixed system instruction binding the model
// to the evidence it is given.
const answerSystemPrompt = `You are a compliance-grade assistant. Answer the user's QUESTION using ONLY the provided EVIDENCE_SPANS.
No citation, no claim. Do not invent facts. Keep to 500 words or fewer.
Output STRICT JSON only, matching this schema:
{
  "answer_markdown": "<concise answer>",
  "claims": [ { "text": "<one atomic claim>", "citation_ids": ["<evidence_id>"] } ],
  "missing_evidence": false
}`

// Refiner implements compose.Refiner by prompting a local Ollama model
// with the question and its evidence spans and parsing the model's
// strict-JSON response.
type Refiner struct {
	chat Client
}

// NewRefiner wraps an ollama Client as a compose.Refiner.
func NewRefiner(chat Client) *Refiner {
	return &Refiner{chat: chat}
}

func (r *Refiner) Refine(ctx context.Context, question string, spans []compose.EvidenceSpan) (*compose.RefinerOutput, error) {
	evidenceJSON, err := json.MarshalIndent(spans, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal evidence spans: %w", err)
	}

	userMessage := fmt.Sprintf(`QUESTION:
%s

EVIDENCE_SPANS:
%s

Constraints:
- Every claim must include at least one citation_id present in EVIDENCE_SPANS.
- If evidence is insufficient, return {"answer_markdown":"No evidence found for this question in the provided sources.","claims":[],"missing_evidence":true}`,
		question, evidenceJSON)

	raw, err := r.chat.Chat(ctx, []Message{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: userMessage},
	})
	if err != nil {
		return nil, fmt.Errorf("call ollama chat: %w", err)
	}

	jsonText, ok := extractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in refiner response")
	}

	var output compose.RefinerOutput
	if err := json.Unmarshal([]byte(jsonText), &output); err != nil {
		return nil, fmt.Errorf("parse refiner response: %w", err)
	}
	return &output, nil
}

// extractJSONObject returns the span from the first "{" to the last "}"
// in text, tolerating the model wrapping its JSON in prose or code
// fences. Brace balance is not checked.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

var _ compose.Refiner = (*Refiner)(nil)
