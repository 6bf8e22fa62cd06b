package ingest

import "context"

// PlainTextExtractor reads the document bytes as UTF-8 text and returns
// them as a single page. It serves deployments whose raw inputs are
// already text-extracted; binary PDFs need a real parser wired in via
// PDFTextExtractor.
type PlainTextExtractor struct{}

func (PlainTextExtractor) ExtractPages(ctx context.Context, data []byte) ([]Page, error) {
	return []Page{{Number: 1, Text: string(data)}}, nil
}
