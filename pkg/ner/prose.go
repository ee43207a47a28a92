package ner

import (
	"context"
	"iter"
	"unicode/utf8"

	"github.com/narrativeiq/backend/pkg/common"

	"github.com/jdkato/prose/v2"
)

// ProseExtractor runs the prose statistical NER model in-process.
type ProseExtractor struct{}

// NewProseExtractor creates an extractor backed by prose.
func NewProseExtractor() *ProseExtractor {
	return &ProseExtractor{}
}

// Extract tags text and yields PERSON, location and organization spans.
func (p *ProseExtractor) Extract(ctx context.Context, text string) (iter.Seq[common.Candidate], error) {
	if !utf8.ValidString(text) {
		return nil, &ExtractionFailure{Reason: "text is not valid UTF-8"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, &ExtractionFailure{Reason: "tokenization failed", Err: err}
	}

	ents := doc.Entities()
	spans := make([]labeledSpan, 0, len(ents))
	for _, ent := range ents {
		spans = append(spans, labeledSpan{text: ent.Text, label: ent.Label})
	}

	return candidates(text, spans), nil
}
