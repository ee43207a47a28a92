// Package ner finds candidate entity spans in narrative text without calling
// an LLM. Candidates are hints: they seed the structuring prompt and feed the
// resolver, but never become graph nodes on their own.
package ner

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/narrativeiq/backend/pkg/common"
)

// Extractor yields candidate entity spans for a text.
//
// The returned sequence is lazy and may be ranged over once.
type Extractor interface {
	Extract(ctx context.Context, text string) (iter.Seq[common.Candidate], error)
}

// ExtractionFailure reports that the local pass could not process the text.
// Callers treat it as "no candidates", never as a request failure.
type ExtractionFailure struct {
	Reason string
	Err    error
}

func (e *ExtractionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("entity extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "entity extraction failed: " + e.Reason
}

func (e *ExtractionFailure) Unwrap() error {
	return e.Err
}

// labelTypes maps NER labels to coarse entity types. Unlisted labels are ignored.
var labelTypes = map[string]common.EntityType{
	"PERSON": common.EntityCharacter,
	"GPE":    common.EntityLocation,
	"LOC":    common.EntityLocation,
	"FAC":    common.EntityLocation,
	"ORG":    common.EntityOrganization,
	"NORP":   common.EntityOrganization,
}

// TypeForLabel returns the coarse entity type for an NER label.
func TypeForLabel(label string) (common.EntityType, bool) {
	t, ok := labelTypes[strings.ToUpper(strings.TrimSpace(label))]
	return t, ok
}

type labeledSpan struct {
	text  string
	label string
}

// candidates locates each span in text by scanning forward, so repeated
// mentions of the same name get distinct offsets.
func candidates(text string, spans []labeledSpan) iter.Seq[common.Candidate] {
	return func(yield func(common.Candidate) bool) {
		cursor := 0
		for _, span := range spans {
			t, ok := TypeForLabel(span.label)
			if !ok {
				continue
			}
			surface := strings.TrimSpace(span.text)
			if surface == "" {
				continue
			}

			start := strings.Index(text[cursor:], surface)
			if start < 0 {
				// out-of-order span, search from the beginning
				start = strings.Index(text, surface)
				if start < 0 {
					continue
				}
			} else {
				start += cursor
				cursor = start + len(surface)
			}

			if !yield(common.Candidate{
				Text:  surface,
				Start: start,
				End:   start + len(surface),
				Type:  t,
			}) {
				return
			}
		}
	}
}
