package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/narrativeiq/backend/pkg/ai"
	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/metrics"
	"github.com/narrativeiq/backend/pkg/ner"
)

// GenerateOptions overrides client defaults for a single run.
type GenerateOptions struct {
	MinMentions int
}

// Result is the outcome of one pipeline run.
type Result struct {
	Graph                *common.Graph
	Candidates           int
	Truncated            bool
	DroppedEntities      int
	DroppedRelationships int
	Duration             time.Duration
}

// ValidateInput rejects text the pipeline will not process. It is cheap and
// meant to run before any credits are reserved.
func (g *GraphClient) ValidateInput(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &InputError{Reason: "text is empty"}
	}
	if !utf8.ValidString(text) {
		return &InputError{Reason: "text is not valid UTF-8"}
	}
	if n := utf8.RuneCountInString(trimmed); n < g.minInputChars {
		return &InputError{Reason: fmt.Sprintf("text must be at least %d characters", g.minInputChars)}
	}
	if n := utf8.RuneCountInString(text); n > g.maxInputChars {
		return &InputError{Reason: fmt.Sprintf("text exceeds %d characters (got %d)", g.maxInputChars, n)}
	}
	return nil
}

// GenerateGraph runs the pipeline on text and returns the built graph.
//
// A local extraction failure degrades to a run without candidate hints.
// Errors from the structuring pass keep their type (*ai.TransportError,
// *ai.SchemaError, ai.ErrTimeout); a graph that fails construction returns
// a *ResolutionInvariantError.
func (g *GraphClient) GenerateGraph(ctx context.Context, text string, opts GenerateOptions) (*Result, error) {
	start := time.Now()
	result, err := g.generate(ctx, text, opts)
	metrics.PipelineRuns.WithLabelValues(pipelineOutcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	logger.Info("[Graph] Built narrative graph",
		"entities", len(result.Graph.Entities),
		"relationships", len(result.Graph.Relationships),
		"candidates", result.Candidates,
		"duration", result.Duration,
	)
	return result, nil
}

func (g *GraphClient) generate(ctx context.Context, text string, opts GenerateOptions) (*Result, error) {
	if err := g.ValidateInput(text); err != nil {
		return nil, err
	}

	candidates := g.extractCandidates(ctx, text)
	themeHints := ner.DetectThemes(text)

	ext, truncated, err := g.structure(ctx, text, candidates, themeHints)
	if err != nil {
		return nil, fmt.Errorf("structuring pass: %w", err)
	}

	minMentions := g.minMentions
	if opts.MinMentions > 0 {
		minMentions = opts.MinMentions
	}

	stage := time.Now()
	res := Resolve(ext, candidates, ResolveOptions{
		MinMentions:    minMentions,
		AllowSelfLoops: g.allowSelfLoops,
	})
	metrics.ObserveStage("resolve", stage)

	themes := ext.Themes
	if len(themes) == 0 {
		themes = themeHints
	}

	stage = time.Now()
	built, err := Build(res, BuildOptions{
		AllowSelfLoops: g.allowSelfLoops,
		Synopsis:       ext.Summary,
		Themes:         themes,
	})
	metrics.ObserveStage("build", stage)
	if err != nil {
		logger.Error("[Graph] Resolution produced an invalid graph", "err", err)
		return nil, fmt.Errorf("build graph: %w", err)
	}

	return &Result{
		Graph:                built,
		Candidates:           len(candidates),
		Truncated:            truncated,
		DroppedEntities:      res.DroppedEntities,
		DroppedRelationships: res.DroppedRelationships,
	}, nil
}

func (g *GraphClient) extractCandidates(ctx context.Context, text string) []common.Candidate {
	if g.extractor == nil {
		return nil
	}
	start := time.Now()
	defer metrics.ObserveStage("ner", start)

	seq, err := g.extractor.Extract(ctx, text)
	if err != nil {
		metrics.NERFailures.Inc()
		logger.Warn("[Graph] Local extraction failed, continuing without candidates", "err", err)
		return nil
	}
	return slices.Collect(seq)
}

func pipelineOutcome(err error) string {
	var inputErr *InputError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &inputErr):
		return "invalid_input"
	case errors.Is(err, ErrInvalidGraph):
		return "invalid_graph"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return attemptOutcome(err)
	}
}

// LLMMetrics returns the token usage of the underlying model client.
func (g *GraphClient) LLMMetrics() ai.ModelMetrics {
	return g.aiClient.GetMetrics()
}
