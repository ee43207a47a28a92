package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/ai"
	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/metrics"
)

type extractEntity struct {
	Name        string   `json:"name" jsonschema_description:"Fullest name of the entity as used in the text"`
	Type        string   `json:"type" jsonschema:"enum=character,enum=location,enum=organization,enum=theme,enum=time_reference" jsonschema_description:"Entity type"`
	Aliases     []string `json:"aliases" jsonschema_description:"Other names, nicknames or titles the text uses for this entity"`
	Mentions    int      `json:"mentions" jsonschema_description:"How often the entity is referred to in the text"`
	Description string   `json:"description" jsonschema_description:"One sentence about the entity's role in the narrative"`
}

type extractRelationship struct {
	Source string  `json:"source" jsonschema_description:"Name of the source entity, as given in entities"`
	Target string  `json:"target" jsonschema_description:"Name of the target entity, as given in entities"`
	Type   string  `json:"type" jsonschema_description:"Relationship type in snake_case, e.g. ally or present_at"`
	Label  string  `json:"label" jsonschema_description:"Short human readable description of the relationship"`
	Weight float64 `json:"weight" jsonschema_description:"Strength of the relationship between 0.1 and 1.0"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities found in the narrative"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships between the entities"`
	Summary       string                `json:"summary" jsonschema_description:"Two to three sentence synopsis of the narrative"`
	Themes        []string              `json:"themes" jsonschema_description:"Up to six central themes"`
}

// rawEntity is a validated entity from the structuring pass. Type may be
// empty when the model gave an unknown type; the resolver falls back to the
// local type then.
type rawEntity struct {
	Name        string
	Type        common.EntityType
	Aliases     []string
	Mentions    int
	Description string
}

type rawRelationship struct {
	Source string
	Target string
	Type   string
	Label  string
	Weight float64
}

type extraction struct {
	Entities      []rawEntity
	Relationships []rawRelationship
	Summary       string
	Themes        []string
}

const (
	maxCandidateHints = 100
	maxThemes         = 6
	defaultRelType    = "related_to"
)

var typeSynonyms = map[string]common.EntityType{
	"character":      common.EntityCharacter,
	"person":         common.EntityCharacter,
	"people":         common.EntityCharacter,
	"char":           common.EntityCharacter,
	"creature":       common.EntityCharacter,
	"location":       common.EntityLocation,
	"place":          common.EntityLocation,
	"setting":        common.EntityLocation,
	"gpe":            common.EntityLocation,
	"organization":   common.EntityOrganization,
	"organisation":   common.EntityOrganization,
	"org":            common.EntityOrganization,
	"group":          common.EntityOrganization,
	"faction":        common.EntityOrganization,
	"theme":          common.EntityTheme,
	"concept":        common.EntityTheme,
	"motif":          common.EntityTheme,
	"time_reference": common.EntityTimeReference,
	"time":           common.EntityTimeReference,
	"date":           common.EntityTimeReference,
	"period":         common.EntityTimeReference,
}

func normalizeEntityType(raw string) common.EntityType {
	return typeSynonyms[snakeCase(raw)]
}

// sanitizeExtraction validates and repairs the model output. Entries that
// cannot be repaired are dropped. If the model returned entries but none
// survived, the whole reply is a SchemaError.
func sanitizeExtraction(res extractResponse) (extraction, error) {
	var ext extraction

	for _, e := range res.Entities {
		name := strings.Join(strings.Fields(e.Name), " ")
		if name == "" {
			continue
		}
		typ := normalizeEntityType(e.Type)
		if typ == "" {
			logger.Debug("[Extract] Unknown entity type", "name", name, "type", e.Type)
		}
		aliases := make([]string, 0, len(e.Aliases))
		for _, a := range e.Aliases {
			if a = strings.Join(strings.Fields(a), " "); a != "" {
				aliases = append(aliases, a)
			}
		}
		ext.Entities = append(ext.Entities, rawEntity{
			Name:        name,
			Type:        typ,
			Aliases:     aliases,
			Mentions:    max(e.Mentions, 1),
			Description: strings.TrimSpace(e.Description),
		})
	}

	for _, r := range res.Relationships {
		src := strings.TrimSpace(r.Source)
		tgt := strings.TrimSpace(r.Target)
		if src == "" || tgt == "" {
			continue
		}
		relType := snakeCase(r.Type)
		if relType == "" {
			relType = defaultRelType
		}
		label := strings.TrimSpace(r.Label)
		if label == "" {
			label = strings.ReplaceAll(relType, "_", " ")
		}
		weight := r.Weight
		switch {
		case math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0:
			weight = 0
		case weight == 0:
			weight = 1
		}
		ext.Relationships = append(ext.Relationships, rawRelationship{
			Source: src,
			Target: tgt,
			Type:   relType,
			Label:  label,
			Weight: weight,
		})
	}

	returned := len(res.Entities) + len(res.Relationships)
	if returned > 0 && len(ext.Entities) == 0 {
		return extraction{}, &ai.SchemaError{
			Op:  "narrative_graph",
			Err: fmt.Errorf("none of the %d returned entries were valid", returned),
		}
	}

	ext.Summary = strings.TrimSpace(res.Summary)
	for _, t := range res.Themes {
		if t = strings.TrimSpace(t); t != "" && len(ext.Themes) < maxThemes {
			ext.Themes = append(ext.Themes, t)
		}
	}
	return ext, nil
}

func formatCandidateHints(candidates []common.Candidate) string {
	seen := make(map[string]struct{})
	var b strings.Builder
	n := 0
	for _, c := range candidates {
		key := string(c.Type) + "|" + ResolutionKey(c.Text, c.Type)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		fmt.Fprintf(&b, "- %s (%s)\n", c.Text, c.Type)
		n++
		if n == maxCandidateHints {
			break
		}
	}
	if n == 0 {
		return "(none found, extract everything yourself)"
	}
	return b.String()
}

func formatThemeHints(themes []string) string {
	if len(themes) == 0 {
		return "(none)"
	}
	return strings.Join(themes, ", ")
}

// structure runs the structuring pass: one schema constrained completion
// with a per-attempt timeout and at most one retry on transport failures.
func (g *GraphClient) structure(
	ctx context.Context,
	text string,
	candidates []common.Candidate,
	themeHints []string,
) (extraction, bool, error) {
	body, truncated := g.tokenizer.Truncate(text, g.maxPromptTokens)
	if truncated {
		logger.Warn("[Extract] Narrative truncated to prompt budget", "max_tokens", g.maxPromptTokens)
	}
	prompt := fmt.Sprintf(
		ai.NarrativeGraphPrompt,
		formatCandidateHints(candidates),
		formatThemeHints(themeHints),
		body,
	)

	opts := []ai.GenerateOption{ai.WithSystemPrompts(ai.NarrativeSystemPrompt)}
	if g.model != "" {
		opts = append(opts, ai.WithModel(g.model))
	}
	if g.temperature > 0 {
		opts = append(opts, ai.WithTemperature(g.temperature))
	}
	if g.thinking != "" {
		opts = append(opts, ai.WithThinking(g.thinking))
	}

	attempt := func(ctx context.Context) (extraction, error) {
		callCtx, cancel := context.WithTimeoutCause(ctx, g.llmTimeout, ai.ErrTimeout)
		defer cancel()

		start := time.Now()
		var res extractResponse
		err := g.aiClient.GenerateCompletionWithFormat(
			callCtx,
			"narrative_graph",
			"Entities, relationships, synopsis and themes of a narrative.",
			prompt,
			&res,
			opts...,
		)
		metrics.ObserveStage("llm_call", start)
		if err != nil {
			// our own deadline fired while the caller is still waiting
			if ctx.Err() == nil && errors.Is(context.Cause(callCtx), ai.ErrTimeout) {
				var te *ai.TransportError
				if !errors.As(err, &te) || !errors.Is(err, ai.ErrTimeout) {
					err = &ai.TransportError{Op: "narrative_graph", Err: fmt.Errorf("%w: %w", ai.ErrTimeout, err)}
				}
			}
			metrics.LLMAttempts.WithLabelValues(attemptOutcome(err)).Inc()
			logger.Warn("[Extract] Structuring attempt failed", "err", err)
			return extraction{}, err
		}

		ext, err := sanitizeExtraction(res)
		metrics.LLMAttempts.WithLabelValues(attemptOutcome(err)).Inc()
		return ext, err
	}

	ext, err := util.RetryWithContextIf(ctx, g.maxAttempts, ai.IsRetryable, attempt)
	return ext, truncated, err
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ai.ErrTimeout):
		return "timeout"
	case ai.IsSchema(err):
		return "schema"
	case ai.IsRetryable(err):
		return "transport"
	default:
		return "error"
	}
}
