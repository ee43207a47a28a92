package graph

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/narrativeiq/backend/pkg/ai"
	"github.com/narrativeiq/backend/pkg/ai/aitest"
	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/ner"

	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	candidates []common.Candidate
	err        error
}

func (s stubExtractor) Extract(ctx context.Context, text string) (iter.Seq[common.Candidate], error) {
	if s.err != nil {
		return nil, s.err
	}
	return slices.Values(s.candidates), nil
}

// hangingClient blocks every call until its context ends.
type hangingClient struct {
	aitest.FakeClient
	calls atomic.Int32
}

func (h *hangingClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	h.calls.Add(1)
	<-ctx.Done()
	return ai.WrapCallError(ctx, name, 0, ctx.Err())
}

const lighthouseText = "Alice met Bob at the old lighthouse. Alice waved to Bob."

const lighthouseReply = `{
	"entities": [
		{"name": "Alice", "type": "character", "aliases": [], "mentions": 2, "description": "A traveller"},
		{"name": "Bob", "type": "character", "aliases": [], "mentions": 2, "description": "A keeper"},
		{"name": "lighthouse", "type": "location", "aliases": ["the old lighthouse"], "mentions": 1, "description": "An old tower"}
	],
	"relationships": [
		{"source": "Alice", "target": "the old lighthouse", "type": "present_at", "label": "is at", "weight": 0.8},
		{"source": "Bob", "target": "lighthouse", "type": "present_at", "label": "is at", "weight": 0.8}
	],
	"summary": "Alice and Bob meet at an old lighthouse.",
	"themes": ["Friendship"]
}`

func lighthouseCandidates() []common.Candidate {
	return []common.Candidate{
		{Text: "Alice", Start: 0, End: 5, Type: common.EntityCharacter},
		{Text: "Bob", Start: 10, End: 13, Type: common.EntityCharacter},
		{Text: "Alice", Start: 37, End: 42, Type: common.EntityCharacter},
		{Text: "Bob", Start: 52, End: 55, Type: common.EntityCharacter},
	}
}

func newTestClient(t *testing.T, client ai.GraphAIClient, extractor ner.Extractor) *GraphClient {
	t.Helper()
	g, err := NewGraphClient(NewGraphClientParams{
		AIClient:   client,
		Extractor:  extractor,
		LLMTimeout: time.Second,
	})
	require.NoError(t, err)
	return g
}

func TestGenerateGraph_LighthouseScenario(t *testing.T) {
	fake := aitest.NewFakeClient(aitest.Reply{Body: lighthouseReply})
	g := newTestClient(t, fake, stubExtractor{candidates: lighthouseCandidates()})

	res, err := g.GenerateGraph(context.Background(), lighthouseText, GenerateOptions{})
	require.NoError(t, err)

	types := make(map[string]common.EntityType)
	ids := make(map[string]string)
	for _, e := range res.Graph.Entities {
		types[e.Name] = e.Type
		ids[e.Name] = e.ID
	}
	require.Equal(t, map[string]common.EntityType{
		"Alice":      common.EntityCharacter,
		"Bob":        common.EntityCharacter,
		"lighthouse": common.EntityLocation,
	}, types)

	require.Len(t, res.Graph.Relationships, 2)
	for _, r := range res.Graph.Relationships {
		require.Equal(t, "present_at", r.Type)
		require.Equal(t, ids["lighthouse"], r.TargetID)
	}
	require.Equal(t, 0, res.Graph.Summary.DisconnectedComponents)
	require.Equal(t, "Alice and Bob meet at an old lighthouse.", res.Graph.Synopsis)
	require.Equal(t, []string{"Friendship"}, res.Graph.Themes)
	require.Equal(t, 4, res.Candidates)

	require.Equal(t, 1, fake.Calls())
	require.Contains(t, fake.Prompts[0], "- Alice (character)")
	require.Equal(t, 1, strings.Count(fake.Prompts[0], "- Alice (character)"))
}

func TestGenerateGraph_StableEntityIDs(t *testing.T) {
	run := func() []string {
		fake := aitest.NewFakeClient(aitest.Reply{Body: lighthouseReply})
		res, err := newTestClient(t, fake, stubExtractor{candidates: lighthouseCandidates()}).
			GenerateGraph(context.Background(), lighthouseText, GenerateOptions{})
		require.NoError(t, err)
		var ids []string
		for _, e := range res.Graph.Entities {
			ids = append(ids, e.ID)
		}
		slices.Sort(ids)
		return ids
	}
	require.Equal(t, run(), run())
}

func TestGenerateGraph_RejectsInvalidInputBeforeModelCall(t *testing.T) {
	fake := aitest.NewFakeClient(aitest.Reply{Body: lighthouseReply})
	g := newTestClient(t, fake, nil)

	for _, text := range []string{"", "   \n\t", "short", strings.Repeat("a", DefaultMaxInputChars+1)} {
		_, err := g.GenerateGraph(context.Background(), text, GenerateOptions{})
		var inputErr *InputError
		require.ErrorAs(t, err, &inputErr)
	}
	require.Zero(t, fake.Calls())
}

func TestGenerateGraph_RetriesTransportErrorOnce(t *testing.T) {
	unavailable := &ai.TransportError{Op: "narrative_graph", StatusCode: 503, Err: errors.New("unavailable")}
	fake := aitest.NewFakeClient(aitest.Reply{Err: unavailable}, aitest.Reply{Body: lighthouseReply})
	g := newTestClient(t, fake, nil)

	res, err := g.GenerateGraph(context.Background(), lighthouseText, GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, res.Graph.Entities, 3)
	require.Equal(t, 2, fake.Calls())
}

func TestGenerateGraph_GivesUpAfterSecondTransportError(t *testing.T) {
	unavailable := &ai.TransportError{Op: "narrative_graph", StatusCode: 503, Err: errors.New("unavailable")}
	fake := aitest.NewFakeClient(aitest.Reply{Err: unavailable})
	g := newTestClient(t, fake, nil)

	_, err := g.GenerateGraph(context.Background(), lighthouseText, GenerateOptions{})
	require.True(t, ai.IsRetryable(err))
	require.Equal(t, 2, fake.Calls())
}

func TestGenerateGraph_MaxAttemptsIsCapped(t *testing.T) {
	unavailable := &ai.TransportError{Op: "narrative_graph", StatusCode: 503, Err: errors.New("unavailable")}
	fake := aitest.NewFakeClient(aitest.Reply{Err: unavailable})
	g, err := NewGraphClient(NewGraphClientParams{
		AIClient:    fake,
		LLMTimeout:  time.Second,
		MaxAttempts: 5,
	})
	require.NoError(t, err)

	_, err = g.GenerateGraph(context.Background(), lighthouseText, GenerateOptions{})
	require.True(t, ai.IsRetryable(err))
	require.Equal(t, 2, fake.Calls())
}

func TestGenerateGraph_DoesNotRetryClientErrors(t *testing.T) {
	badRequest := &ai.TransportError{Op: "narrative_graph", StatusCode: 400, Err: errors.New("bad request")}
	fake := aitest.NewFakeClient(aitest.Reply{Err: badRequest})
	g := newTestClient(t, fake, nil)

	_, err := g.GenerateGraph(context.Background(), lighthouseText, GenerateOptions{})
	require.Error(t, err)
	require.Equal(t, 1, fake.Calls())
}

func TestGenerateGraph_SchemaErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name  string
		reply aitest.Reply
	}{
		{"backend schema error", aitest.Reply{Err: &ai.SchemaError{Op: "narrative_graph", Err: errors.New("bad json")}}},
		{"empty reply", aitest.Reply{Body: "   "}},
		{"nothing valid", aitest.Reply{Body: `{"entities":[{"name":"  ","type":"character"}],"relationships":[]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := aitest.NewFakeClient(tt.reply)
			g := newTestClient(t, fake, nil)

			_, err := g.GenerateGraph(context.Background(), lighthouseText, GenerateOptions{})
			require.True(t, ai.IsSchema(err), "got %v", err)
			require.Equal(t, 1, fake.Calls())
		})
	}
}

func TestGenerateGraph_Timeout(t *testing.T) {
	client := &hangingClient{}
	g, err := NewGraphClient(NewGraphClientParams{
		AIClient:   client,
		LLMTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = g.GenerateGraph(context.Background(), lighthouseText, GenerateOptions{})
	require.ErrorIs(t, err, ai.ErrTimeout)
	require.True(t, ai.IsRetryable(err))
	require.EqualValues(t, 2, client.calls.Load())
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestGenerateGraph_CallerCancellation(t *testing.T) {
	client := &hangingClient{}
	g, err := NewGraphClient(NewGraphClientParams{AIClient: client, LLMTimeout: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = g.GenerateGraph(ctx, lighthouseText, GenerateOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 1, client.calls.Load())
}

func TestGenerateGraph_ExtractionFailureDegrades(t *testing.T) {
	fake := aitest.NewFakeClient(aitest.Reply{Body: lighthouseReply})
	failing := stubExtractor{err: &ner.ExtractionFailure{Reason: "model unavailable"}}
	g := newTestClient(t, fake, failing)

	res, err := g.GenerateGraph(context.Background(), lighthouseText, GenerateOptions{})
	require.NoError(t, err)
	require.Zero(t, res.Candidates)
	require.Len(t, res.Graph.Entities, 3)
	require.Contains(t, fake.Prompts[0], "(none found")
}

func TestGenerateGraph_HeuristicThemesAsFallback(t *testing.T) {
	reply := `{"entities":[{"name":"Mara","type":"character"}],"relationships":[],"summary":"","themes":[]}`
	fake := aitest.NewFakeClient(aitest.Reply{Body: reply})
	g := newTestClient(t, fake, nil)

	text := "Mara went to war. The battle was long and the war cost her a friend."
	res, err := g.GenerateGraph(context.Background(), text, GenerateOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Graph.Themes, "Conflict")
}
