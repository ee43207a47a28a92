// Package aitest provides a scripted ai.GraphAIClient for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/narrativeiq/backend/pkg/ai"
)

// Reply is one scripted model response. When Err is set it is returned
// instead of decoding Body.
type Reply struct {
	Body string
	Err  error
}

// FakeClient replays Replies in order. Once exhausted, the last reply repeats.
type FakeClient struct {
	mu      sync.Mutex
	Replies []Reply
	Prompts []string
	calls   int
	metrics ai.ModelMetrics
}

// NewFakeClient creates a client that returns the given replies in order.
func NewFakeClient(replies ...Reply) *FakeClient {
	return &FakeClient{Replies: replies}
}

// Calls returns the number of model calls made so far.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) next(prompt string) Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	f.calls++
	f.metrics.Add(ai.ModelMetrics{Requests: 1})
	if len(f.Replies) == 0 {
		return Reply{Body: "{}"}
	}
	i := min(f.calls-1, len(f.Replies)-1)
	return f.Replies[i]
}

func (f *FakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := f.next(prompt)
	if r.Err != nil {
		return "", r.Err
	}
	return r.Body, nil
}

func (f *FakeClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := f.next(prompt)
	if r.Err != nil {
		return r.Err
	}
	return ai.DecodeStructured(name, r.Body, out)
}

func (f *FakeClient) ResetMetrics() {
	f.mu.Lock()
	f.metrics = ai.ModelMetrics{}
	f.mu.Unlock()
}

func (f *FakeClient) GetMetrics() ai.ModelMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}
