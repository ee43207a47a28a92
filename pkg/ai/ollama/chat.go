package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/ai"
	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/ollama/ollama/api"
)

// defaultContext is Ollama's default num_ctx; longer prompts raise it.
const defaultContext = 4096

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.summaryModel,
		Temperature: 0.3,
	}, opts...)

	content, err := c.chat(ctx, "completion", c.newRequest(options, prompt, nil))
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", &ai.SchemaError{Op: "completion", Err: errors.New("empty reply")}
	}
	return content, nil
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	rv := reflect.ValueOf(out)
	if out == nil || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}, opts...)

	content, err := c.chat(ctx, name, c.newRequest(options, prompt, json.RawMessage(formatBytes)))
	if err != nil {
		return err
	}
	if err := ai.DecodeStructured(name, content, out); err != nil {
		logger.Debug("[AI] Structured reply rejected", "op", name, "reply", util.TruncateRunes(content, 512), "err", err)
		return err
	}
	return nil
}

func (c *GraphOllamaClient) newRequest(options ai.GenerateOptions, prompt string, format json.RawMessage) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sys := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{Value: options.Thinking}
	}

	if c.tokenizer != nil {
		tokens := 512
		for _, m := range msgs {
			tokens += c.tokenizer.Count(m.Content)
		}
		if tokens > defaultContext {
			req.Options["num_ctx"] = tokens
		}
	}
	return req
}

func (c *GraphOllamaClient) chat(ctx context.Context, op string, req *api.ChatRequest) (string, error) {
	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return "", ai.WrapCallError(ctx, op, 0, err)
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	})
	if err != nil {
		status := 0
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			status = statusErr.StatusCode
		}
		return "", ai.WrapCallError(ctx, op, status, err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		Requests:     1,
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	return final.Message.Content, nil
}
