package openai

import (
	"context"
	"errors"
	"time"

	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/ai"
	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the generated completion as plain text.
func (c *GraphOpenAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.summaryModel,
		Temperature: 0.3,
	}, opts...)

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    buildMessages(options, prompt),
		Temperature: openai.Float(options.Temperature),
	}
	c.applyThinking(&body, options)

	content, err := c.complete(ctx, "completion", body)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", &ai.SchemaError{Op: "completion", Err: errors.New("empty reply")}
	}
	return content, nil
}

// GenerateCompletionWithFormat sends a prompt with a strict JSON schema
// derived from out and decodes the reply into out.
//
// Example:
//
//	var out extraction
//	err := client.GenerateCompletionWithFormat(ctx, "narrative_graph", "Entities and relationships", prompt, &out)
func (c *GraphOpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      ai.GenerateSchema(out),
		Strict:      openai.Bool(true),
	}

	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}, opts...)

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(options.Model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages:    buildMessages(options, prompt),
		Temperature: openai.Float(options.Temperature),
	}
	c.applyThinking(&body, options)

	content, err := c.complete(ctx, name, body)
	if err != nil {
		return err
	}
	if err := ai.DecodeStructured(name, content, out); err != nil {
		logger.Debug("[AI] Structured reply rejected", "op", name, "reply", util.TruncateRunes(content, 512), "err", err)
		return err
	}
	return nil
}

func buildMessages(options ai.GenerateOptions, prompt string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	return append(msgs, openai.UserMessage(prompt))
}

func (c *GraphOpenAIClient) applyThinking(body *openai.ChatCompletionNewParams, options ai.GenerateOptions) {
	if options.Thinking == "" {
		return
	}
	// reasoning models on api.openai.com only accept temperature 1
	if c.chatURL == "" {
		body.Temperature = openai.Float(1.0)
	}
	body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
}

func (c *GraphOpenAIClient) complete(ctx context.Context, op string, body openai.ChatCompletionNewParams) (string, error) {
	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", ai.WrapCallError(ctx, op, status, err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		Requests:     1,
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return "", &ai.SchemaError{Op: op, Err: errors.New("no choices in response from model")}
	}
	return response.Choices[0].Message.Content, nil
}
