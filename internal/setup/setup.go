// Package setup builds the pipeline collaborators shared by the server and
// the CLI from configuration.
package setup

import (
	"fmt"
	"time"

	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/ai"
	oai "github.com/narrativeiq/backend/pkg/ai/ollama"
	gai "github.com/narrativeiq/backend/pkg/ai/openai"
	"github.com/narrativeiq/backend/pkg/graph"
	"github.com/narrativeiq/backend/pkg/ner"
)

// AIConfig selects and configures the LLM backend.
type AIConfig struct {
	Adapter         string // "openai" (default) or "ollama"
	ChatURL         string
	ChatKey         string
	ExtractModel    string
	Temperature     float64
	Thinking        string // reasoning effort, e.g. "low"
	TokenEncoder    string
	MaxPromptTokens int
	LLMTimeout      time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// AIConfigFromEnv reads the AI_* and LLM_TIMEOUT variables.
func AIConfigFromEnv() AIConfig {
	return AIConfig{
		Adapter:         util.GetEnvString("AI_ADAPTER", "openai"),
		ChatURL:         util.GetEnv("AI_CHAT_URL"),
		ChatKey:         util.GetEnv("AI_CHAT_KEY"),
		ExtractModel:    util.GetEnvString("AI_CHAT_EXTRACT_MODEL", "gpt-4o-mini"),
		Temperature:     util.GetEnvNumeric("AI_TEMPERATURE", 0),
		Thinking:        util.GetEnv("AI_THINKING"),
		TokenEncoder:    util.GetEnvString("AI_TOKEN_ENCODER", "o200k_base"),
		MaxPromptTokens: int(util.GetEnvInt("AI_MAX_PROMPT_TOKENS", graph.DefaultMaxPromptTokens)),
		LLMTimeout:      util.GetEnvDuration("LLM_TIMEOUT", graph.DefaultLLMTimeout),
		BreakerFailures: uint32(util.GetEnvInt("AI_BREAKER_FAILURES", 5)),
		BreakerTimeout:  util.GetEnvDuration("AI_BREAKER_TIMEOUT", 30*time.Second),
	}
}

// NewAIClient creates the configured backend wrapped in a circuit breaker.
func NewAIClient(cfg AIConfig, tokenizer *ai.Tokenizer) (*ai.BreakerClient, error) {
	var client ai.GraphAIClient

	switch cfg.Adapter {
	case "ollama":
		c, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ExtractionModel: cfg.ExtractModel,
			BaseURL:         cfg.ChatURL,
			ApiKey:          cfg.ChatKey,
			Tokenizer:       tokenizer,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create Ollama client: %w", err)
		}
		client = c
	case "openai", "":
		client = gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ExtractionModel: cfg.ExtractModel,
			ChatURL:         cfg.ChatURL,
			ChatKey:         cfg.ChatKey,
		})
	default:
		return nil, fmt.Errorf("unknown AI adapter %q", cfg.Adapter)
	}

	return ai.NewBreakerClient(client, ai.BreakerSettings{
		Name:             "llm-" + cfg.Adapter,
		FailureThreshold: cfg.BreakerFailures,
		Timeout:          cfg.BreakerTimeout,
	}), nil
}

// NewGraphClient wires the prose extractor and the LLM backend into a
// pipeline client.
func NewGraphClient(cfg AIConfig, minMentions int) (*graph.GraphClient, error) {
	tokenizer := ai.NewTokenizer(cfg.TokenEncoder)
	aiClient, err := NewAIClient(cfg, tokenizer)
	if err != nil {
		return nil, err
	}
	return graph.NewGraphClient(graph.NewGraphClientParams{
		AIClient:        aiClient,
		Extractor:       ner.NewProseExtractor(),
		Tokenizer:       tokenizer,
		Model:           cfg.ExtractModel,
		Temperature:     cfg.Temperature,
		Thinking:        cfg.Thinking,
		MaxPromptTokens: cfg.MaxPromptTokens,
		LLMTimeout:      cfg.LLMTimeout,
		MinMentions:     minMentions,
	})
}
