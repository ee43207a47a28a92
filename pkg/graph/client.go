package graph

import (
	"errors"
	"time"

	"github.com/narrativeiq/backend/pkg/ai"
	"github.com/narrativeiq/backend/pkg/ner"
)

const (
	DefaultMaxInputChars   = 30000
	DefaultMinInputChars   = 10
	DefaultMaxPromptTokens = 12000
	DefaultLLMTimeout      = 60 * time.Second
	maxStructuringAttempts = 2
)

// GraphClient runs the narrative graph pipeline: local extraction, the
// structuring pass, resolution and graph construction. It holds no per
// request state and is safe for concurrent use.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	aiClient  ai.GraphAIClient
	extractor ner.Extractor
	tokenizer *ai.Tokenizer

	model           string
	temperature     float64
	thinking        string
	maxPromptTokens int
	llmTimeout      time.Duration
	maxAttempts     int

	minMentions    int
	minInputChars  int
	maxInputChars  int
	allowSelfLoops bool
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// AIClient is required. Temperature and Thinking are passed to the model
// when set, otherwise the backend defaults apply. Extractor may be nil, in which case the structuring
// pass runs without candidate hints. MaxAttempts bounds the structuring
// calls per request. It is capped at 2 (one retry on transport failures),
// which is also the default.
type NewGraphClientParams struct {
	AIClient  ai.GraphAIClient
	Extractor ner.Extractor
	Tokenizer *ai.Tokenizer

	Model           string
	Temperature     float64
	Thinking        string
	MaxPromptTokens int
	LLMTimeout      time.Duration
	MaxAttempts     int

	MinMentions    int
	MinInputChars  int
	MaxInputChars  int
	AllowSelfLoops bool
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		AIClient:   aiClient,
//		Extractor:  ner.NewProseExtractor(),
//		Tokenizer:  ai.NewTokenizer("o200k_base"),
//		LLMTimeout: 45 * time.Second,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.AIClient == nil {
		return nil, errors.New("graph: AIClient is required")
	}

	g := &GraphClient{
		aiClient:        params.AIClient,
		extractor:       params.Extractor,
		tokenizer:       params.Tokenizer,
		model:           params.Model,
		temperature:     params.Temperature,
		thinking:        params.Thinking,
		maxPromptTokens: params.MaxPromptTokens,
		llmTimeout:      params.LLMTimeout,
		maxAttempts:     params.MaxAttempts,
		minMentions:     params.MinMentions,
		minInputChars:   params.MinInputChars,
		maxInputChars:   params.MaxInputChars,
		allowSelfLoops:  params.AllowSelfLoops,
	}
	if g.tokenizer == nil {
		g.tokenizer = ai.NewTokenizer("")
	}
	if g.maxPromptTokens <= 0 {
		g.maxPromptTokens = DefaultMaxPromptTokens
	}
	if g.llmTimeout <= 0 {
		g.llmTimeout = DefaultLLMTimeout
	}
	if g.maxAttempts <= 0 || g.maxAttempts > maxStructuringAttempts {
		g.maxAttempts = maxStructuringAttempts
	}
	if g.minMentions <= 0 {
		g.minMentions = DefaultMinMentions
	}
	if g.minInputChars <= 0 {
		g.minInputChars = DefaultMinInputChars
	}
	if g.maxInputChars <= 0 {
		g.maxInputChars = DefaultMaxInputChars
	}

	return g, nil
}
