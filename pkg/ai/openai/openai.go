package openai

import (
	"sync"

	"github.com/narrativeiq/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// GraphOpenAIClient talks to an OpenAI compatible chat completion API.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	extractionModel string
	summaryModel    string

	chatURL string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient *openai.Client
}

// NewGraphOpenAIClientParams configures a GraphOpenAIClient.
//
// ExtractionModel is used for structured graph extraction, SummaryModel for
// free-text completions (defaults to ExtractionModel). ChatURL may be empty
// for api.openai.com. MaxRetries is the SDK level retry count; the pipeline
// runs its own single retry on top, so it defaults to 0.
type NewGraphOpenAIClientParams struct {
	ExtractionModel string
	SummaryModel    string

	ChatURL string
	ChatKey string

	MaxRetries int
}

// NewGraphOpenAIClient creates a client for the configured endpoint.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		ExtractionModel: "gpt-4o-mini",
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	})
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) *GraphOpenAIClient {
	summaryModel := params.SummaryModel
	if summaryModel == "" {
		summaryModel = params.ExtractionModel
	}

	return &GraphOpenAIClient{
		extractionModel: params.ExtractionModel,
		summaryModel:    summaryModel,
		chatURL:         params.ChatURL,
		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey, params.MaxRetries),
	}
}

func newOpenaiClient(baseURL string, apiKey string, maxRetries int) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(max(maxRetries, 0)),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// ResetMetrics clears the accumulated token and timing metrics.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the metrics accumulated since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.Add(m)
}
