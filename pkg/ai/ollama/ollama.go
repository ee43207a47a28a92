package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/narrativeiq/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements ai.GraphAIClient against an Ollama server.
type GraphOllamaClient struct {
	extractionModel string
	summaryModel    string

	reqLock   *semaphore.Weighted
	tokenizer *ai.Tokenizer

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	ExtractionModel string
	SummaryModel    string

	BaseURL string
	ApiKey  string

	// MaxConcurrentRequests bounds in-flight calls to the server (default 4).
	MaxConcurrentRequests int64
	// Tokenizer sizes num_ctx for long prompts. May be nil.
	Tokenizer *ai.Tokenizer
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient connects to the Ollama server at BaseURL, or the
// default from OLLAMA_HOST when empty.
func NewGraphOllamaClient(params NewGraphOllamaClientParams) (*GraphOllamaClient, error) {
	var u *url.URL
	if params.BaseURL != "" {
		parsed, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
		u = parsed
	}

	var cli *api.Client
	if u == nil {
		env, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
		cli = env
	} else {
		httpClient := &http.Client{Transport: http.DefaultTransport}
		if params.ApiKey != "" {
			httpClient.Transport = &headerTransport{
				headers: map[string]string{"Authorization": "Bearer " + params.ApiKey},
				rt:      http.DefaultTransport,
			}
		}
		cli = api.NewClient(u, httpClient)
	}

	parallel := params.MaxConcurrentRequests
	if parallel <= 0 {
		parallel = 4
	}
	summaryModel := params.SummaryModel
	if summaryModel == "" {
		summaryModel = params.ExtractionModel
	}

	return &GraphOllamaClient{
		extractionModel: params.ExtractionModel,
		summaryModel:    summaryModel,
		reqLock:         semaphore.NewWeighted(parallel),
		tokenizer:       params.Tokenizer,
		Client:          cli,
	}, nil
}
