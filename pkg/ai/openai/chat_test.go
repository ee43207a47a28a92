package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/narrativeiq/backend/pkg/ai"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GraphOpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGraphOpenAIClient(NewGraphOpenAIClientParams{
		ExtractionModel: "test-model",
		ChatURL:         srv.URL + "/v1/",
		ChatKey:         "test-key",
	})
}

func completionBody(content string) string {
	return `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "test-model",
		"choices": [{
			"index": 0,
			"finish_reason": "stop",
			"message": {"role": "assistant", "content": ` + content + `}
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`
}

func TestGenerateCompletionWithFormat_Decodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`"{\"name\":\"Alice\"}"`)))
	})

	var out struct {
		Name string `json:"name"`
	}
	if err := client.GenerateCompletionWithFormat(context.Background(), "extract", "test", "prompt", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name != "Alice" {
		t.Fatalf("expected Alice, got %q", out.Name)
	}
	if m := client.GetMetrics(); m.TotalTokens != 15 || m.Requests != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestGenerateCompletionWithFormat_ServerErrorIsTransport(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})

	var out struct{}
	err := client.GenerateCompletionWithFormat(context.Background(), "extract", "test", "prompt", &out)
	var te *ai.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusServiceUnavailable || !te.Temporary() {
		t.Fatalf("expected temporary 503, got %+v", te)
	}
}

func TestGenerateCompletionWithFormat_GarbageIsSchemaError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`""`)))
	})

	var out struct {
		Name string `json:"name"`
	}
	err := client.GenerateCompletionWithFormat(context.Background(), "extract", "test", "prompt", &out)
	if !ai.IsSchema(err) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}
