package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSelectsProvider(t *testing.T) {
	client, err := New(Config{Provider: "mock"})
	require.NoError(t, err)
	require.Equal(t, "mock", client.Provider())

	client, err = New(Config{Provider: "Anthropic", AnthropicAPIKey: "key"})
	require.NoError(t, err)
	require.Equal(t, "anthropic", client.Provider())

	_, err = New(Config{Provider: "bard"})
	require.Error(t, err)
}

func TestAnthropicThink(t *testing.T) {
	var gotVersion, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "claude-sonnet-4-5-20250929", req.Model)
		require.Equal(t, 1000, req.MaxTokens)
		require.Len(t, req.Messages, 1)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": `{"action": "do_nothing"}`}},
			"model":   req.Model,
			"usage":   map[string]int{"input_tokens": 321, "output_tokens": 12},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClient("sk-test", time.Second)
	client.endpoint = srv.URL

	resp, err := client.Think(context.Background(), Request{
		Prompt:      "decide",
		Model:       "claude-sonnet-4-5-20250929",
		Temperature: 0.8,
		MaxTokens:   1000,
	})
	require.NoError(t, err)
	require.Equal(t, `{"action": "do_nothing"}`, resp.Content)
	require.Equal(t, 321, resp.InputTokens)
	require.Equal(t, 12, resp.OutputTokens)
	require.Equal(t, "2023-06-01", gotVersion)
	require.Equal(t, "sk-test", gotKey)
}

func TestAnthropicThinkRetriesOnOverload(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
			"model":   "m",
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClient("sk-test", time.Second)
	client.endpoint = srv.URL

	resp, err := client.Think(context.Background(), Request{Prompt: "p", Model: "m", MaxTokens: 10})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
	require.GreaterOrEqual(t, calls.Load(), int64(2))
}

func TestAnthropicThinkBadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewAnthropicClient("sk-test", time.Second)
	client.endpoint = srv.URL

	_, err := client.Think(context.Background(), Request{Prompt: "p", Model: "m", MaxTokens: 10})
	require.Error(t, err)
	require.Equal(t, int64(1), calls.Load())
}

func TestOllamaThinkMapsCloudModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "llama3", req.Model)
		require.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Model:           req.Model,
			Response:        "local answer",
			PromptEvalCount: 40,
			EvalCount:       9,
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, time.Second)
	resp, err := client.Think(context.Background(), Request{
		Prompt: "p", Model: "claude-sonnet-4-5-20250929", MaxTokens: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "local answer", resp.Content)
	require.Equal(t, 40, resp.InputTokens)
	require.Equal(t, 9, resp.OutputTokens)
}

func TestLocalModelMapping(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet-4-5-20250929": "llama3",
		"gpt-4o":                     "llama3",
		"":                           "llama3",
		"mistral":                    "mistral",
	}
	for in, want := range cases {
		if got := localModel(in); got != want {
			t.Fatalf("localModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMockClientResponses(t *testing.T) {
	client := NewMockClient()

	resp, err := client.Think(context.Background(), Request{
		Prompt: "Review this bot's recent activity and extract key information to remember.",
	})
	require.NoError(t, err)
	require.Contains(t, resp.Content, "facts_learned")

	resp, err = client.Think(context.Background(), Request{
		Prompt: "Summarize these bot memories into a concise paragraph.",
	})
	require.NoError(t, err)
	require.NotContains(t, resp.Content, "{")

	first, err := client.Think(context.Background(), Request{Prompt: "decide what to do"})
	require.NoError(t, err)
	second, err := client.Think(context.Background(), Request{Prompt: "decide what to do"})
	require.NoError(t, err)
	require.NotEqual(t, first.Content, second.Content)
	require.Positive(t, first.InputTokens)
}
