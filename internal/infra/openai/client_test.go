package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jinford/resume-matcher/internal/core/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 0,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			},
		},
		"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7},
	})
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": "test error", "type": "test"},
	})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]ClientOption{
		WithBaseURL(srv.URL),
		WithBaseBackoff(time.Millisecond),
	}, opts...)
	client, err := NewClient("dummy-key", opts...)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestGenerateCompletion_SendsSystemPrompt(t *testing.T) {
	var received struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		ResponseFormat struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		writeCompletion(w, `{"ok":true}`)
	}, WithModel("custom-model"))

	resp, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{
		System:         "you are a recruiter",
		Prompt:         "score this",
		ResponseFormat: llm.ResponseFormatJSON,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 7, resp.TokensUsed)
	assert.Equal(t, "custom-model", received.Model)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, "system", received.Messages[0].Role)
	assert.Equal(t, "user", received.Messages[1].Role)
	assert.Equal(t, "json_object", received.ResponseFormat.Type)
}

func TestGenerateCompletion_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeError(w, http.StatusTooManyRequests)
			return
		}
		writeCompletion(w, "hello")
	})

	resp, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateCompletion_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeError(w, http.StatusTooManyRequests)
	}, WithMaxRetries(1))

	_, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assert.ErrorIs(t, err, llm.ErrRetriesExhausted)
	assert.False(t, llm.IsRetryable(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateCompletion_ServerErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusBadRequest)
	})

	_, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestGenerateCompletion_MalformedJSON(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeCompletion(w, "not json")
	})

	_, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{
		Prompt:         "hi",
		ResponseFormat: llm.ResponseFormatJSON,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrMalformedOutput)
	assert.Equal(t, int32(1+JSONParseMaxRetries), calls.Load())
}
