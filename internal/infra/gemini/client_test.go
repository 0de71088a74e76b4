package gemini

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jinford/resume-matcher/internal/core/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeModels struct {
	mu      sync.Mutex
	queue   []fakeResponse
	configs []*genai.GenerateContentConfig
	models  []string
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, model)
	f.configs = append(f.configs, config)
	if len(f.queue) == 0 {
		return nil, genai.APIError{Code: http.StatusInternalServerError, Message: "unexpected call"}
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next.resp, next.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 11},
	}
}

func noSleep(t *testing.T) {
	t.Helper()
	original := sleep
	sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { sleep = original })
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestGenerateCompletion_JSONConfig(t *testing.T) {
	models := &fakeModels{queue: []fakeResponse{{resp: textResponse(`{"score": 80}`)}}}
	client := newClient(models, WithModel("gemini-test"))

	resp, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{
		System:         "recruiter",
		Prompt:         "score",
		Temperature:    0.2,
		MaxTokens:      300,
		ResponseFormat: llm.ResponseFormatJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 80}`, resp.Content)
	assert.Equal(t, 11, resp.TokensUsed)

	require.Len(t, models.configs, 1)
	cfg := models.configs[0]
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.Equal(t, int32(300), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "gemini-test", models.models[0])
}

func TestGenerateCompletion_RetriesTemporaryError(t *testing.T) {
	noSleep(t)
	models := &fakeModels{queue: []fakeResponse{
		{err: genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}},
		{resp: textResponse("ok")},
	}}
	client := newClient(models)

	resp, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Len(t, models.models, 2)
}

func TestGenerateCompletion_RateLimitedAfterRetries(t *testing.T) {
	noSleep(t)
	rateLimited := fakeResponse{err: genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}}
	models := &fakeModels{queue: []fakeResponse{rateLimited, rateLimited}}
	client := newClient(models, WithMaxRetries(1))

	_, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assert.ErrorIs(t, err, llm.ErrRetriesExhausted)
	assert.False(t, llm.IsRetryable(err))
	assert.Len(t, models.models, 2)
}

func TestGenerateCompletion_PermanentErrorNotRetried(t *testing.T) {
	models := &fakeModels{queue: []fakeResponse{
		{err: genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"}},
	}}
	client := newClient(models)

	_, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
	assert.Len(t, models.models, 1)
}

func TestGenerateCompletion_MalformedJSON(t *testing.T) {
	models := &fakeModels{queue: []fakeResponse{{resp: textResponse("sure, here you go")}}}
	client := newClient(models)

	_, err := client.GenerateCompletion(context.Background(), llm.CompletionRequest{
		Prompt:         "hi",
		ResponseFormat: llm.ResponseFormatJSON,
	})
	assert.ErrorIs(t, err, llm.ErrMalformedOutput)
}
