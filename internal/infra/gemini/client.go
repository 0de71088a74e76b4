package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jinford/resume-matcher/internal/core/llm"
	"google.golang.org/genai"
)

const (
	// DefaultModel はデフォルトで使用するGeminiモデル
	DefaultModel = "gemini-2.5-flash"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries は一時的なエラー時の最大リトライ回数
	DefaultMaxRetries = 3

	baseBackoff = 2 * time.Second
	maxBackoff  = 32 * time.Second
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("gemini api key not set: please set GEMINI_API_KEY environment variable")

var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client は Google GenAI を使用した LLM クライアント実装
type Client struct {
	models     contentGenerator
	model      string
	timeout    time.Duration
	maxRetries int
}

// ClientOption は Client のオプション設定
type ClientOption func(*Client)

// WithModel はモデル名を上書きする
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.model = model
		}
	}
}

// WithTimeout はAPIコールのタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithMaxRetries は一時的なエラー時のリトライ回数を設定する
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient は Gemini API バックエンドの Client を作成する
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newClient(client.Models, opts...), nil
}

func newClient(models contentGenerator, opts ...ClientOption) *Client {
	c := &Client{
		models:     models,
		model:      DefaultModel,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// GenerateCompletion は Gemini API を使用してテキストを生成する
func (c *Client) GenerateCompletion(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return llm.CompletionResponse{}, llm.NewError(llm.KindUnavailable, "gemini.completion", errors.New("prompt must not be empty"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	config := buildConfig(req)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if err := sleep(ctx, backoff); err != nil {
				return llm.CompletionResponse{}, llm.NewError(llm.KindUnavailable, "gemini.completion", err)
			}
		}

		resp, err := c.models.GenerateContent(ctx, model, genai.Text(prompt), config)
		if err != nil {
			lastErr = err
			if isTemporary(err) {
				continue
			}
			return llm.CompletionResponse{}, llm.NewError(classify(err), "gemini.completion", err)
		}

		text := responseText(resp)
		if text == "" {
			return llm.CompletionResponse{}, llm.NewError(llm.KindMalformedOutput, "gemini.completion", errors.New("empty response"))
		}
		if req.ResponseFormat == llm.ResponseFormatJSON && !json.Valid([]byte(text)) {
			return llm.CompletionResponse{}, llm.NewError(llm.KindMalformedOutput, "gemini.completion", errors.New("response is not valid JSON"))
		}

		out := llm.CompletionResponse{Content: text, Model: model}
		if resp.UsageMetadata != nil {
			out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
		}
		return out, nil
	}

	return llm.CompletionResponse{}, llm.NewError(classify(lastErr), "gemini.completion",
		fmt.Errorf("max retries exceeded: %w: %w", llm.ErrRetriesExhausted, lastErr))
}

func buildConfig(req llm.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ResponseFormat == llm.ResponseFormatJSON {
		config.ResponseMIMEType = "application/json"
	}
	return config
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			builder.WriteString(part.Text)
		}
		// 最初の候補のみ使用
		break
	}
	return strings.TrimSpace(builder.String())
}

func apiErrorCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

func isTemporary(err error) bool {
	code := apiErrorCode(err)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func classify(err error) llm.Kind {
	if apiErrorCode(err) == http.StatusTooManyRequests {
		return llm.KindRateLimited
	}
	return llm.KindUnavailable
}

// インターフェース実装の確認
var _ llm.Client = (*Client)(nil)
