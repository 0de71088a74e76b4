package llm

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultMaxInputTokens はプロンプトに含める本文の最大トークン数
const DefaultMaxInputTokens = 6000

// TokenCounter はトークン数のカウントと切り詰めを提供する
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は cl100k_base エンコーディングの TokenCounter を作成する
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
// エンコーディングがない場合は推定値を返す
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// Truncate はテキストを maxTokens 以内に切り詰める
func (tc *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}

	if tc == nil || tc.encoding == nil {
		// 推定値ベース: 3文字で1トークン
		runes := []rune(text)
		limit := maxTokens * 3
		if len(runes) <= limit {
			return text
		}
		return string(runes[:limit])
	}

	tokens := tc.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	// 境界で分割されたマルチバイト文字は捨てる
	return strings.ToValidUTF8(tc.encoding.Decode(tokens[:maxTokens]), "")
}

// EstimateTokens はテキストの推定トークン数を返す
// 英語は約4文字、日本語やロシア語は1〜2文字で1トークンのため平均3文字で1トークンとする
func EstimateTokens(text string) int {
	return len([]rune(text)) / 3
}
