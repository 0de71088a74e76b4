package matching

import (
	"context"
	"errors"

	"github.com/jinford/resume-matcher/internal/core/profile"
)

var (
	// ErrEmptyVacancy は求人テキストが空の場合のエラー
	ErrEmptyVacancy = errors.New("vacancy text is empty")
	// ErrInvalidScoreRange は最小スコアが最大スコアを上回る場合のエラー
	ErrInvalidScoreRange = errors.New("min score must not exceed max score")
	// ErrRerankUnavailable はリランカーが構成されていない場合のエラー
	ErrRerankUnavailable = errors.New("llm rerank is not configured")
)

// Store はマッチングに必要なストア操作
// テスト時のモック用に消費者側で定義
type Store interface {
	SearchNearest(ctx context.Context, vector []float32, k int) ([]profile.Neighbor, error)
}

// StatsReader はストアの統計を返す
type StatsReader interface {
	Stats(ctx context.Context) (profile.Stats, error)
}

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TextCleaner は求人テキストを履歴書と同じ方法でクリーニングする
type TextCleaner interface {
	Clean(text string) string
}

// VacancyParser は求人テキストから要件を抽出する
type VacancyParser interface {
	ParseVacancy(ctx context.Context, text string) (VacancyRequirements, error)
}

// CandidateScorer は要件に対して候補者を評価する
// lang は説明文の出力言語 ("en" or "ru")
type CandidateScorer interface {
	ScoreCandidate(ctx context.Context, req VacancyRequirements, candidate CandidateInput, lang string) (Assessment, error)
}
