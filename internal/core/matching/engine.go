package matching

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jinford/resume-matcher/internal/core/embedding"
	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/samber/mo"
)

const (
	// DefaultTopN はデフォルトの返却件数
	DefaultTopN = 10
	// DefaultEmbeddingCandidates はリランク用に取得する候補数のデフォルト
	DefaultEmbeddingCandidates = 30
	// DefaultEmbedTimeout は求人テキストのEmbedding生成タイムアウト
	DefaultEmbedTimeout = 30 * time.Second
	// excerptLength はLLMに渡す本文抜粋の最大文字数
	excerptLength = 3000
)

// RetrieveParams はベクトル検索のパラメータ
type RetrieveParams struct {
	VacancyText         string
	TopN                int
	EmbeddingCandidates int
	MinScore            mo.Option[float64]
	MaxScore            mo.Option[float64]
}

// MatchEngine は求人テキストに近い候補者をベクトル検索で取得する
type MatchEngine struct {
	store        Store
	embedder     Embedder
	cleaner      TextCleaner
	embedTimeout time.Duration
	logger       *slog.Logger
}

// EngineOption は MatchEngine の設定オプション
type EngineOption func(*MatchEngine)

// WithVacancyCleaner は求人テキストのクリーナーを設定する
func WithVacancyCleaner(cleaner TextCleaner) EngineOption {
	return func(e *MatchEngine) {
		if cleaner != nil {
			e.cleaner = cleaner
		}
	}
}

// WithEngineEmbedTimeout はEmbedding生成のタイムアウトを設定する
func WithEngineEmbedTimeout(timeout time.Duration) EngineOption {
	return func(e *MatchEngine) {
		if timeout > 0 {
			e.embedTimeout = timeout
		}
	}
}

// WithEngineLogger はロガーを設定する
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *MatchEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

type trimCleaner struct{}

func (trimCleaner) Clean(text string) string { return strings.TrimSpace(text) }

// NewMatchEngine は新しい MatchEngine を作成する
func NewMatchEngine(store Store, embedder Embedder, opts ...EngineOption) *MatchEngine {
	e := &MatchEngine{
		store:        store,
		embedder:     embedder,
		cleaner:      trimCleaner{},
		embedTimeout: DefaultEmbedTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve は求人テキストに近い候補者を順位付きで返す
// 順位はスコア降順・ID昇順で 1 から振られ、スコアフィルタ適用後も振り直さない
func (e *MatchEngine) Retrieve(ctx context.Context, params RetrieveParams) ([]Candidate, error) {
	if err := validateRange(params.MinScore, params.MaxScore); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(e.cleaner.Clean(params.VacancyText))
	if text == "" {
		return nil, ErrEmptyVacancy
	}

	topN := params.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	k := max(topN, params.EmbeddingCandidates)

	vector, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	neighbors, err := e.store.SearchNearest(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("nearest search failed: %w", err)
	}
	neighbors = profile.ProjectNearest(neighbors, k)

	candidates := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		candidates = append(candidates, toCandidate(n))
	}
	assignRanks(candidates)

	filtered := filterByScore(candidates, params.MinScore, params.MaxScore, func(c Candidate) float64 {
		return c.EmbeddingScore
	})

	e.logger.Debug("ベクトル検索が完了",
		"k", k,
		"found", len(candidates),
		"afterFilter", len(filtered),
	)
	return filtered, nil
}

func (e *MatchEngine) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", embedding.ErrUnavailable, err)
	}
	return vector, nil
}

func toCandidate(n profile.Neighbor) Candidate {
	rec := n.Record
	c := Candidate{
		ProfileID:      rec.ID,
		EmbeddingScore: ScoreFromDistance(n.Distance),
		Distance:       n.Distance,
		SourcePath:     rec.SourcePath,
		FileName:       rec.FileName,
		ContentHash:    rec.ContentHash,
		Profile:        rec.Profile,
	}
	if text, ok := rec.CleanedText.Get(); ok {
		c.Excerpt = truncateRunes(text, excerptLength)
	}
	return c
}

// assignRanks はスコア降順・ID昇順に並べ替えて 1 からの連番を振る
func assignRanks(candidates []Candidate) {
	slices.SortFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(b.EmbeddingScore, a.EmbeddingScore); c != 0 {
			return c
		}
		return cmp.Compare(a.ProfileID, b.ProfileID)
	})
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
}

func filterByScore[T any](items []T, minScore, maxScore mo.Option[float64], score func(T) float64) []T {
	if minScore.IsAbsent() && maxScore.IsAbsent() {
		return items
	}
	filtered := make([]T, 0, len(items))
	for _, item := range items {
		s := score(item)
		if lo, ok := minScore.Get(); ok && s < lo {
			continue
		}
		if hi, ok := maxScore.Get(); ok && s > hi {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}

func validateRange(minScore, maxScore mo.Option[float64]) error {
	lo, hasMin := minScore.Get()
	hi, hasMax := maxScore.Get()
	if hasMin && hasMax && lo > hi {
		return fmt.Errorf("%w: min=%v max=%v", ErrInvalidScoreRange, lo, hi)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
