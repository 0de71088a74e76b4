package matching

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/mo"
)

// MatchRequest はマッチング要求
type MatchRequest struct {
	VacancyText         string
	TopN                int
	EmbeddingCandidates int
	MinScore            mo.Option[float64]
	MaxScore            mo.Option[float64]
	// Rerank が true の場合はLLMでリランクする
	Rerank bool
	Lang   string
}

// Service はベクトル検索と任意のLLMリランクを組み合わせたマッチングを提供する
type Service struct {
	engine   *MatchEngine
	reranker *Reranker
	stats    StatsReader
	logger   *slog.Logger
}

// ServiceOption は Service の設定オプション
type ServiceOption func(*Service)

// WithReranker はリランカーを設定する
func WithReranker(reranker *Reranker) ServiceOption {
	return func(s *Service) {
		s.reranker = reranker
	}
}

// WithStatsReader は総件数の取得元を設定する
func WithStatsReader(stats StatsReader) ServiceOption {
	return func(s *Service) {
		s.stats = stats
	}
}

// WithMatchLogger はロガーを設定する
func WithMatchLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService は新しい Service を作成する
func NewService(engine *MatchEngine, opts ...ServiceOption) *Service {
	s := &Service{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Match は求人に合う候補者を返す
// 高速モードでは埋め込みスコアで、リランクモードでは合成スコアでフィルタし、TopN 件に切り詰める
func (s *Service) Match(ctx context.Context, req MatchRequest) (*MatchResponse, error) {
	if err := validateRange(req.MinScore, req.MaxScore); err != nil {
		return nil, err
	}
	topN := req.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	var (
		resp *MatchResponse
		err  error
	)
	if req.Rerank {
		resp, err = s.matchRich(ctx, req, topN)
	} else {
		resp, err = s.matchFast(ctx, req, topN)
	}
	if err != nil {
		return nil, err
	}

	resp.TotalProfiles = s.totalProfiles(ctx)

	s.logger.Info("マッチングが完了",
		"mode", resp.Mode,
		"results", resp.Len(),
		"totalProfiles", resp.TotalProfiles,
	)
	return resp, nil
}

func (s *Service) matchFast(ctx context.Context, req MatchRequest, topN int) (*MatchResponse, error) {
	candidates, err := s.engine.Retrieve(ctx, RetrieveParams{
		VacancyText:         req.VacancyText,
		TopN:                topN,
		EmbeddingCandidates: req.EmbeddingCandidates,
		MinScore:            req.MinScore,
		MaxScore:            req.MaxScore,
	})
	if err != nil {
		return nil, err
	}

	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return &MatchResponse{Mode: ModeFast, Candidates: candidates}, nil
}

func (s *Service) matchRich(ctx context.Context, req MatchRequest, topN int) (*MatchResponse, error) {
	if s.reranker == nil {
		return nil, ErrRerankUnavailable
	}
	if _, err := ValidateLang(req.Lang); err != nil {
		return nil, err
	}

	pool := req.EmbeddingCandidates
	if pool <= 0 {
		pool = DefaultEmbeddingCandidates
	}

	candidates, err := s.engine.Retrieve(ctx, RetrieveParams{
		VacancyText:         req.VacancyText,
		TopN:                topN,
		EmbeddingCandidates: pool,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.reranker.Rerank(ctx, req.VacancyText, candidates, RerankOptions{Lang: req.Lang})
	if err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}

	scored := filterByScore(result.Scored, req.MinScore, req.MaxScore, func(c ScoredCandidate) float64 {
		return c.CombinedScore
	})
	if len(scored) > topN {
		scored = scored[:topN]
	}

	return &MatchResponse{
		Mode:            ModeRich,
		Scored:          scored,
		Vacancy:         mo.Some(result.Vacancy),
		VacancyDegraded: result.VacancyDegraded,
	}, nil
}

func (s *Service) totalProfiles(ctx context.Context) int {
	if s.stats == nil {
		return 0
	}
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		s.logger.Warn("総件数の取得に失敗", "error", err)
		return 0
	}
	return stats.WithEmbedding
}
