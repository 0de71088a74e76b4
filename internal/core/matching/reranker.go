package matching

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jinford/resume-matcher/internal/core/llm"
)

const (
	// DefaultRerankConcurrency は同時に評価する候補者数
	DefaultRerankConcurrency = 4
	// DefaultScoreTimeout は候補者1人あたりの評価タイムアウト
	DefaultScoreTimeout = 60 * time.Second
	// DefaultParseTimeout は求人解析のタイムアウト
	DefaultParseTimeout = 60 * time.Second
	// DefaultScoreRetries は評価失敗時の再試行回数
	DefaultScoreRetries = 2
	// DefaultRetryBackoff は再試行の基底待機時間
	DefaultRetryBackoff = time.Second

	fallbackSummaryLength = 500
)

// 出力言語
const (
	LangEnglish = "en"
	LangRussian = "ru"
)

// ValidateLang は出力言語を検証し、空の場合は英語を返す
func ValidateLang(lang string) (string, error) {
	switch strings.ToLower(lang) {
	case "", LangEnglish:
		return LangEnglish, nil
	case LangRussian:
		return LangRussian, nil
	default:
		return "", fmt.Errorf("unsupported language: %s", lang)
	}
}

// RerankOptions はリランクのオプション
type RerankOptions struct {
	Lang string
}

// RerankResult はリランク結果
type RerankResult struct {
	Vacancy VacancyRequirements
	Scored  []ScoredCandidate
	// VacancyDegraded は求人解析に失敗し、フォールバックの要件を使ったことを示す
	VacancyDegraded bool
}

// RerankerConfig はリランカーの設定
type RerankerConfig struct {
	Concurrency  int
	ScoreTimeout time.Duration
	ParseTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultRerankerConfig はデフォルト設定を返す
func DefaultRerankerConfig() RerankerConfig {
	return RerankerConfig{
		Concurrency:  DefaultRerankConcurrency,
		ScoreTimeout: DefaultScoreTimeout,
		ParseTimeout: DefaultParseTimeout,
		MaxRetries:   DefaultScoreRetries,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// Reranker はLLMで候補者を評価し、合成スコアで並べ替える
type Reranker struct {
	parser VacancyParser
	scorer CandidateScorer
	policy ScoringPolicy
	config RerankerConfig
	logger *slog.Logger
}

// RerankerOption は Reranker の設定オプション
type RerankerOption func(*Reranker)

// WithScoringPolicy はスコアリング方針を設定する
func WithScoringPolicy(policy ScoringPolicy) RerankerOption {
	return func(r *Reranker) {
		r.policy = policy
	}
}

// WithRerankerConfig は設定を上書きする
func WithRerankerConfig(cfg RerankerConfig) RerankerOption {
	return func(r *Reranker) {
		if cfg.Concurrency > 0 {
			r.config.Concurrency = cfg.Concurrency
		}
		if cfg.ScoreTimeout > 0 {
			r.config.ScoreTimeout = cfg.ScoreTimeout
		}
		if cfg.ParseTimeout > 0 {
			r.config.ParseTimeout = cfg.ParseTimeout
		}
		if cfg.MaxRetries >= 0 {
			r.config.MaxRetries = cfg.MaxRetries
		}
		if cfg.RetryBackoff > 0 {
			r.config.RetryBackoff = cfg.RetryBackoff
		}
	}
}

// WithRerankLogger はロガーを設定する
func WithRerankLogger(logger *slog.Logger) RerankerOption {
	return func(r *Reranker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReranker は新しい Reranker を作成する
func NewReranker(parser VacancyParser, scorer CandidateScorer, opts ...RerankerOption) *Reranker {
	r := &Reranker{
		parser: parser,
		scorer: scorer,
		policy: DefaultScoringPolicy(),
		config: DefaultRerankerConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank は候補者全員をLLMで評価し、合成スコア降順・ID昇順で順位を振り直す
// 評価に失敗した候補者も LLM スコア 0 として結果に残す
func (r *Reranker) Rerank(ctx context.Context, vacancyText string, candidates []Candidate, opts RerankOptions) (*RerankResult, error) {
	lang, err := ValidateLang(opts.Lang)
	if err != nil {
		return nil, err
	}

	requirements, degraded := r.parseVacancy(ctx, vacancyText)

	scored := make([]ScoredCandidate, len(candidates))
	sem := make(chan struct{}, r.config.Concurrency)
	var wg sync.WaitGroup

	for i, c := range candidates {
		wg.Add(1)
		go func(idx int, candidate Candidate) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				scored[idx] = r.degrade(candidate, lang, ctx.Err())
				return
			}

			scored[idx] = r.scoreOne(ctx, requirements, candidate, lang)
		}(i, c)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rerank canceled: %w", err)
	}

	slices.SortFunc(scored, func(a, b ScoredCandidate) int {
		if c := cmp.Compare(b.CombinedScore, a.CombinedScore); c != 0 {
			return c
		}
		return cmp.Compare(a.ProfileID, b.ProfileID)
	})
	failedCount := 0
	for i := range scored {
		scored[i].Rank = i + 1
		if scored[i].Degraded {
			failedCount++
		}
	}

	r.logger.Info("LLMリランクが完了",
		"candidates", len(scored),
		"failed", failedCount,
		"vacancyDegraded", degraded,
	)

	return &RerankResult{
		Vacancy:         requirements,
		Scored:          scored,
		VacancyDegraded: degraded,
	}, nil
}

func (r *Reranker) parseVacancy(ctx context.Context, text string) (VacancyRequirements, bool) {
	parseCtx, cancel := context.WithTimeout(ctx, r.config.ParseTimeout)
	defer cancel()

	requirements, err := r.parser.ParseVacancy(parseCtx, text)
	if err != nil {
		r.logger.Warn("求人の解析に失敗、フォールバック要件を使用", "error", err)
		return fallbackRequirements(text), true
	}
	return requirements, false
}

func fallbackRequirements(text string) VacancyRequirements {
	return VacancyRequirements{
		JobTitle:         "Unknown",
		MustHaveSkills:   []string{},
		NiceToHaveSkills: []string{},
		Responsibilities: []string{},
		Summary:          truncateRunes(strings.TrimSpace(text), fallbackSummaryLength),
	}
}

func (r *Reranker) scoreOne(ctx context.Context, req VacancyRequirements, candidate Candidate, lang string) ScoredCandidate {
	input := CandidateInput{
		ProfileID: candidate.ProfileID,
		Name:      candidate.DisplayName(),
		Profile:   candidate.Profile,
		Excerpt:   candidate.Excerpt,
	}

	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * r.config.RetryBackoff
			select {
			case <-ctx.Done():
				return r.degrade(candidate, lang, ctx.Err())
			case <-time.After(backoff):
			}
		}

		assessment, err := r.scoreWithTimeout(ctx, req, input, lang)
		if err == nil {
			return r.toScored(candidate, assessment)
		}
		lastErr = err

		if !llm.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		r.logger.Debug("候補者評価を再試行", "profileID", candidate.ProfileID, "attempt", attempt+1, "error", err)
	}

	r.logger.Warn("候補者評価に失敗", "profileID", candidate.ProfileID, "kind", llm.KindOf(lastErr), "error", lastErr)
	return r.degrade(candidate, lang, lastErr)
}

func (r *Reranker) scoreWithTimeout(ctx context.Context, req VacancyRequirements, input CandidateInput, lang string) (Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.ScoreTimeout)
	defer cancel()
	return r.scorer.ScoreCandidate(ctx, req, input, lang)
}

func (r *Reranker) toScored(candidate Candidate, a Assessment) ScoredCandidate {
	llmScore := min(max(a.Score, 0), 100)
	combined := r.policy.Combine(candidate.EmbeddingScore, llmScore)
	return ScoredCandidate{
		Candidate:      candidate,
		LLMScore:       llmScore,
		CombinedScore:  combined,
		MatchLevel:     r.policy.Level(combined),
		MatchingSkills: nonNil(a.MatchingSkills),
		MissingSkills:  nonNil(a.MissingSkills),
		Strengths:      nonNil(a.Strengths),
		Concerns:       nonNil(a.Concerns),
		Explanation:    a.Explanation,
	}
}

// failureTexts は評価失敗時に表示する懸念点と説明
var failureTexts = map[string][2]string{
	LangEnglish: {"LLM scoring failed", "LLM scoring failed; ranked by embedding similarity only"},
	LangRussian: {"Не удалось получить оценку LLM", "Оценка LLM недоступна; ранжирование только по векторному сходству"},
}

func (r *Reranker) degrade(candidate Candidate, lang string, err error) ScoredCandidate {
	texts, ok := failureTexts[lang]
	if !ok {
		texts = failureTexts[LangEnglish]
	}
	combined := r.policy.Combine(candidate.EmbeddingScore, 0)
	reason := "unknown error"
	if err != nil {
		reason = string(llm.KindOf(err)) + ": " + err.Error()
	}
	return ScoredCandidate{
		Candidate:      candidate,
		LLMScore:       0,
		CombinedScore:  combined,
		MatchLevel:     r.policy.Level(combined),
		MatchingSkills: []string{},
		MissingSkills:  []string{},
		Strengths:      []string{},
		Concerns:       []string{texts[0]},
		Explanation:    texts[1],
		Degraded:       true,
		FailureReason:  reason,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
