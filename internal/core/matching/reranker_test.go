package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jinford/resume-matcher/internal/core/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubParser struct {
	calls atomic.Int64
	err   error
}

func (p *stubParser) ParseVacancy(_ context.Context, _ string) (VacancyRequirements, error) {
	p.calls.Add(1)
	if p.err != nil {
		return VacancyRequirements{}, p.err
	}
	return VacancyRequirements{JobTitle: "Backend Engineer", MustHaveSkills: []string{"Go"}}, nil
}

type stubScorer struct {
	mu       sync.Mutex
	scores   map[int64]int
	errs     map[int64]error
	calls    map[int64]int
	langs    []string
	inFlight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration
}

func newStubScorer(scores map[int64]int) *stubScorer {
	return &stubScorer{scores: scores, errs: map[int64]error{}, calls: map[int64]int{}}
}

func (s *stubScorer) ScoreCandidate(_ context.Context, _ VacancyRequirements, c CandidateInput, lang string) (Assessment, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.calls[c.ProfileID]++
	s.langs = append(s.langs, lang)
	err := s.errs[c.ProfileID]
	score := s.scores[c.ProfileID]
	s.mu.Unlock()

	if err != nil {
		return Assessment{}, err
	}
	return Assessment{Score: score, MatchingSkills: []string{"Go"}, Explanation: "ok"}, nil
}

func fastRerankConfig() RerankerConfig {
	return RerankerConfig{Concurrency: 2, MaxRetries: 1, RetryBackoff: time.Millisecond}
}

func scoredIDs(cs []ScoredCandidate) []int64 {
	ids := make([]int64, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ProfileID)
	}
	return ids
}

func TestRerank_FailedCandidateIsKeptWithZeroScore(t *testing.T) {
	candidates := []Candidate{
		{ProfileID: 1, EmbeddingScore: 80, Rank: 1},
		{ProfileID: 2, EmbeddingScore: 75, Rank: 2},
		{ProfileID: 3, EmbeddingScore: 70, Rank: 3},
	}
	scorer := newStubScorer(map[int64]int{1: 60, 3: 90})
	scorer.errs[2] = llm.NewError(llm.KindRateLimited, "score", errors.New("429"))

	r := NewReranker(&stubParser{}, scorer, WithRerankerConfig(fastRerankConfig()), WithRerankLogger(testLogger()))
	result, err := r.Rerank(context.Background(), "Go backend", candidates, RerankOptions{})
	require.NoError(t, err)

	require.Len(t, result.Scored, 3)
	assert.Equal(t, []int64{3, 1, 2}, scoredIDs(result.Scored))

	top := result.Scored[0]
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, 90, top.LLMScore)
	assert.Equal(t, 84.0, top.CombinedScore)
	assert.Equal(t, MatchExcellent, top.MatchLevel)

	failed := result.Scored[2]
	assert.Equal(t, 3, failed.Rank)
	assert.Equal(t, 0, failed.LLMScore)
	assert.True(t, failed.Degraded)
	assert.Contains(t, failed.FailureReason, "rate_limited")
	assert.Equal(t, 22.5, failed.CombinedScore)
	assert.Equal(t, MatchWeak, failed.MatchLevel)

	assert.Equal(t, 2, scorer.calls[2], "retryable error is retried once")
}

func TestRerank_ClientExhaustedRetriesAreNotRepeated(t *testing.T) {
	candidates := []Candidate{{ProfileID: 1, EmbeddingScore: 80, Rank: 1}}
	scorer := newStubScorer(map[int64]int{})
	scorer.errs[1] = llm.NewError(llm.KindRateLimited, "score",
		fmt.Errorf("max retries exceeded: %w: %w", llm.ErrRetriesExhausted, errors.New("429")))

	cfg := fastRerankConfig()
	cfg.MaxRetries = 3
	r := NewReranker(&stubParser{}, scorer, WithRerankerConfig(cfg), WithRerankLogger(testLogger()))
	result, err := r.Rerank(context.Background(), "Go backend", candidates, RerankOptions{})
	require.NoError(t, err)

	require.Len(t, result.Scored, 1)
	assert.True(t, result.Scored[0].Degraded)
	assert.Equal(t, 1, scorer.calls[1])
}

func TestRerank_FailureTextFollowsLang(t *testing.T) {
	candidates := []Candidate{{ProfileID: 1, EmbeddingScore: 80, Rank: 1}}
	scorer := newStubScorer(map[int64]int{})
	scorer.errs[1] = llm.NewError(llm.KindMalformedOutput, "score", errors.New("not json"))
	r := NewReranker(&stubParser{}, scorer, WithRerankerConfig(fastRerankConfig()), WithRerankLogger(testLogger()))

	ru, err := r.Rerank(context.Background(), "Go backend", candidates, RerankOptions{Lang: LangRussian})
	require.NoError(t, err)
	require.Len(t, ru.Scored, 1)
	assert.True(t, ru.Scored[0].Degraded)
	assert.Contains(t, ru.Scored[0].Explanation, "Оценка LLM недоступна")
	assert.Equal(t, []string{"Не удалось получить оценку LLM"}, ru.Scored[0].Concerns)

	en, err := r.Rerank(context.Background(), "Go backend", candidates, RerankOptions{})
	require.NoError(t, err)
	assert.Equal(t, "LLM scoring failed; ranked by embedding similarity only", en.Scored[0].Explanation)
}

func TestRerank_MalformedOutputIsNotRetried(t *testing.T) {
	scorer := newStubScorer(map[int64]int{})
	scorer.errs[1] = llm.NewError(llm.KindMalformedOutput, "score", errors.New("not json"))

	r := NewReranker(&stubParser{}, scorer, WithRerankerConfig(fastRerankConfig()), WithRerankLogger(testLogger()))
	result, err := r.Rerank(context.Background(), "x", []Candidate{{ProfileID: 1, EmbeddingScore: 50}}, RerankOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, scorer.calls[1])
	assert.True(t, result.Scored[0].Degraded)
}

func TestRerank_VacancyParseFailureUsesFallback(t *testing.T) {
	parser := &stubParser{err: llm.NewError(llm.KindUnavailable, "parse", errors.New("down"))}
	scorer := newStubScorer(map[int64]int{1: 70})

	r := NewReranker(parser, scorer, WithRerankerConfig(fastRerankConfig()), WithRerankLogger(testLogger()))
	result, err := r.Rerank(context.Background(), "  Need a Go engineer  ", []Candidate{{ProfileID: 1, EmbeddingScore: 60}}, RerankOptions{})
	require.NoError(t, err)

	assert.True(t, result.VacancyDegraded)
	assert.Equal(t, "Unknown", result.Vacancy.JobTitle)
	assert.Equal(t, "Need a Go engineer", result.Vacancy.Summary)
	assert.Equal(t, 70, result.Scored[0].LLMScore)
	assert.Equal(t, int64(1), parser.calls.Load())
}

func TestRerank_TiesBrokenByAscendingID(t *testing.T) {
	candidates := []Candidate{
		{ProfileID: 9, EmbeddingScore: 50},
		{ProfileID: 4, EmbeddingScore: 50},
	}
	scorer := newStubScorer(map[int64]int{9: 70, 4: 70})

	r := NewReranker(&stubParser{}, scorer, WithRerankerConfig(fastRerankConfig()), WithRerankLogger(testLogger()))
	result, err := r.Rerank(context.Background(), "x", candidates, RerankOptions{})
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 9}, scoredIDs(result.Scored))
	assert.Equal(t, 1, result.Scored[0].Rank)
	assert.Equal(t, 2, result.Scored[1].Rank)
}

func TestRerank_BoundedConcurrency(t *testing.T) {
	candidates := make([]Candidate, 0, 10)
	scores := map[int64]int{}
	for i := int64(1); i <= 10; i++ {
		candidates = append(candidates, Candidate{ProfileID: i, EmbeddingScore: 50})
		scores[i] = int(i * 5)
	}
	scorer := newStubScorer(scores)
	scorer.delay = 5 * time.Millisecond

	r := NewReranker(&stubParser{}, scorer, WithRerankerConfig(fastRerankConfig()), WithRerankLogger(testLogger()))
	result, err := r.Rerank(context.Background(), "x", candidates, RerankOptions{Lang: "ru"})
	require.NoError(t, err)

	assert.Len(t, result.Scored, 10)
	assert.LessOrEqual(t, scorer.peak.Load(), int64(2))
	assert.Equal(t, int64(10), result.Scored[0].ProfileID)
	for _, lang := range scorer.langs {
		assert.Equal(t, LangRussian, lang)
	}
}

func TestRerank_ClampsOutOfRangeScores(t *testing.T) {
	scorer := newStubScorer(map[int64]int{1: 150, 2: -20})

	r := NewReranker(&stubParser{}, scorer, WithRerankerConfig(fastRerankConfig()), WithRerankLogger(testLogger()))
	result, err := r.Rerank(context.Background(), "x", []Candidate{
		{ProfileID: 1, EmbeddingScore: 100},
		{ProfileID: 2, EmbeddingScore: 0},
	}, RerankOptions{})
	require.NoError(t, err)

	assert.Equal(t, 100, result.Scored[0].LLMScore)
	assert.Equal(t, 0, result.Scored[1].LLMScore)
	for _, c := range result.Scored {
		assert.GreaterOrEqual(t, c.CombinedScore, 0.0)
		assert.LessOrEqual(t, c.CombinedScore, 100.0)
	}
}

func TestRerank_RejectsUnknownLanguage(t *testing.T) {
	r := NewReranker(&stubParser{}, newStubScorer(nil), WithRerankLogger(testLogger()))
	_, err := r.Rerank(context.Background(), "x", nil, RerankOptions{Lang: "de"})
	assert.Error(t, err)
}
