package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	corellm "github.com/jinford/resume-matcher/internal/core/llm"
	"github.com/jinford/resume-matcher/internal/core/matching"
	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []corellm.CompletionRequest
}

func (s *stubClient) GenerateCompletion(ctx context.Context, req corellm.CompletionRequest) (corellm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return corellm.CompletionResponse{}, s.err
	}
	return corellm.CompletionResponse{Content: s.content}, nil
}

func (s *stubClient) lastRequest() corellm.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAnalyzer(client corellm.Client, opts ...AnalyzerOption) *Analyzer {
	opts = append([]AnalyzerOption{WithAnalyzerLogger(testLogger())}, opts...)
	return NewAnalyzer(client, opts...)
}

func TestAnalyzer_ExtractProfile(t *testing.T) {
	client := &stubClient{content: "```json\n{\"full_name\": \"Anna Smirnova\", \"current_position\": \"SRE\", \"skills\": [\"Kubernetes\", \"Terraform\"]}\n```"}
	analyzer := newTestAnalyzer(client)

	p, err := analyzer.ExtractProfile(context.Background(), "Anna Smirnova\nSRE at Example")
	require.NoError(t, err)

	assert.Equal(t, "Anna Smirnova", p.Name)
	assert.Equal(t, "SRE", p.Position)
	assert.Equal(t, []string{"Kubernetes", "Terraform"}, p.Skills)

	req := client.lastRequest()
	assert.Equal(t, corellm.ResponseFormatJSON, req.ResponseFormat)
	assert.Equal(t, profileSystemPrompt, req.System)
	assert.Contains(t, req.Prompt, "Anna Smirnova")
}

func TestAnalyzer_ExtractProfileMalformed(t *testing.T) {
	client := &stubClient{content: "sorry, no JSON today"}
	analyzer := newTestAnalyzer(client)

	_, err := analyzer.ExtractProfile(context.Background(), "resume")
	assert.ErrorIs(t, err, corellm.ErrMalformedOutput)
}

func TestAnalyzer_WrapsForeignErrorsAsUnavailable(t *testing.T) {
	client := &stubClient{err: errors.New("connection reset")}
	analyzer := newTestAnalyzer(client)

	_, err := analyzer.ParseVacancy(context.Background(), "Go developer")
	assert.ErrorIs(t, err, corellm.ErrUnavailable)
	assert.True(t, corellm.IsRetryable(err))
}

func TestAnalyzer_KeepsClientErrorKind(t *testing.T) {
	client := &stubClient{err: corellm.NewError(corellm.KindRateLimited, "test", errors.New("429"))}
	analyzer := newTestAnalyzer(client)

	_, err := analyzer.ParseVacancy(context.Background(), "Go developer")
	assert.ErrorIs(t, err, corellm.ErrRateLimited)
}

func TestAnalyzer_ScoreCandidate(t *testing.T) {
	client := &stubClient{content: `{"score": "78", "matching_skills": ["Go"], "explanation": "Strong backend fit"}`}
	analyzer := newTestAnalyzer(client)

	years := 5
	req := matching.VacancyRequirements{
		JobTitle:       "Backend Engineer",
		MustHaveSkills: []string{"Go", "PostgreSQL"},
	}
	candidate := matching.CandidateInput{
		ProfileID: 3,
		Name:      "Ivan",
		Profile: mo.Some(profile.StructuredProfile{
			Name:            "Ivan",
			Position:        "Software Engineer",
			Skills:          []string{"Go"},
			YearsExperience: &years,
		}),
	}

	got, err := analyzer.ScoreCandidate(context.Background(), req, candidate, matching.LangRussian)
	require.NoError(t, err)

	assert.Equal(t, 78, got.Score)
	assert.Equal(t, []string{"Go"}, got.MatchingSkills)
	assert.Empty(t, got.MissingSkills)
	assert.Equal(t, "Strong backend fit", got.Explanation)

	prompt := client.lastRequest().Prompt
	assert.Contains(t, prompt, "Backend Engineer")
	assert.Contains(t, prompt, "Go, PostgreSQL")
	assert.Contains(t, prompt, "5 years")
	assert.Contains(t, prompt, "in Russian")
}

func TestAnalyzer_ScoreCandidateUsesExcerptWithoutProfile(t *testing.T) {
	client := &stubClient{content: `{"score": 40}`}
	analyzer := newTestAnalyzer(client)

	_, err := analyzer.ScoreCandidate(context.Background(), matching.VacancyRequirements{JobTitle: "QA"},
		matching.CandidateInput{ProfileID: 1, Name: "cv.pdf", Excerpt: "manual testing, selenium"}, matching.LangEnglish)
	require.NoError(t, err)

	prompt := client.lastRequest().Prompt
	assert.Contains(t, prompt, "Resume excerpt")
	assert.Contains(t, prompt, "selenium")
	assert.Contains(t, prompt, "in English")
}

func TestAnalyzer_ScoreCandidateRejectsNonNumericScore(t *testing.T) {
	dir := t.TempDir()
	failures, err := NewFailureLog(dir, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = failures.Close() })

	client := &stubClient{content: `{"score": "excellent"}`}
	analyzer := newTestAnalyzer(client, WithFailureLog(failures))

	_, err = analyzer.ScoreCandidate(context.Background(), matching.VacancyRequirements{}, matching.CandidateInput{Name: "x"}, "en")
	require.ErrorIs(t, err, corellm.ErrMalformedOutput)
	assert.False(t, corellm.IsRetryable(err))

	records := readFailureRecords(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, OperationScoreCandidate, records[0].Operation)
	assert.Equal(t, corellm.KindMalformedOutput, records[0].Kind)
	assert.Equal(t, `{"score": "excellent"}`, records[0].Response)
}

func TestAnalyzer_TruncatesLongInput(t *testing.T) {
	client := &stubClient{content: `{"job_title": "Dev"}`}
	analyzer := newTestAnalyzer(client, WithMaxInputTokens(10))

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	_, err := analyzer.ParseVacancy(context.Background(), string(long))
	require.NoError(t, err)

	// トークナイザなしの推定では10トークン=30文字まで
	assert.NotContains(t, client.lastRequest().Prompt, string(long[:31]))
	assert.Contains(t, client.lastRequest().Prompt, string(long[:30]))
}

func readFailureRecords(t *testing.T, dir string) []FailureRecord {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "llm_failures_*.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	var records []FailureRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec FailureRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}
