package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	corellm "github.com/jinford/resume-matcher/internal/core/llm"
	"github.com/jinford/resume-matcher/internal/core/matching"
	"github.com/jinford/resume-matcher/internal/core/profile"
)

// Analyzer は LLM を使って履歴書と求人を解析し、候補者を評価する
// ingestion.ProfileExtractor / matching.VacancyParser / matching.CandidateScorer を実装する
type Analyzer struct {
	client         corellm.Client
	counter        *TokenCounter
	failures       *FailureLog
	logger         *slog.Logger
	maxInputTokens int
	model          string
}

// AnalyzerOption は Analyzer の設定オプション
type AnalyzerOption func(*Analyzer)

// WithTokenCounter は入力の切り詰めに使う TokenCounter を設定する
func WithTokenCounter(counter *TokenCounter) AnalyzerOption {
	return func(a *Analyzer) {
		a.counter = counter
	}
}

// WithFailureLog は失敗ログを設定する
func WithFailureLog(log *FailureLog) AnalyzerOption {
	return func(a *Analyzer) {
		a.failures = log
	}
}

// WithAnalyzerLogger はロガーを設定する
func WithAnalyzerLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithMaxInputTokens はプロンプトに含める本文の上限を設定する
func WithMaxInputTokens(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxInputTokens = n
		}
	}
}

// WithAnalyzerModel はリクエストごとのモデル名を設定する
func WithAnalyzerModel(model string) AnalyzerOption {
	return func(a *Analyzer) {
		a.model = model
	}
}

// NewAnalyzer は新しい Analyzer を作成する
func NewAnalyzer(client corellm.Client, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		client:         client,
		logger:         slog.Default(),
		maxInputTokens: DefaultMaxInputTokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ExtractProfile は履歴書テキストから構造化プロフィールを抽出する
func (a *Analyzer) ExtractProfile(ctx context.Context, text string) (profile.StructuredProfile, error) {
	if strings.TrimSpace(text) == "" {
		return profile.StructuredProfile{}, corellm.NewError(corellm.KindMalformedOutput, string(OperationExtractProfile), errors.New("empty resume text"))
	}

	var payload profilePayload
	if err := a.complete(ctx, OperationExtractProfile, profileSystemPrompt, buildProfilePrompt(a.budget(text)), extractionMaxTokens, &payload); err != nil {
		return profile.StructuredProfile{}, err
	}

	p := payload.toProfile()
	a.logger.Debug("プロフィールを抽出", "name", p.Name, "skills", len(p.Skills))
	return p, nil
}

// ParseVacancy は求人テキストから要件を抽出する
func (a *Analyzer) ParseVacancy(ctx context.Context, text string) (matching.VacancyRequirements, error) {
	var payload vacancyPayload
	if err := a.complete(ctx, OperationParseVacancy, vacancySystemPrompt, buildVacancyPrompt(a.budget(text)), vacancyMaxTokens, &payload); err != nil {
		return matching.VacancyRequirements{}, err
	}

	req := payload.toRequirements()
	a.logger.Debug("求人要件を解析", "jobTitle", req.JobTitle, "mustHave", len(req.MustHaveSkills))
	return req, nil
}

// ScoreCandidate は要件に対して候補者を評価する
func (a *Analyzer) ScoreCandidate(ctx context.Context, req matching.VacancyRequirements, candidate matching.CandidateInput, lang string) (matching.Assessment, error) {
	candidate.Excerpt = a.budget(candidate.Excerpt)
	prompt := buildScoringPrompt(req, candidate, lang)

	var payload scoringPayload
	resp, err := a.call(ctx, OperationScoreCandidate, scoringSystemPrompt, prompt, scoringMaxTokens)
	if err != nil {
		return matching.Assessment{}, err
	}
	if err := decodePayload(resp, &payload); err != nil {
		return matching.Assessment{}, a.malformed(OperationScoreCandidate, prompt, resp, err)
	}

	assessment, err := payload.toAssessment()
	if err != nil {
		return matching.Assessment{}, a.malformed(OperationScoreCandidate, prompt, resp, err)
	}
	return assessment, nil
}

// complete はLLMを呼び出し、応答を v にデコードする
func (a *Analyzer) complete(ctx context.Context, op Operation, system, prompt string, maxTokens int, v any) error {
	resp, err := a.call(ctx, op, system, prompt, maxTokens)
	if err != nil {
		return err
	}
	if err := decodePayload(resp, v); err != nil {
		return a.malformed(op, prompt, resp, err)
	}
	return nil
}

func (a *Analyzer) call(ctx context.Context, op Operation, system, prompt string, maxTokens int) (string, error) {
	resp, err := a.client.GenerateCompletion(ctx, corellm.CompletionRequest{
		System:         system,
		Prompt:         prompt,
		Temperature:    0,
		MaxTokens:      maxTokens,
		ResponseFormat: corellm.ResponseFormatJSON,
		Model:          a.model,
	})
	if err != nil {
		var llmErr *corellm.Error
		if !errors.As(err, &llmErr) {
			err = corellm.NewError(corellm.KindUnavailable, string(op), err)
		}
		a.failures.Record(op, prompt, "", err)
		return "", err
	}
	return resp.Content, nil
}

func (a *Analyzer) malformed(op Operation, prompt, response string, cause error) error {
	err := corellm.NewError(corellm.KindMalformedOutput, string(op), cause)
	a.failures.Record(op, prompt, response, err)
	return err
}

func (a *Analyzer) budget(text string) string {
	return a.counter.Truncate(text, a.maxInputTokens)
}

type profilePayload struct {
	FullName        looseString  `json:"full_name"`
	Email           looseString  `json:"email"`
	Phone           looseString  `json:"phone"`
	Location        looseString  `json:"location"`
	CurrentPosition looseString  `json:"current_position"`
	YearsExperience looseNumber  `json:"years_experience"`
	Skills          looseStrings `json:"skills"`
	Languages       looseStrings `json:"languages"`
	LinkedIn        looseString  `json:"linkedin"`
	GitHub          looseString  `json:"github"`
	Summary         looseString  `json:"summary"`
}

func (p profilePayload) toProfile() profile.StructuredProfile {
	years := p.YearsExperience.IntPtr()
	if years != nil && *years < 0 {
		years = nil
	}
	return profile.StructuredProfile{
		Name:            string(p.FullName),
		Position:        string(p.CurrentPosition),
		Email:           string(p.Email),
		Phone:           string(p.Phone),
		Location:        string(p.Location),
		Skills:          p.Skills.Slice(),
		Languages:       p.Languages.Slice(),
		YearsExperience: years,
		Summary:         string(p.Summary),
		LinkedIn:        string(p.LinkedIn),
		GitHub:          string(p.GitHub),
	}
}

type vacancyPayload struct {
	JobTitle           looseString  `json:"job_title"`
	Department         looseString  `json:"department"`
	SeniorityLevel     looseString  `json:"seniority_level"`
	MustHaveSkills     looseStrings `json:"must_have_skills"`
	NiceToHaveSkills   looseStrings `json:"nice_to_have_skills"`
	MinYearsExperience looseNumber  `json:"min_years_experience"`
	Responsibilities   looseStrings `json:"responsibilities"`
	Location           looseString  `json:"location"`
	RemoteOK           looseBool    `json:"remote_ok"`
	Summary            looseString  `json:"summary"`
}

func (v vacancyPayload) toRequirements() matching.VacancyRequirements {
	title := string(v.JobTitle)
	if title == "" {
		title = "Unknown"
	}
	return matching.VacancyRequirements{
		JobTitle:           title,
		Department:         string(v.Department),
		Seniority:          string(v.SeniorityLevel),
		MustHaveSkills:     v.MustHaveSkills.Slice(),
		NiceToHaveSkills:   v.NiceToHaveSkills.Slice(),
		MinYearsExperience: v.MinYearsExperience.IntPtr(),
		Responsibilities:   v.Responsibilities.Slice(),
		Location:           string(v.Location),
		RemoteOK:           v.RemoteOK.Value,
		Summary:            string(v.Summary),
	}
}

type scoringPayload struct {
	Score          looseNumber  `json:"score"`
	MatchingSkills looseStrings `json:"matching_skills"`
	MissingSkills  looseStrings `json:"missing_skills"`
	Strengths      looseStrings `json:"strengths"`
	Concerns       looseStrings `json:"concerns"`
	Explanation    looseString  `json:"explanation"`
}

var (
	errScoreMissing    = errors.New("score is missing")
	errScoreNotNumeric = errors.New("score is not numeric")
)

func (s scoringPayload) toAssessment() (matching.Assessment, error) {
	switch {
	case s.Score.Invalid:
		return matching.Assessment{}, errScoreNotNumeric
	case !s.Score.Valid:
		return matching.Assessment{}, errScoreMissing
	}
	return matching.Assessment{
		Score:          clampScore(s.Score.Value),
		MatchingSkills: s.MatchingSkills.Slice(),
		MissingSkills:  s.MissingSkills.Slice(),
		Strengths:      s.Strengths.Slice(),
		Concerns:       s.Concerns.Slice(),
		Explanation:    string(s.Explanation),
	}, nil
}
