package matching

import (
	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/samber/mo"
)

// VacancyRequirements はLLMが求人票から抽出した要件
type VacancyRequirements struct {
	JobTitle           string   `json:"job_title"`
	Department         string   `json:"department"`
	Seniority          string   `json:"seniority_level"`
	MustHaveSkills     []string `json:"must_have_skills"`
	NiceToHaveSkills   []string `json:"nice_to_have_skills"`
	MinYearsExperience *int     `json:"min_years_experience"`
	Responsibilities   []string `json:"responsibilities"`
	Location           string   `json:"location"`
	RemoteOK           *bool    `json:"remote_ok"`
	Summary            string   `json:"summary"`
}

// VacancyQuery はマッチング対象の求人
// Parsed はリランクモードでのみ設定される
type VacancyQuery struct {
	Text   string
	Parsed mo.Option[VacancyRequirements]
}

// Candidate はベクトル検索で得た候補者
type Candidate struct {
	ProfileID      int64
	EmbeddingScore float64
	Rank           int
	Distance       float64

	// 表示用の読み取り専用データ
	SourcePath  string
	FileName    string
	ContentHash string
	Profile     mo.Option[profile.StructuredProfile]
	Excerpt     string
}

// DisplayName は候補者の表示名を返す
func (c Candidate) DisplayName() string {
	if p, ok := c.Profile.Get(); ok && p.Name != "" {
		return p.Name
	}
	return c.FileName
}

// MatchLevel は総合スコアの区分
type MatchLevel string

const (
	MatchExcellent MatchLevel = "excellent"
	MatchGood      MatchLevel = "good"
	MatchModerate  MatchLevel = "moderate"
	MatchWeak      MatchLevel = "weak"
)

// CandidateInput はLLM評価に渡す候補者情報
type CandidateInput struct {
	ProfileID int64
	Name      string
	Profile   mo.Option[profile.StructuredProfile]
	// Excerpt はプロフィールがない場合に使う本文の抜粋
	Excerpt string
}

// Assessment はLLMによる候補者評価
type Assessment struct {
	Score          int
	MatchingSkills []string
	MissingSkills  []string
	Strengths      []string
	Concerns       []string
	Explanation    string
}

// ScoredCandidate はリランク後の候補者
type ScoredCandidate struct {
	Candidate
	LLMScore       int
	CombinedScore  float64
	MatchLevel     MatchLevel
	MatchingSkills []string
	MissingSkills  []string
	Strengths      []string
	Concerns       []string
	Explanation    string
	// Degraded はLLM評価に失敗し、埋め込みスコアのみで順位付けされたことを示す
	Degraded      bool
	FailureReason string
}

// Mode はマッチング応答の種別
type Mode string

const (
	// ModeFast はベクトル検索のみの結果
	ModeFast Mode = "fast"
	// ModeRich はLLMリランク済みの結果
	ModeRich Mode = "rich"
)

// MatchResponse はマッチング結果
// ModeFast では Candidates、ModeRich では Scored と Vacancy が設定される
type MatchResponse struct {
	Mode            Mode
	Candidates      []Candidate
	Scored          []ScoredCandidate
	Vacancy         mo.Option[VacancyRequirements]
	VacancyDegraded bool
	TotalProfiles   int
}

// Len は結果件数を返す
func (r *MatchResponse) Len() int {
	if r.Mode == ModeRich {
		return len(r.Scored)
	}
	return len(r.Candidates)
}
