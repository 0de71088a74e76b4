package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/jinford/resume-matcher/internal/core/matching"
	"github.com/jinford/resume-matcher/internal/infra/textract"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"
)

// errNoMatches は該当する候補者がいない場合の終了コード用エラー
var errNoMatches = cli.Exit("", 1)

// MatchAction は求人に合う履歴書を検索するコマンドのアクション
func MatchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	vacancyText, err := resolveVacancyText(ctx, cmd.String("vacancy"), cmd.String("text"))
	if err != nil {
		return err
	}

	minScore, maxScore, err := resolveScoreBounds(
		optionalFloat(cmd, "min-score"),
		optionalFloat(cmd, "max-score"),
		cmd.String("score-range"),
	)
	if err != nil {
		return err
	}

	lang, err := matching.ValidateLang(cmd.String("lang"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	req := matching.MatchRequest{
		VacancyText:         vacancyText,
		TopN:                firstPositive(cmd.Int("top"), appCtx.Config.Match.TopN),
		EmbeddingCandidates: firstPositive(cmd.Int("candidates"), appCtx.Config.Match.Candidates),
		MinScore:            minScore,
		MaxScore:            maxScore,
		Rerank:              cmd.Bool("llm"),
		Lang:                lang,
	}

	slog.Info("マッチングを開始",
		"topN", req.TopN,
		"candidates", req.EmbeddingCandidates,
		"rerank", req.Rerank,
		"lang", req.Lang,
	)

	resp, err := appCtx.Container.MatchService.Match(ctx, req)
	if err != nil {
		slog.Error("マッチングに失敗しました", "error", err)
		return err
	}

	w := output(cmd)
	if cmd.Bool("json") {
		if err := writeMatchJSON(w, resp); err != nil {
			return err
		}
	} else {
		printMatchResponse(w, resp)
	}

	if resp.Len() == 0 {
		return errNoMatches
	}
	return nil
}

// resolveVacancyText はファイルまたは直接指定のテキストから求人本文を得る
func resolveVacancyText(ctx context.Context, path, text string) (string, error) {
	if (path == "") == (text == "") {
		return "", errors.New("--vacancy と --text のどちらか一方を指定してください")
	}
	if text != "" {
		return text, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("求人ファイルの読み込みに失敗: %w", err)
	}
	normalizer := textract.NewNormalizer()
	extracted, err := normalizer.Extract(ctx, data, normalizer.DetectMIME(path, data))
	if err != nil {
		return "", fmt.Errorf("求人ファイルのテキスト抽出に失敗: %w", err)
	}
	return extracted, nil
}

// parseScoreRange は "80-100" 形式のスコア範囲を解釈する
func parseScoreRange(s string) (float64, float64, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid score range %q: use MIN-MAX, e.g. 80-100", s)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid score range %q: %w", s, err)
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid score range %q: %w", s, err)
	}
	if lo < 0 || hi > 100 {
		return 0, 0, fmt.Errorf("invalid score range %q: scores must be within 0-100", s)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("%w: %v > %v", matching.ErrInvalidScoreRange, lo, hi)
	}
	return lo, hi, nil
}

// resolveScoreBounds は --min-score/--max-score と --score-range を合成する
// 両方が指定された場合は狭い方の境界を採用する
func resolveScoreBounds(minScore, maxScore mo.Option[float64], scoreRange string) (mo.Option[float64], mo.Option[float64], error) {
	if scoreRange != "" {
		lo, hi, err := parseScoreRange(scoreRange)
		if err != nil {
			return mo.None[float64](), mo.None[float64](), err
		}
		minScore = mo.Some(math.Max(minScore.OrElse(lo), lo))
		maxScore = mo.Some(math.Min(maxScore.OrElse(hi), hi))
	}
	if lo, ok := minScore.Get(); ok {
		if hi, ok := maxScore.Get(); ok && lo > hi {
			return mo.None[float64](), mo.None[float64](), fmt.Errorf("%w: %v > %v", matching.ErrInvalidScoreRange, lo, hi)
		}
	}
	return minScore, maxScore, nil
}

func optionalFloat(cmd *cli.Command, name string) mo.Option[float64] {
	if !cmd.IsSet(name) {
		return mo.None[float64]()
	}
	return mo.Some(cmd.Float(name))
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func printMatchResponse(w io.Writer, resp *matching.MatchResponse) {
	if resp.Mode == matching.ModeRich {
		printScored(w, resp)
		return
	}

	fmt.Fprintf(w, "\n候補者 (ベクトル検索, 全 %d 件中)\n", resp.TotalProfiles)
	if len(resp.Candidates) == 0 {
		fmt.Fprintln(w, "  該当する候補者はいません")
		return
	}
	for _, c := range resp.Candidates {
		fmt.Fprintf(w, "%3d. %-30s %6.2f  [id=%d] %s\n", c.Rank, c.DisplayName(), c.EmbeddingScore, c.ProfileID, c.SourcePath)
		if p, ok := c.Profile.Get(); ok {
			if p.Position != "" {
				fmt.Fprintf(w, "     %s\n", p.Position)
			}
			if len(p.Skills) > 0 {
				fmt.Fprintf(w, "     スキル: %s\n", strings.Join(p.Skills, ", "))
			}
		}
	}
}

func printScored(w io.Writer, resp *matching.MatchResponse) {
	if v, ok := resp.Vacancy.Get(); ok {
		fmt.Fprintf(w, "\n求人: %s\n", v.JobTitle)
		if len(v.MustHaveSkills) > 0 {
			fmt.Fprintf(w, "  必須スキル: %s\n", strings.Join(v.MustHaveSkills, ", "))
		}
		if len(v.NiceToHaveSkills) > 0 {
			fmt.Fprintf(w, "  歓迎スキル: %s\n", strings.Join(v.NiceToHaveSkills, ", "))
		}
		if resp.VacancyDegraded {
			fmt.Fprintln(w, "  警告: 求人の解析に失敗したため本文の抜粋で評価しました")
		}
	}

	fmt.Fprintf(w, "\n候補者 (LLMリランク, 全 %d 件中)\n", resp.TotalProfiles)
	if len(resp.Scored) == 0 {
		fmt.Fprintln(w, "  該当する候補者はいません")
		return
	}
	for _, s := range resp.Scored {
		fmt.Fprintf(w, "%3d. %-30s %6.2f (%s)  LLM=%d 埋め込み=%.2f [id=%d]\n",
			s.Rank, s.DisplayName(), s.CombinedScore, s.MatchLevel, s.LLMScore, s.EmbeddingScore, s.ProfileID)
		if len(s.MatchingSkills) > 0 {
			fmt.Fprintf(w, "     一致: %s\n", strings.Join(s.MatchingSkills, ", "))
		}
		if len(s.MissingSkills) > 0 {
			fmt.Fprintf(w, "     不足: %s\n", strings.Join(s.MissingSkills, ", "))
		}
		if s.Explanation != "" {
			fmt.Fprintf(w, "     %s\n", s.Explanation)
		}
		if s.Degraded {
			fmt.Fprintf(w, "     警告: LLM評価に失敗 (%s)\n", s.FailureReason)
		}
	}
}

type candidateJSON struct {
	Rank           int      `json:"rank"`
	ProfileID      int64    `json:"profile_id"`
	Name           string   `json:"name"`
	Position       string   `json:"current_position,omitempty"`
	SourcePath     string   `json:"source_path"`
	EmbeddingScore float64  `json:"embedding_score"`
	Skills         []string `json:"skills,omitempty"`
}

type scoredJSON struct {
	candidateJSON
	LLMScore       int      `json:"llm_score"`
	CombinedScore  float64  `json:"combined_score"`
	MatchLevel     string   `json:"match_level"`
	MatchingSkills []string `json:"matching_skills"`
	MissingSkills  []string `json:"missing_skills"`
	Strengths      []string `json:"strengths"`
	Concerns       []string `json:"concerns"`
	Explanation    string   `json:"explanation"`
	Degraded       bool     `json:"degraded,omitempty"`
}

type matchJSON struct {
	Mode            string                        `json:"mode"`
	TotalProfiles   int                           `json:"total_profiles"`
	Vacancy         *matching.VacancyRequirements `json:"vacancy,omitempty"`
	VacancyDegraded bool                          `json:"vacancy_degraded,omitempty"`
	Candidates      []candidateJSON               `json:"candidates,omitempty"`
	Scored          []scoredJSON                  `json:"scored,omitempty"`
}

func toCandidateJSON(c matching.Candidate) candidateJSON {
	out := candidateJSON{
		Rank:           c.Rank,
		ProfileID:      c.ProfileID,
		Name:           c.DisplayName(),
		SourcePath:     c.SourcePath,
		EmbeddingScore: c.EmbeddingScore,
	}
	if p, ok := c.Profile.Get(); ok {
		out.Position = p.Position
		out.Skills = p.Skills
	}
	return out
}

func buildMatchJSON(resp *matching.MatchResponse) matchJSON {
	out := matchJSON{
		Mode:            string(resp.Mode),
		TotalProfiles:   resp.TotalProfiles,
		VacancyDegraded: resp.VacancyDegraded,
	}
	if v, ok := resp.Vacancy.Get(); ok {
		out.Vacancy = &v
	}

	if resp.Mode == matching.ModeRich {
		out.Scored = make([]scoredJSON, 0, len(resp.Scored))
		for _, s := range resp.Scored {
			out.Scored = append(out.Scored, scoredJSON{
				candidateJSON:  toCandidateJSON(s.Candidate),
				LLMScore:       s.LLMScore,
				CombinedScore:  s.CombinedScore,
				MatchLevel:     string(s.MatchLevel),
				MatchingSkills: s.MatchingSkills,
				MissingSkills:  s.MissingSkills,
				Strengths:      s.Strengths,
				Concerns:       s.Concerns,
				Explanation:    s.Explanation,
				Degraded:       s.Degraded,
			})
		}
		return out
	}

	out.Candidates = make([]candidateJSON, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		out.Candidates = append(out.Candidates, toCandidateJSON(c))
	}
	return out
}

func writeMatchJSON(w io.Writer, resp *matching.MatchResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(buildMatchJSON(resp)); err != nil {
		return fmt.Errorf("結果のJSON出力に失敗: %w", err)
	}
	return nil
}
