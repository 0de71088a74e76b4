package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jinford/resume-matcher/internal/core/matching"
	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScoreRange(t *testing.T) {
	lo, hi, err := parseScoreRange("80-100")
	require.NoError(t, err)
	assert.Equal(t, 80.0, lo)
	assert.Equal(t, 100.0, hi)

	lo, hi, err = parseScoreRange(" 40.5 - 60 ")
	require.NoError(t, err)
	assert.Equal(t, 40.5, lo)
	assert.Equal(t, 60.0, hi)

	for _, bad := range []string{"80", "a-b", "50-120", "90-80", "10-20-30"} {
		_, _, err := parseScoreRange(bad)
		assert.Error(t, err, bad)
	}

	_, _, err = parseScoreRange("90-80")
	assert.ErrorIs(t, err, matching.ErrInvalidScoreRange)
}

func TestResolveScoreBounds(t *testing.T) {
	minScore, maxScore, err := resolveScoreBounds(mo.None[float64](), mo.None[float64](), "")
	require.NoError(t, err)
	assert.True(t, minScore.IsAbsent())
	assert.True(t, maxScore.IsAbsent())

	// 範囲指定と個別指定は狭い方を採用する
	minScore, maxScore, err = resolveScoreBounds(mo.Some(70.0), mo.None[float64](), "60-90")
	require.NoError(t, err)
	assert.Equal(t, 70.0, minScore.MustGet())
	assert.Equal(t, 90.0, maxScore.MustGet())

	_, _, err = resolveScoreBounds(mo.Some(95.0), mo.None[float64](), "60-90")
	assert.ErrorIs(t, err, matching.ErrInvalidScoreRange)

	_, _, err = resolveScoreBounds(mo.Some(50.0), mo.Some(10.0), "")
	assert.ErrorIs(t, err, matching.ErrInvalidScoreRange)
}

func TestResolveVacancyText(t *testing.T) {
	ctx := context.Background()

	text, err := resolveVacancyText(ctx, "", "Go engineer")
	require.NoError(t, err)
	assert.Equal(t, "Go engineer", text)

	path := filepath.Join(t.TempDir(), "vacancy.txt")
	require.NoError(t, os.WriteFile(path, []byte("Backend engineer, Go and PostgreSQL"), 0o644))
	text, err = resolveVacancyText(ctx, path, "")
	require.NoError(t, err)
	assert.Contains(t, text, "PostgreSQL")

	_, err = resolveVacancyText(ctx, "", "")
	assert.Error(t, err)
	_, err = resolveVacancyText(ctx, path, "text")
	assert.Error(t, err)
	_, err = resolveVacancyText(ctx, filepath.Join(t.TempDir(), "missing.txt"), "")
	assert.Error(t, err)
}

func TestFirstPositive(t *testing.T) {
	assert.Equal(t, 5, firstPositive(0, 5))
	assert.Equal(t, 3, firstPositive(3, 5))
	assert.Equal(t, 0, firstPositive(0, -1))
}

func TestWriteMatchJSON_Fast(t *testing.T) {
	resp := &matching.MatchResponse{
		Mode:          matching.ModeFast,
		TotalProfiles: 12,
		Candidates: []matching.Candidate{
			{
				ProfileID:      7,
				Rank:           1,
				EmbeddingScore: 88.5,
				SourcePath:     "/cv/alice.pdf",
				FileName:       "alice.pdf",
				Profile:        mo.Some(profile.StructuredProfile{Name: "Alice", Skills: []string{"Go"}}),
			},
			{ProfileID: 9, Rank: 2, EmbeddingScore: 70, SourcePath: "/cv/bob.txt", FileName: "bob.txt"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeMatchJSON(&buf, resp))

	var decoded matchJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "fast", decoded.Mode)
	assert.Equal(t, 12, decoded.TotalProfiles)
	assert.Nil(t, decoded.Vacancy)
	require.Len(t, decoded.Candidates, 2)
	assert.Equal(t, "Alice", decoded.Candidates[0].Name)
	assert.Equal(t, []string{"Go"}, decoded.Candidates[0].Skills)
	assert.Equal(t, "bob.txt", decoded.Candidates[1].Name)
	assert.Empty(t, decoded.Scored)
}

func TestWriteMatchJSON_Rich(t *testing.T) {
	resp := &matching.MatchResponse{
		Mode:    matching.ModeRich,
		Vacancy: mo.Some(matching.VacancyRequirements{JobTitle: "Go Engineer", MustHaveSkills: []string{"Go"}}),
		Scored: []matching.ScoredCandidate{
			{
				Candidate:      matching.Candidate{ProfileID: 3, Rank: 1, EmbeddingScore: 80, FileName: "c.txt"},
				LLMScore:       90,
				CombinedScore:  87,
				MatchLevel:     matching.MatchExcellent,
				MatchingSkills: []string{"Go"},
				MissingSkills:  []string{},
				Strengths:      []string{},
				Concerns:       []string{},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeMatchJSON(&buf, resp))

	var decoded matchJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "rich", decoded.Mode)
	require.NotNil(t, decoded.Vacancy)
	assert.Equal(t, "Go Engineer", decoded.Vacancy.JobTitle)
	require.Len(t, decoded.Scored, 1)
	assert.Equal(t, 90, decoded.Scored[0].LLMScore)
	assert.Equal(t, "excellent", decoded.Scored[0].MatchLevel)
	assert.Equal(t, int64(3), decoded.Scored[0].ProfileID)
	assert.Contains(t, buf.String(), `"missing_skills": []`)
}

func TestPrintMatchResponse(t *testing.T) {
	var buf bytes.Buffer
	printMatchResponse(&buf, &matching.MatchResponse{Mode: matching.ModeFast})
	assert.Contains(t, buf.String(), "該当する候補者はいません")

	buf.Reset()
	printMatchResponse(&buf, &matching.MatchResponse{
		Mode: matching.ModeRich,
		Scored: []matching.ScoredCandidate{{
			Candidate:     matching.Candidate{ProfileID: 1, Rank: 1, FileName: "x.txt"},
			MatchLevel:    matching.MatchWeak,
			Degraded:      true,
			FailureReason: "rate_limited",
		}},
	})
	assert.Contains(t, buf.String(), "x.txt")
	assert.Contains(t, buf.String(), "rate_limited")
}
