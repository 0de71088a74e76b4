package matching

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jinford/resume-matcher/internal/core/embedding"
	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	neighbors []profile.Neighbor
	lastK     int
	err       error
}

func (s *stubStore) SearchNearest(_ context.Context, _ []float32, k int) ([]profile.Neighbor, error) {
	s.lastK = k
	if s.err != nil {
		return nil, s.err
	}
	return s.neighbors, nil
}

type stubEmbedder struct {
	calls int
	err   error
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func rec(id int64, hash string) *profile.Record {
	return &profile.Record{
		ID:          id,
		ContentHash: hash,
		FileName:    "resume.pdf",
		CleanedText: mo.Some("cleaned text"),
	}
}

func candidateIDs(cs []Candidate) []int64 {
	ids := make([]int64, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ProfileID)
	}
	return ids
}

func candidateRanks(cs []Candidate) []int {
	ranks := make([]int, 0, len(cs))
	for _, c := range cs {
		ranks = append(ranks, c.Rank)
	}
	return ranks
}

func TestRetrieve_CollapsesDuplicateContent(t *testing.T) {
	store := &stubStore{neighbors: []profile.Neighbor{
		{Record: rec(1, "h1"), Distance: 0.10},
		{Record: rec(2, "h1"), Distance: 0.10},
		{Record: rec(3, "h3"), Distance: 0.30},
	}}
	engine := NewMatchEngine(store, &stubEmbedder{}, WithEngineLogger(testLogger()))

	got, err := engine.Retrieve(context.Background(), RetrieveParams{VacancyText: "Senior Go engineer", TopN: 10})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, []int64{1, 3}, candidateIDs(got))
	assert.Equal(t, []int{1, 2}, candidateRanks(got))
	assert.Equal(t, 90.0, got[0].EmbeddingScore)
	assert.Equal(t, 70.0, got[1].EmbeddingScore)
	assert.Equal(t, "cleaned text", got[0].Excerpt)
}

func TestRetrieve_TiesBrokenByAscendingID(t *testing.T) {
	store := &stubStore{neighbors: []profile.Neighbor{
		{Record: rec(7, "a"), Distance: 0.2},
		{Record: rec(3, "b"), Distance: 0.2},
		{Record: rec(5, "c"), Distance: 0.1},
	}}
	engine := NewMatchEngine(store, &stubEmbedder{}, WithEngineLogger(testLogger()))

	got, err := engine.Retrieve(context.Background(), RetrieveParams{VacancyText: "x"})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 3, 7}, candidateIDs(got))
	assert.Equal(t, []int{1, 2, 3}, candidateRanks(got))
}

func TestRetrieve_FiltersKeepOriginalRanks(t *testing.T) {
	store := &stubStore{neighbors: []profile.Neighbor{
		{Record: rec(1, "a"), Distance: 0.1},
		{Record: rec(2, "b"), Distance: 0.3},
		{Record: rec(3, "c"), Distance: 0.5},
	}}
	engine := NewMatchEngine(store, &stubEmbedder{}, WithEngineLogger(testLogger()))

	got, err := engine.Retrieve(context.Background(), RetrieveParams{
		VacancyText: "x",
		MaxScore:    mo.Some(80.0),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, candidateIDs(got))
	assert.Equal(t, []int{2, 3}, candidateRanks(got))

	got, err = engine.Retrieve(context.Background(), RetrieveParams{
		VacancyText: "x",
		MinScore:    mo.Some(60.0),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, candidateRanks(got))
}

func TestRetrieve_RequestsMaxOfTopNAndCandidates(t *testing.T) {
	store := &stubStore{}
	engine := NewMatchEngine(store, &stubEmbedder{}, WithEngineLogger(testLogger()))

	_, err := engine.Retrieve(context.Background(), RetrieveParams{VacancyText: "x", TopN: 5, EmbeddingCandidates: 25})
	require.NoError(t, err)
	assert.Equal(t, 25, store.lastK)

	_, err = engine.Retrieve(context.Background(), RetrieveParams{VacancyText: "x", TopN: 15, EmbeddingCandidates: 3})
	require.NoError(t, err)
	assert.Equal(t, 15, store.lastK)

	_, err = engine.Retrieve(context.Background(), RetrieveParams{VacancyText: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopN, store.lastK)
}

func TestRetrieve_Errors(t *testing.T) {
	t.Run("空の求人は埋め込みを呼ばない", func(t *testing.T) {
		embedder := &stubEmbedder{}
		engine := NewMatchEngine(&stubStore{}, embedder, WithEngineLogger(testLogger()))

		_, err := engine.Retrieve(context.Background(), RetrieveParams{VacancyText: "  \n"})
		assert.ErrorIs(t, err, ErrEmptyVacancy)
		assert.Zero(t, embedder.calls)
	})

	t.Run("埋め込み失敗は ErrUnavailable", func(t *testing.T) {
		engine := NewMatchEngine(&stubStore{}, &stubEmbedder{err: errors.New("timeout")}, WithEngineLogger(testLogger()))

		_, err := engine.Retrieve(context.Background(), RetrieveParams{VacancyText: "x"})
		assert.ErrorIs(t, err, embedding.ErrUnavailable)
	})

	t.Run("最小が最大を上回る", func(t *testing.T) {
		engine := NewMatchEngine(&stubStore{}, &stubEmbedder{}, WithEngineLogger(testLogger()))

		_, err := engine.Retrieve(context.Background(), RetrieveParams{
			VacancyText: "x",
			MinScore:    mo.Some(70.0),
			MaxScore:    mo.Some(50.0),
		})
		assert.ErrorIs(t, err, ErrInvalidScoreRange)
	})

	t.Run("検索失敗", func(t *testing.T) {
		engine := NewMatchEngine(&stubStore{err: errors.New("db down")}, &stubEmbedder{}, WithEngineLogger(testLogger()))

		_, err := engine.Retrieve(context.Background(), RetrieveParams{VacancyText: "x"})
		assert.Error(t, err)
	})
}

func TestScoreFromDistance(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 100},
		{0.25, 75},
		{1, 0},
		{1.5, 0},
		{-0.2, 100},
		{0.123456, 87.65},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScoreFromDistance(tt.distance), "distance=%v", tt.distance)
	}
}
