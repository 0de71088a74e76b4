package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func neighbor(id int64, hash string, distance float64) Neighbor {
	return Neighbor{Record: &Record{ID: id, ContentHash: hash}, Distance: distance}
}

func neighborIDs(ns []Neighbor) []int64 {
	ids := make([]int64, 0, len(ns))
	for _, n := range ns {
		ids = append(ids, n.Record.ID)
	}
	return ids
}

func TestProjectNearest(t *testing.T) {
	t.Run("同一ハッシュは距離最小の1件に集約される", func(t *testing.T) {
		got := ProjectNearest([]Neighbor{
			neighbor(1, "h1", 0.30),
			neighbor(2, "h1", 0.10),
			neighbor(3, "h2", 0.20),
		}, 10)

		require.Len(t, got, 2)
		assert.Equal(t, []int64{2, 3}, neighborIDs(got))
	})

	t.Run("距離が同じ場合はIDが小さい方が代表になる", func(t *testing.T) {
		got := ProjectNearest([]Neighbor{
			neighbor(9, "h1", 0.25),
			neighbor(4, "h1", 0.25),
		}, 10)

		require.Len(t, got, 1)
		assert.Equal(t, int64(4), got[0].Record.ID)
	})

	t.Run("異なるハッシュの同距離はID昇順", func(t *testing.T) {
		got := ProjectNearest([]Neighbor{
			neighbor(7, "a", 0.5),
			neighbor(3, "b", 0.5),
			neighbor(5, "c", 0.1),
		}, 10)

		assert.Equal(t, []int64{5, 3, 7}, neighborIDs(got))
	})

	t.Run("k件に切り詰める", func(t *testing.T) {
		got := ProjectNearest([]Neighbor{
			neighbor(1, "a", 0.1),
			neighbor(2, "b", 0.2),
			neighbor(3, "c", 0.3),
		}, 2)

		assert.Equal(t, []int64{1, 2}, neighborIDs(got))
	})

	t.Run("kが0以下なら空", func(t *testing.T) {
		assert.Empty(t, ProjectNearest([]Neighbor{neighbor(1, "a", 0.1)}, 0))
	})
}

func TestPlanRemoval(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	groups := []DuplicateGroup{
		{
			ContentHash: "h1",
			Members: []DuplicateMember{
				{ID: 1, UpdatedAt: base},
				{ID: 2, UpdatedAt: base.Add(2 * time.Hour)},
				{ID: 3, UpdatedAt: base.Add(time.Hour)},
			},
		},
		{
			ContentHash: "h2",
			Members:     []DuplicateMember{{ID: 10, UpdatedAt: base}},
		},
	}

	t.Run("newestは最新更新のレコードを残す", func(t *testing.T) {
		kept, removed := PlanRemoval(groups, KeepNewest)
		assert.Equal(t, []int64{2}, kept)
		assert.Equal(t, []int64{1, 3}, removed)
	})

	t.Run("oldestは最小IDを残す", func(t *testing.T) {
		kept, removed := PlanRemoval(groups, KeepOldest)
		assert.Equal(t, []int64{1}, kept)
		assert.Equal(t, []int64{2, 3}, removed)
	})

	t.Run("単独メンバーのグループからは削除しない", func(t *testing.T) {
		_, removed := PlanRemoval(groups[1:], KeepNewest)
		assert.Empty(t, removed)
	})
}

func TestGroupDuplicates(t *testing.T) {
	groups := GroupDuplicates(map[string][]DuplicateMember{
		"b": {{ID: 5}, {ID: 2}},
		"a": {{ID: 1}},
		"c": {{ID: 3}, {ID: 4}, {ID: 8}},
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "b", groups[0].ContentHash)
	assert.Equal(t, []int64{2, 5}, groups[0].IDs())
	assert.Equal(t, []int64{3, 4, 8}, groups[1].IDs())
}

func TestContentHash(t *testing.T) {
	t.Run("空白の違いは同じハッシュになる", func(t *testing.T) {
		assert.Equal(t, ContentHash("Go  developer\n\nBerlin"), ContentHash(" Go developer Berlin "))
	})

	t.Run("全角と半角は正規化される", func(t *testing.T) {
		assert.Equal(t, ContentHash("ＧＯ１２３"), ContentHash("GO123"))
	})

	t.Run("内容が異なれば異なるハッシュ", func(t *testing.T) {
		assert.NotEqual(t, ContentHash("Go developer"), ContentHash("Rust developer"))
	})

	t.Run("16進64文字", func(t *testing.T) {
		assert.Len(t, ContentHash("x"), 64)
	})
}
