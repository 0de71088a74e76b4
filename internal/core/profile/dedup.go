package profile

import (
	"cmp"
	"slices"
)

// ProjectNearest は近傍候補を content_hash ごとに1件へ集約し、距離昇順で最大 k 件を返す
// 同一ハッシュ内では距離が最小のもの、距離が等しければ ID が最小のものを代表とする
func ProjectNearest(neighbors []Neighbor, k int) []Neighbor {
	if k <= 0 || len(neighbors) == 0 {
		return []Neighbor{}
	}

	best := make(map[string]Neighbor, len(neighbors))
	for _, n := range neighbors {
		if n.Record == nil {
			continue
		}
		current, ok := best[n.Record.ContentHash]
		if !ok || compareNeighbor(n, current) < 0 {
			best[n.Record.ContentHash] = n
		}
	}

	result := make([]Neighbor, 0, len(best))
	for _, n := range best {
		result = append(result, n)
	}
	slices.SortFunc(result, compareNeighbor)

	if len(result) > k {
		result = result[:k]
	}
	return result
}

func compareNeighbor(a, b Neighbor) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.Record.ID, b.Record.ID)
}

// GroupDuplicates はレコードのメンバー情報から2件以上の重複グループを作る
// グループはハッシュ順、メンバーは ID 昇順に並ぶ
func GroupDuplicates(hashes map[string][]DuplicateMember) []DuplicateGroup {
	groups := make([]DuplicateGroup, 0)
	for hash, members := range hashes {
		if len(members) < 2 {
			continue
		}
		sorted := slices.Clone(members)
		slices.SortFunc(sorted, func(a, b DuplicateMember) int { return cmp.Compare(a.ID, b.ID) })
		groups = append(groups, DuplicateGroup{ContentHash: hash, Members: sorted})
	}
	slices.SortFunc(groups, func(a, b DuplicateGroup) int { return cmp.Compare(a.ContentHash, b.ContentHash) })
	return groups
}

// PlanRemoval は各グループで残すレコードを1件選び、削除対象の ID を返す
// 構成員が1件以下のグループからは何も削除しない
func PlanRemoval(groups []DuplicateGroup, keep KeepRule) (kept []int64, removed []int64) {
	kept = make([]int64, 0, len(groups))
	removed = make([]int64, 0)

	for _, g := range groups {
		if len(g.Members) < 2 {
			continue
		}
		keeper := selectKeeper(g.Members, keep)
		kept = append(kept, keeper.ID)
		for _, m := range g.Members {
			if m.ID != keeper.ID {
				removed = append(removed, m.ID)
			}
		}
	}

	slices.Sort(kept)
	slices.Sort(removed)
	return kept, removed
}

func selectKeeper(members []DuplicateMember, keep KeepRule) DuplicateMember {
	keeper := members[0]
	for _, m := range members[1:] {
		switch keep {
		case KeepOldest:
			if m.ID < keeper.ID {
				keeper = m
			}
		default:
			if m.UpdatedAt.After(keeper.UpdatedAt) || (m.UpdatedAt.Equal(keeper.UpdatedAt) && m.ID > keeper.ID) {
				keeper = m
			}
		}
	}
	return keeper
}
