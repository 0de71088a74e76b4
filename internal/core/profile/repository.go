package profile

import (
	"context"

	"github.com/samber/mo"
)

// Repository は履歴書プロフィールの永続化を担うストア
// content_hash による重複検出と、検索時の重複排除はこのストアの責務
type Repository interface {
	// FindByHash は同じ content_hash を持つレコードを1件返す
	FindByHash(ctx context.Context, hash string) (mo.Option[*Record], error)
	GetByID(ctx context.Context, id int64) (mo.Option[*Record], error)
	// FindIDBySourcePath は source_path が一致するレコードの ID を返す
	FindIDBySourcePath(ctx context.Context, path string) (mo.Option[int64], error)
	List(ctx context.Context, params ListParams) ([]*Record, int, error)
	Stats(ctx context.Context) (Stats, error)

	// Upsert はレコードを挿入する。force の場合は source_path が一致する既存行を置き換える
	// force でない場合の source_path 一意制約違反は UpsertAlreadyPresent として返す
	Upsert(ctx context.Context, rec *Record, force bool) (UpsertResult, error)

	// SearchNearest は埋め込みを持つレコードをコサイン距離で検索する
	// 結果は content_hash ごとに1件へ集約され、距離昇順・ID昇順で並ぶ
	SearchNearest(ctx context.Context, vector []float32, k int) ([]Neighbor, error)

	// Delete は ID 指定で削除する。存在しない場合は false を返す
	Delete(ctx context.Context, id int64) (bool, error)

	FindDuplicateGroups(ctx context.Context) ([]DuplicateGroup, error)
	RemoveDuplicates(ctx context.Context, keep KeepRule, dryRun bool) (RemovalResult, error)

	ListSourcePaths(ctx context.Context) ([]string, error)
	DeleteBySourcePaths(ctx context.Context, paths []string) (int, error)
}
