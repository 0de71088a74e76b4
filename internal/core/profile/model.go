package profile

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/mo"
)

// StructuredProfile は履歴書から抽出した構造化プロフィール
// 各フィールドは欠損し得るが、オブジェクト自体は全体として保存/非保存が決まる
type StructuredProfile struct {
	Name            string   `json:"full_name"`
	Position        string   `json:"current_position"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone"`
	Location        string   `json:"location"`
	Skills          []string `json:"skills"`
	Languages       []string `json:"languages"`
	YearsExperience *int     `json:"years_experience"`
	Summary         string   `json:"summary"`
	LinkedIn        string   `json:"linkedin"`
	GitHub          string   `json:"github"`
}

// DisplayName は表示用の名前を返す
func (p StructuredProfile) DisplayName() string {
	if p.Name == "" {
		return "Unknown"
	}
	return p.Name
}

// Record は取り込まれた履歴書1件を表す
type Record struct {
	ID          int64
	SourcePath  string
	FileName    string
	ContentHash string
	RawText     mo.Option[string]
	CleanedText mo.Option[string]
	Profile     mo.Option[StructuredProfile]
	Embedding   mo.Option[[]float32]
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasEmbedding は検索対象となる埋め込みを持つかどうかを返す
func (r *Record) HasEmbedding() bool {
	v, ok := r.Embedding.Get()
	return ok && len(v) > 0
}

// Neighbor は近傍検索の結果1件
type Neighbor struct {
	Record   *Record
	Distance float64
}

// UpsertOutcome は Upsert の結果種別
type UpsertOutcome string

const (
	UpsertInserted       UpsertOutcome = "inserted"
	UpsertReplaced       UpsertOutcome = "replaced"
	UpsertAlreadyPresent UpsertOutcome = "already_present"
)

// UpsertResult は Upsert の結果
type UpsertResult struct {
	ID      int64
	Outcome UpsertOutcome
}

// KeepRule は重複グループから残すレコードの選び方
type KeepRule string

const (
	// KeepNewest は最も新しく更新されたレコードを残す
	KeepNewest KeepRule = "newest"
	// KeepOldest は最も小さいIDのレコードを残す
	KeepOldest KeepRule = "oldest"
)

// ParseKeepRule は文字列から KeepRule を解釈する
func ParseKeepRule(s string) (KeepRule, error) {
	switch KeepRule(s) {
	case KeepNewest, "":
		return KeepNewest, nil
	case KeepOldest:
		return KeepOldest, nil
	default:
		return "", fmt.Errorf("unknown keep rule: %s", s)
	}
}

// DuplicateMember は重複グループの構成員
type DuplicateMember struct {
	ID         int64
	SourcePath string
	UpdatedAt  time.Time
}

// DuplicateGroup は同一 content_hash を持つ2件以上のレコード
type DuplicateGroup struct {
	ContentHash string
	Members     []DuplicateMember
}

// IDs はグループ内のIDを昇順で返す
func (g DuplicateGroup) IDs() []int64 {
	ids := make([]int64, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.ID)
	}
	slices.Sort(ids)
	return ids
}

// RemovalResult は重複削除の結果
type RemovalResult struct {
	Groups     int
	RemovedIDs []int64
	KeptIDs    []int64
	DryRun     bool
}

// ListParams は一覧取得の条件
type ListParams struct {
	Search string
	Limit  int
	Offset int
}

// Stats はストア全体の統計
type Stats struct {
	Total          int
	WithEmbedding  int
	WithProfile    int
	DuplicateExtra int
}
