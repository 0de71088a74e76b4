package ingestion

import (
	"time"

	"github.com/google/uuid"
)

// Status は1ファイルの取り込み結果
type Status string

const (
	StatusImported         Status = "imported"
	StatusSkippedDuplicate Status = "skipped_duplicate"
	StatusFailed           Status = "failed"
	// StatusWouldImport はドライランで取り込み対象と判定されたことを示す
	StatusWouldImport Status = "would_import"
)

// ImportOptions は1ファイルの取り込みオプション
type ImportOptions struct {
	// Force は重複チェックを無視し、同じ source_path の既存レコードを置き換える
	Force bool
	// DryRun は重複判定までを行い、Embedding生成や保存を行わない
	DryRun bool
}

// ImportResult は1ファイルの取り込み結果
type ImportResult struct {
	SourcePath      string
	Status          Status
	Reason          string
	RecordID        int64
	ContentHash     string
	EmbeddingFailed bool
	ProfileFailed   bool
	Duration        time.Duration
}

// DirectoryOptions はディレクトリ取り込みのオプション
type DirectoryOptions struct {
	Workers int
	Force   bool
	DryRun  bool
	// Limit は処理するファイル数の上限 (0 は無制限)
	Limit int
	// SyncDeleted はディスクから消えたファイルのレコードを削除する
	SyncDeleted bool
	// OnlySync は削除の同期だけを行い取り込みはしない
	OnlySync bool
}

// BatchResult はディレクトリ取り込みの集計結果
type BatchResult struct {
	RunID            uuid.UUID
	Root             string
	Discovered       int
	Imported         int
	SkippedDuplicate int
	Failed           int
	WouldImport      int
	Removed          int
	Items            []ImportResult
	StartedAt        time.Time
	FinishedAt       time.Time
}

func (b *BatchResult) add(r ImportResult) {
	switch r.Status {
	case StatusImported:
		b.Imported++
	case StatusSkippedDuplicate:
		b.SkippedDuplicate++
	case StatusWouldImport:
		b.WouldImport++
	default:
		b.Failed++
	}
	b.Items = append(b.Items, r)
}

// Failures は失敗した項目だけを返す
func (b *BatchResult) Failures() []ImportResult {
	var failed []ImportResult
	for _, item := range b.Items {
		if item.Status == StatusFailed {
			failed = append(failed, item)
		}
	}
	return failed
}
