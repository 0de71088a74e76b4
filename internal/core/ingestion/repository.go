package ingestion

import (
	"context"
	"errors"

	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/samber/mo"
)

var (
	// ErrUnsupportedFormat はテキスト抽出に対応していない形式のエラー
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrExtraction はテキスト抽出に失敗した場合のエラー
	ErrExtraction = errors.New("text extraction failed")
)

// Store は取り込みに必要なストア操作
// テスト時のモック用に消費者側で定義
type Store interface {
	FindByHash(ctx context.Context, hash string) (mo.Option[*profile.Record], error)
	FindIDBySourcePath(ctx context.Context, path string) (mo.Option[int64], error)
	Upsert(ctx context.Context, rec *profile.Record, force bool) (profile.UpsertResult, error)
	ListSourcePaths(ctx context.Context) ([]string, error)
	DeleteBySourcePaths(ctx context.Context, paths []string) (int, error)
}

// TextNormalizer はファイル内容からプレーンテキストを得る境界
type TextNormalizer interface {
	// DetectMIME はパスと内容から MIME タイプの推定値を返す
	DetectMIME(path string, data []byte) string
	// Extract は生テキストを抽出する。ErrUnsupportedFormat または ErrExtraction を返し得る
	Extract(ctx context.Context, data []byte, mimeHint string) (string, error)
	// Clean はOCR由来のノイズを除去したテキストを返す
	Clean(text string) string
}

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProfileExtractor は履歴書テキストから構造化プロフィールを抽出する
type ProfileExtractor interface {
	ExtractProfile(ctx context.Context, text string) (profile.StructuredProfile, error)
}

// FileSource は取り込み対象ファイルを列挙する
type FileSource interface {
	// Discover は root 配下の対象ファイルを絶対パスで決定的な順序で返す
	Discover(ctx context.Context, root string) ([]string, error)
}
