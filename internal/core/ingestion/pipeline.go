package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/resume-matcher/internal/core/embedding"
	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/samber/mo"
)

const (
	// DefaultWorkerCount はデフォルトの並列取り込み数
	DefaultWorkerCount = 4
	// DefaultEmbedTimeout はEmbedding生成1回あたりのタイムアウト
	DefaultEmbedTimeout = 30 * time.Second
	// DefaultExtractTimeout はプロフィール抽出1回あたりのタイムアウト
	DefaultExtractTimeout = 90 * time.Second
	// DefaultMaxFileSize は取り込むファイルサイズの上限
	DefaultMaxFileSize = 20 << 20
)

// PipelineConfig は取り込みパイプラインの設定
type PipelineConfig struct {
	Workers        int
	EmbedTimeout   time.Duration
	ExtractTimeout time.Duration
	MaxFileSize    int64
}

// DefaultPipelineConfig はデフォルトのパイプライン設定を返す
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:        DefaultWorkerCount,
		EmbedTimeout:   DefaultEmbedTimeout,
		ExtractTimeout: DefaultExtractTimeout,
		MaxFileSize:    DefaultMaxFileSize,
	}
}

// ProgressFunc は1ファイルの処理完了ごとに呼ばれる
type ProgressFunc func(done, total int, result ImportResult)

// ImportPipeline は履歴書ファイルを取り込み、ストアへ保存する
type ImportPipeline struct {
	store      Store
	normalizer TextNormalizer
	embedder   Embedder
	extractor  ProfileExtractor
	files      FileSource
	config     PipelineConfig
	logger     *slog.Logger
	progress   ProgressFunc
}

// PipelineOption は ImportPipeline の設定オプション
type PipelineOption func(*ImportPipeline)

// WithPipelineConfig は設定を上書きする
func WithPipelineConfig(cfg PipelineConfig) PipelineOption {
	return func(p *ImportPipeline) {
		if cfg.Workers > 0 {
			p.config.Workers = cfg.Workers
		}
		if cfg.EmbedTimeout > 0 {
			p.config.EmbedTimeout = cfg.EmbedTimeout
		}
		if cfg.ExtractTimeout > 0 {
			p.config.ExtractTimeout = cfg.ExtractTimeout
		}
		if cfg.MaxFileSize > 0 {
			p.config.MaxFileSize = cfg.MaxFileSize
		}
	}
}

// WithImportLogger はロガーを設定する
func WithImportLogger(logger *slog.Logger) PipelineOption {
	return func(p *ImportPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProgress は進捗コールバックを設定する
func WithProgress(fn ProgressFunc) PipelineOption {
	return func(p *ImportPipeline) {
		p.progress = fn
	}
}

// NewImportPipeline は新しい ImportPipeline を作成する
func NewImportPipeline(
	store Store,
	normalizer TextNormalizer,
	embedder Embedder,
	extractor ProfileExtractor,
	files FileSource,
	opts ...PipelineOption,
) *ImportPipeline {
	p := &ImportPipeline{
		store:      store,
		normalizer: normalizer,
		embedder:   embedder,
		extractor:  extractor,
		files:      files,
		config:     DefaultPipelineConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ImportOne は1ファイルを取り込む
// 重複内容の場合は Embedding やLLM呼び出しの前にスキップする
func (p *ImportPipeline) ImportOne(ctx context.Context, path string, opts ImportOptions) ImportResult {
	start := time.Now()
	result := p.importOne(ctx, path, opts)
	result.Duration = time.Since(start)

	switch result.Status {
	case StatusFailed:
		p.logger.Warn("履歴書の取り込みに失敗", "path", result.SourcePath, "reason", result.Reason)
	case StatusSkippedDuplicate:
		p.logger.Debug("重複のためスキップ", "path", result.SourcePath, "reason", result.Reason)
	default:
		p.logger.Debug("履歴書を処理",
			"path", result.SourcePath,
			"status", result.Status,
			"id", result.RecordID,
			"profileFailed", result.ProfileFailed,
			"duration", result.Duration,
		)
	}
	return result
}

func (p *ImportPipeline) importOne(ctx context.Context, path string, opts ImportOptions) ImportResult {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	result := ImportResult{SourcePath: absPath}

	data, err := p.readFile(absPath)
	if err != nil {
		return failed(result, err.Error())
	}

	// 1. テキスト抽出
	mimeHint := p.normalizer.DetectMIME(absPath, data)
	rawText, err := p.normalizer.Extract(ctx, data, mimeHint)
	if err != nil {
		return failed(result, err.Error())
	}
	if strings.TrimSpace(rawText) == "" {
		return failed(result, "no text extracted")
	}

	// 2. 正規化テキストのハッシュ
	result.ContentHash = profile.ContentHash(rawText)

	// 3. 重複チェック
	if !opts.Force {
		existing, err := p.store.FindByHash(ctx, result.ContentHash)
		if err != nil {
			return failed(result, fmt.Sprintf("duplicate check failed: %v", err))
		}
		if rec, ok := existing.Get(); ok {
			result.Status = StatusSkippedDuplicate
			result.RecordID = rec.ID
			result.Reason = fmt.Sprintf("duplicate content of %s", rec.SourcePath)
			return result
		}

		// 内容が変わっていても同じパスは --force なしでは置き換えない
		existingID, err := p.store.FindIDBySourcePath(ctx, absPath)
		if err != nil {
			return failed(result, fmt.Sprintf("source path check failed: %v", err))
		}
		if id, ok := existingID.Get(); ok {
			return skippedSourcePath(result, id)
		}
	}

	if opts.DryRun {
		result.Status = StatusWouldImport
		return result
	}

	// 4. クリーニング
	cleanedText := p.normalizer.Clean(rawText)

	rec := &profile.Record{
		SourcePath:  absPath,
		FileName:    filepath.Base(absPath),
		ContentHash: result.ContentHash,
		RawText:     mo.Some(rawText),
		CleanedText: mo.Some(cleanedText),
	}

	// 5. Embedding 生成 (失敗しても埋め込みなしで保存する)
	vector, embedErr := p.embed(ctx, cleanedText)
	if embedErr != nil {
		result.EmbeddingFailed = true
	} else {
		rec.Embedding = mo.Some(vector)
	}

	// 6. プロフィール抽出 (失敗時はプロフィールなし)
	extracted, extractErr := p.extractProfile(ctx, cleanedText)
	if extractErr != nil {
		result.ProfileFailed = true
		p.logger.Warn("プロフィール抽出に失敗", "path", absPath, "error", extractErr)
	} else {
		rec.Profile = mo.Some(extracted)
	}

	// 7. 保存
	upserted, err := p.store.Upsert(ctx, rec, opts.Force)
	if err != nil {
		return failed(result, fmt.Sprintf("store failed: %v", err))
	}
	result.RecordID = upserted.ID

	if upserted.Outcome == profile.UpsertAlreadyPresent {
		return skippedSourcePath(result, upserted.ID)
	}

	if embedErr != nil {
		return failed(result, embedErr.Error())
	}

	result.Status = StatusImported
	return result
}

func skippedSourcePath(result ImportResult, id int64) ImportResult {
	result.Status = StatusSkippedDuplicate
	result.RecordID = id
	result.Reason = "source path already imported"
	return result
}

func (p *ImportPipeline) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > p.config.MaxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (p *ImportPipeline) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.EmbedTimeout)
	defer cancel()

	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", embedding.ErrUnavailable, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty vector", embedding.ErrUnavailable)
	}
	return vector, nil
}

func (p *ImportPipeline) extractProfile(ctx context.Context, text string) (profile.StructuredProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.ExtractTimeout)
	defer cancel()

	return p.extractor.ExtractProfile(ctx, text)
}

// ImportDirectory はディレクトリ配下の履歴書を並列に取り込む
// 個々のファイルの失敗はバッチ全体を止めず、結果に記録される
func (p *ImportPipeline) ImportDirectory(ctx context.Context, dir string, opts DirectoryOptions) (*BatchResult, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	batch := &BatchResult{
		RunID:     uuid.New(),
		Root:      root,
		StartedAt: time.Now(),
	}
	logger := p.logger.With("runID", batch.RunID)

	if opts.SyncDeleted || opts.OnlySync {
		removed, err := p.SyncDeleted(ctx, root, opts.DryRun)
		if err != nil {
			return nil, err
		}
		batch.Removed = removed
	}
	if opts.OnlySync {
		batch.FinishedAt = time.Now()
		return batch, nil
	}

	files, err := p.files.Discover(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	batch.Discovered = len(files)
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = p.config.Workers
	}
	if workers > len(files) {
		workers = len(files)
	}

	logger.Info("履歴書の取り込みを開始",
		"root", root,
		"files", len(files),
		"workers", workers,
		"force", opts.Force,
		"dryRun", opts.DryRun,
	)

	items := p.runWorkers(ctx, files, workers, ImportOptions{Force: opts.Force, DryRun: opts.DryRun})
	for _, item := range items {
		batch.add(item)
	}
	batch.FinishedAt = time.Now()

	logger.Info("履歴書の取り込みが完了",
		"imported", batch.Imported,
		"skippedDuplicate", batch.SkippedDuplicate,
		"failed", batch.Failed,
		"wouldImport", batch.WouldImport,
		"removed", batch.Removed,
		"duration", batch.FinishedAt.Sub(batch.StartedAt),
	)
	return batch, nil
}

// runWorkers はファイルをワーカーに分配し、入力順に並んだ結果を返す
func (p *ImportPipeline) runWorkers(ctx context.Context, files []string, workers int, opts ImportOptions) []ImportResult {
	items := make([]ImportResult, len(files))
	processed := make([]bool, len(files))
	jobs := make(chan int)
	var done atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				items[idx] = p.ImportOne(ctx, files[idx], opts)
				processed[idx] = true
				n := done.Add(1)
				if p.progress != nil {
					p.progress(int(n), len(files), items[idx])
				}
			}
		}()
	}

feed:
	for idx := range files {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for idx, ok := range processed {
		if !ok {
			items[idx] = failed(ImportResult{SourcePath: files[idx]}, fmt.Sprintf("canceled: %v", ctx.Err()))
		}
	}
	return items
}

// SyncDeleted は root 配下でディスクから消えたファイルのレコードを削除し、削除件数を返す
func (p *ImportPipeline) SyncDeleted(ctx context.Context, root string, dryRun bool) (int, error) {
	paths, err := p.store.ListSourcePaths(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list source paths: %w", err)
	}

	var missing []string
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, path)
		}
	}

	if len(missing) == 0 {
		return 0, nil
	}
	if dryRun {
		p.logger.Info("削除済みファイルのレコードを検出", "count", len(missing), "dryRun", true)
		return len(missing), nil
	}

	removed, err := p.store.DeleteBySourcePaths(ctx, missing)
	if err != nil {
		return 0, fmt.Errorf("failed to delete missing records: %w", err)
	}
	p.logger.Info("削除済みファイルのレコードを削除", "count", removed)
	return removed, nil
}

func failed(result ImportResult, reason string) ImportResult {
	result.Status = StatusFailed
	result.Reason = reason
	return result
}
