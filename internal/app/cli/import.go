package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jinford/resume-matcher/internal/core/ingestion"
	"github.com/jinford/resume-matcher/internal/platform/container"
	"github.com/urfave/cli/v3"
)

// ImportAction は履歴書の取り込みコマンドのアクション
func ImportAction(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("dir")
	file := cmd.String("file")
	envFile := cmd.String("env")

	if (dir == "") == (file == "") {
		return errors.New("--dir と --file のどちらか一方を指定してください")
	}
	if cmd.Bool("only-sync") && dir == "" {
		return errors.New("--only-sync は --dir と組み合わせて指定してください")
	}

	w := output(cmd)
	appCtx, err := NewAppContext(ctx, envFile, container.WithContainerImportProgress(progressPrinter(w)))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	pipeline := appCtx.Container.ImportPipeline

	if file != "" {
		slog.Info("履歴書の取り込みを開始", "file", file)
		result := pipeline.ImportOne(ctx, file, ingestion.ImportOptions{
			Force:  cmd.Bool("force"),
			DryRun: cmd.Bool("dry-run"),
		})
		printImportResult(w, result)
		if result.Status == ingestion.StatusFailed {
			return fmt.Errorf("取り込みに失敗: %s", result.Reason)
		}
		return nil
	}

	batch, err := pipeline.ImportDirectory(ctx, dir, ingestion.DirectoryOptions{
		Workers:     cmd.Int("workers"),
		Force:       cmd.Bool("force"),
		DryRun:      cmd.Bool("dry-run"),
		Limit:       cmd.Int("limit"),
		SyncDeleted: cmd.Bool("sync"),
		OnlySync:    cmd.Bool("only-sync"),
	})
	if err != nil {
		slog.Error("取り込みに失敗しました", "error", err)
		return err
	}

	printBatchResult(w, batch)
	return nil
}

func progressPrinter(w io.Writer) ingestion.ProgressFunc {
	return func(done, total int, result ingestion.ImportResult) {
		fmt.Fprintf(w, "[%d/%d] %-18s %s\n", done, total, result.Status, result.SourcePath)
	}
}

func printImportResult(w io.Writer, r ingestion.ImportResult) {
	fmt.Fprintf(w, "%s: %s\n", r.Status, r.SourcePath)
	if r.RecordID > 0 {
		fmt.Fprintf(w, "  ID: %d\n", r.RecordID)
	}
	if r.Reason != "" {
		fmt.Fprintf(w, "  理由: %s\n", r.Reason)
	}
	if r.ProfileFailed {
		fmt.Fprintln(w, "  警告: プロフィール抽出に失敗しました")
	}
}

func printBatchResult(w io.Writer, b *ingestion.BatchResult) {
	fmt.Fprintf(w, "\n取り込み結果 (%s)\n", b.Root)
	fmt.Fprintf(w, "  検出:         %d\n", b.Discovered)
	fmt.Fprintf(w, "  取り込み:     %d\n", b.Imported)
	fmt.Fprintf(w, "  重複スキップ: %d\n", b.SkippedDuplicate)
	if b.WouldImport > 0 {
		fmt.Fprintf(w, "  取り込み予定: %d\n", b.WouldImport)
	}
	fmt.Fprintf(w, "  失敗:         %d\n", b.Failed)
	if b.Removed > 0 {
		fmt.Fprintf(w, "  削除:         %d\n", b.Removed)
	}
	fmt.Fprintf(w, "  所要時間:     %s\n", b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond))

	if failures := b.Failures(); len(failures) > 0 {
		fmt.Fprintln(w, "\n失敗したファイル:")
		for _, f := range failures {
			fmt.Fprintf(w, "  %s: %s\n", f.SourcePath, f.Reason)
		}
	}
}
