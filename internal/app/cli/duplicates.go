package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/urfave/cli/v3"
)

// DuplicatesListAction は同一内容の履歴書グループを表示するコマンドのアクション
func DuplicatesListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	groups, err := appCtx.Container.ProfileService.FindDuplicateGroups(ctx)
	if err != nil {
		return err
	}

	printDuplicateGroups(output(cmd), groups)
	return nil
}

// DuplicatesCleanAction は重複グループを1件に整理するコマンドのアクション
// --dry-run はデフォルトで有効
func DuplicatesCleanAction(ctx context.Context, cmd *cli.Command) error {
	keep, err := profile.ParseKeepRule(cmd.String("keep"))
	if err != nil {
		return err
	}
	dryRun := cmd.Bool("dry-run")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.ProfileService.RemoveDuplicates(ctx, keep, dryRun)
	if err != nil {
		return err
	}

	printRemovalResult(output(cmd), result, keep)
	return nil
}

func printDuplicateGroups(w io.Writer, groups []profile.DuplicateGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "重複はありません")
		return
	}
	extra := 0
	for _, g := range groups {
		fmt.Fprintf(w, "\n%s (%d 件)\n", g.ContentHash, len(g.Members))
		for _, m := range g.Members {
			fmt.Fprintf(w, "  %6d  %s  %s\n", m.ID, m.UpdatedAt.Format("2006-01-02 15:04:05"), m.SourcePath)
		}
		extra += len(g.Members) - 1
	}
	fmt.Fprintf(w, "\n%d グループ、余剰 %d 件\n", len(groups), extra)
}

func printRemovalResult(w io.Writer, result profile.RemovalResult, keep profile.KeepRule) {
	if result.Groups == 0 {
		fmt.Fprintln(w, "重複はありません")
		return
	}
	if result.DryRun {
		fmt.Fprintf(w, "[ドライラン] %d グループから %d 件を削除予定 (keep=%s)\n", result.Groups, len(result.RemovedIDs), keep)
		fmt.Fprintln(w, "実際に削除するには --dry-run=false を指定してください")
	} else {
		fmt.Fprintf(w, "%d グループから %d 件を削除しました (keep=%s)\n", result.Groups, len(result.RemovedIDs), keep)
	}
	fmt.Fprintf(w, "  残す ID:   %v\n", result.KeptIDs)
	fmt.Fprintf(w, "  削除 ID:   %v\n", result.RemovedIDs)
}
