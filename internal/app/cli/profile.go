package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/urfave/cli/v3"
)

// InfoAction はストアの統計を表示するコマンドのアクション
func InfoAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.ProfileService.Stats(ctx)
	if err != nil {
		return err
	}

	w := output(cmd)
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintln(w, "履歴書データベース情報")
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "ストア:           %s\n", appCtx.Config.Store.Backend)
	fmt.Fprintf(w, "履歴書総数:       %d\n", stats.Total)
	fmt.Fprintf(w, "Embedding あり:   %d\n", stats.WithEmbedding)
	fmt.Fprintf(w, "プロフィールあり: %d\n", stats.WithProfile)
	fmt.Fprintf(w, "重複 (余剰):      %d\n", stats.DuplicateExtra)
	fmt.Fprintf(w, "LLM:              %s\n", llmStatus(appCtx))
	fmt.Fprintln(w, strings.Repeat("=", 40))
	return nil
}

func llmStatus(appCtx *AppContext) string {
	if !appCtx.Container.LLMAvailable {
		return "未構成"
	}
	return fmt.Sprintf("%s (%s)", appCtx.Config.LLM.Provider, appCtx.Container.RateLimiterStatus())
}

// ProfileListAction はプロフィール一覧を表示するコマンドのアクション
func ProfileListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	records, total, err := appCtx.Container.ProfileService.List(ctx, profile.ListParams{
		Search: cmd.String("search"),
		Limit:  cmd.Int("limit"),
		Offset: cmd.Int("offset"),
	})
	if err != nil {
		return err
	}

	w := output(cmd)
	fmt.Fprintf(w, "%d 件中 %d 件\n", total, len(records))
	for _, rec := range records {
		fmt.Fprintf(w, "%6d  %-30s %s\n", rec.ID, recordName(rec), rec.SourcePath)
	}
	return nil
}

// ProfileShowAction はプロフィール詳細を表示するコマンドのアクション
func ProfileShowAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Int64("id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	rec, err := appCtx.Container.ProfileService.Get(ctx, id)
	if err != nil {
		return err
	}

	w := output(cmd)
	if cmd.Bool("json") {
		return writeRecordJSON(w, rec)
	}
	printRecord(w, rec)
	return nil
}

// ProfileDeleteAction はプロフィールを削除するコマンドのアクション
func ProfileDeleteAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Int64("id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	deleted, err := appCtx.Container.ProfileService.Delete(ctx, id)
	if err != nil {
		slog.Error("プロフィールの削除に失敗しました", "id", id, "error", err)
		return err
	}

	w := output(cmd)
	if deleted {
		fmt.Fprintf(w, "プロフィール %d を削除しました\n", id)
	} else {
		fmt.Fprintf(w, "プロフィール %d は存在しません\n", id)
	}
	return nil
}

func recordName(rec *profile.Record) string {
	if p, ok := rec.Profile.Get(); ok && p.Name != "" {
		return p.Name
	}
	return rec.FileName
}

func printRecord(w io.Writer, rec *profile.Record) {
	fmt.Fprintf(w, "ID:           %d\n", rec.ID)
	fmt.Fprintf(w, "ファイル:     %s\n", rec.SourcePath)
	fmt.Fprintf(w, "ハッシュ:     %s\n", rec.ContentHash)
	fmt.Fprintf(w, "Embedding:    %t\n", rec.HasEmbedding())
	fmt.Fprintf(w, "登録日時:     %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "更新日時:     %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))

	p, ok := rec.Profile.Get()
	if !ok {
		fmt.Fprintln(w, "プロフィール: なし")
		return
	}
	fmt.Fprintf(w, "氏名:         %s\n", p.DisplayName())
	fields := []struct{ label, value string }{
		{"役職", p.Position},
		{"メール", p.Email},
		{"電話", p.Phone},
		{"所在地", p.Location},
		{"LinkedIn", p.LinkedIn},
		{"GitHub", p.GitHub},
	}
	for _, f := range fields {
		if f.value != "" {
			fmt.Fprintf(w, "%s: %s\n", f.label, f.value)
		}
	}
	if p.YearsExperience != nil {
		fmt.Fprintf(w, "経験年数: %d\n", *p.YearsExperience)
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(w, "スキル: %s\n", strings.Join(p.Skills, ", "))
	}
	if len(p.Languages) > 0 {
		fmt.Fprintf(w, "言語: %s\n", strings.Join(p.Languages, ", "))
	}
	if p.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", p.Summary)
	}
}

type recordJSON struct {
	ID           int64                      `json:"id"`
	SourcePath   string                     `json:"source_path"`
	FileName     string                     `json:"file_name"`
	ContentHash  string                     `json:"content_hash"`
	HasEmbedding bool                       `json:"has_embedding"`
	Profile      *profile.StructuredProfile `json:"profile"`
	CreatedAt    string                     `json:"created_at"`
	UpdatedAt    string                     `json:"updated_at"`
}

func writeRecordJSON(w io.Writer, rec *profile.Record) error {
	out := recordJSON{
		ID:           rec.ID,
		SourcePath:   rec.SourcePath,
		FileName:     rec.FileName,
		ContentHash:  rec.ContentHash,
		HasEmbedding: rec.HasEmbedding(),
		CreatedAt:    rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if p, ok := rec.Profile.Get(); ok {
		out.Profile = &p
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}
