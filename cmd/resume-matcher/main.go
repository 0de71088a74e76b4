package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	appcli "github.com/jinford/resume-matcher/internal/app/cli"
	"github.com/urfave/cli/v3"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "resume-matcher",
		Usage: "履歴書の取り込みと求人へのマッチングを行うツール",
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "履歴書をディレクトリまたはファイルから取り込む",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"d"},
						Usage:   "履歴書ディレクトリ",
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "単一の履歴書ファイル",
					},
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "並列数（省略時は IMPORT_WORKERS）",
					},
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "重複チェックを無視して再取り込み",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "書き込みを行わずに判定のみ実行",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Usage:   "取り込むファイル数の上限",
					},
					&cli.BoolFlag{
						Name:  "sync",
						Usage: "ディスクから消えたファイルのレコードも削除",
					},
					&cli.BoolFlag{
						Name:  "only-sync",
						Usage: "削除の同期のみ行い取り込みはしない",
					},
				},
				Action: appcli.ImportAction,
			},
			{
				Name:  "match",
				Usage: "求人に合う履歴書を検索",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:    "vacancy",
						Aliases: []string{"v"},
						Usage:   "求人ファイル（PDF, DOCX, TXT）",
					},
					&cli.StringFlag{
						Name:    "text",
						Aliases: []string{"t"},
						Usage:   "求人テキスト",
					},
					&cli.IntFlag{
						Name:    "top",
						Aliases: []string{"n"},
						Usage:   "返却件数（省略時は MATCH_TOP_N）",
					},
					&cli.IntFlag{
						Name:  "candidates",
						Usage: "リランク用に取得する候補数（省略時は MATCH_CANDIDATES）",
					},
					&cli.FloatFlag{
						Name:  "min-score",
						Usage: "最小スコア (0-100)",
					},
					&cli.FloatFlag{
						Name:  "max-score",
						Usage: "最大スコア (0-100)",
					},
					&cli.StringFlag{
						Name:  "score-range",
						Usage: "スコア範囲 (例: 80-100)",
					},
					&cli.BoolFlag{
						Name:  "llm",
						Usage: "LLMでリランクする",
					},
					&cli.StringFlag{
						Name:  "lang",
						Usage: "評価コメントの言語 (en/ru)",
						Value: "en",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "JSON形式で出力",
					},
				},
				Action: appcli.MatchAction,
			},
			{
				Name:   "info",
				Usage:  "ストアの統計を表示",
				Flags:  []cli.Flag{envFlag()},
				Action: appcli.InfoAction,
			},
			{
				Name:  "profile",
				Usage: "プロフィール管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "プロフィール一覧を表示",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "search",
								Usage: "ファイル名・プロフィールの部分一致検索",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "表示件数",
								Value: 20,
							},
							&cli.IntFlag{
								Name:  "offset",
								Usage: "開始位置",
							},
						},
						Action: appcli.ProfileListAction,
					},
					{
						Name:  "show",
						Usage: "プロフィール詳細を表示",
						Flags: []cli.Flag{
							envFlag(),
							&cli.Int64Flag{
								Name:     "id",
								Usage:    "プロフィールID",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "json",
								Usage: "JSON形式で出力",
							},
						},
						Action: appcli.ProfileShowAction,
					},
					{
						Name:  "delete",
						Usage: "プロフィールを削除",
						Flags: []cli.Flag{
							envFlag(),
							&cli.Int64Flag{
								Name:     "id",
								Usage:    "プロフィールID",
								Required: true,
							},
						},
						Action: appcli.ProfileDeleteAction,
					},
				},
			},
			{
				Name:  "duplicates",
				Usage: "重複履歴書の管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "同一内容の履歴書グループを表示",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.DuplicatesListAction,
					},
					{
						Name:  "clean",
						Usage: "重複グループを1件に整理",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "keep",
								Usage: "残すレコード (newest/oldest)",
								Value: "newest",
							},
							&cli.BoolFlag{
								Name:  "dry-run",
								Usage: "削除せずに対象を表示（無効化するには --dry-run=false）",
								Value: true,
							},
						},
						Action: appcli.DuplicatesCleanAction,
					},
				},
			},
			{
				Name:  "db",
				Usage: "データベース管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "migrate",
						Usage:  "スキーマを適用",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.DBMigrateAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
