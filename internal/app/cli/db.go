package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/resume-matcher/internal/platform/config"
	"github.com/jinford/resume-matcher/internal/platform/container"
	"github.com/urfave/cli/v3"
)

// DBMigrateAction はスキーマを適用するコマンドのアクション
func DBMigrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := LoadConfig(cmd.String("env"))
	if err != nil {
		return err
	}
	if cfg.Store.Backend != config.StoreBackendPostgres {
		return errors.New("db migrate は STORE_BACKEND=postgres の場合のみ使用できます")
	}

	db, err := container.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("スキーマ適用に失敗しました", "error", err)
		return err
	}

	fmt.Fprintln(output(cmd), "スキーマを適用しました")
	return nil
}
