package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yourusername/okr-club/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "okr-club",
		Short: "okr-club は目標（Objective）と達成条件を管理する API サーバーです",
		// サブコマンド無しで起動した場合はサーバーを起動する
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newUserCmd())
	return root
}

// setup は設定を読み込み、JSON ロガーを作成します。
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := slog.LevelInfo
	if cfg.GinMode == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}
