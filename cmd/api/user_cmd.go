package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourusername/okr-club/internal/storage"
	"github.com/yourusername/okr-club/internal/user"
)

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "ユーザーを管理します",
	}
	userCmd.AddCommand(newUserAddCmd())
	return userCmd
}

func newUserAddCmd() *cobra.Command {
	var email, password, name string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "ユーザーを登録します",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			db, err := storage.Open(cfg.DatabasePath, user.Buckets()...)
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := user.NewBoltStore(db).Register(cmd.Context(), email, password, name)
			if err != nil {
				return fmt.Errorf("failed to register user: %w", err)
			}
			logger.Info("user registered", "user_id", u.ID, "email", u.Email)
			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "メールアドレス")
	cmd.Flags().StringVar(&password, "password", "", "パスワード（8文字以上）")
	cmd.Flags().StringVar(&name, "name", "", "表示名（省略時は friend）")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
