package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"freightaudit/internal/config"
	"freightaudit/internal/db"
	"freightaudit/internal/notify"
	"freightaudit/internal/store"
)

func tariffsCmd(root *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "tariffs",
		Short: "Manage tariffs stored in Postgres",
	}
	c.AddCommand(tariffsImportCmd(root))
	return c
}

func tariffsImportCmd(root *rootOptions) *cobra.Command {
	var tariffsPath string
	var noRefresh bool

	c := &cobra.Command{
		Use:   "import",
		Short: "Validate a YAML tariff file and replace the matching tariffs in the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, tariffs, err := loadTariffFile(cmd, tariffsPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, 0)
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer pool.Close()
			st := store.New(pool)
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			if err := st.ReplaceTariffs(ctx, tariffs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d tariff(s), %d lane(s)\n", len(tariffs), laneCount(tariffs))

			if noRefresh || cfg.RedisAddr == "" {
				return nil
			}
			rn, err := notify.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TariffRefreshChannel, root.logger())
			if err != nil {
				return err
			}
			defer func() { _ = rn.Close() }()
			if err := rn.PublishRefresh(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "refresh broadcast to API instances")
			return nil
		},
	}

	c.Flags().StringVarP(&tariffsPath, "tariffs", "t", "", "Tariff YAML file (required)")
	c.Flags().BoolVar(&noRefresh, "no-refresh", false, "Skip the cache refresh broadcast")
	_ = c.MarkFlagRequired("tariffs")
	return c
}
