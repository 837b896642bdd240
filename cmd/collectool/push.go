package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/persist"
	"github.com/l1jgo/worldcore/internal/resource"
)

func newPushCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "push TYPE ID FILE",
		Short: "Store a resource payload in the blob database",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}
			if p := os.Getenv("WORLDCORE_CONFIG"); p != "" && !cmd.Flags().Changed("config") {
				cfgPath = p
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			db, err := persist.NewDB(ctx, cfg.Database, zap.NewNop())
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer db.Close()
			if err := persist.RunMigrations(ctx, db.Pool); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}

			key := resource.Key{Type: args[0], ID: args[1]}
			if err := persist.NewBlobRepo(db).Put(ctx, key, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%d bytes)\n", key, len(payload))
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "config/worldcore.toml", "config file with the [database] section")
	return cmd
}
