package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kmp.org/internal/config"
	"kmp.org/internal/migrate"
	"kmp.org/internal/store/pg"
)

func migrateCommand() *cobra.Command {
	var (
		seedsPath string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status|seed]",
		Short:     "Manage the PostgreSQL schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "seed"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil || cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate requires store: postgres")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := pg.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer store.Close()

			var opts []migrate.Option
			if seedsPath != "" {
				opts = append(opts, migrate.WithSeeds(os.DirFS(seedsPath)))
			}
			mgr := migrate.NewManager(store.DB(), nil, opts...)
			out := cmd.OutOrStdout()

			switch args[0] {
			case "up":
				applied, err := mgr.Up(ctx)
				for _, name := range applied {
					fmt.Fprintln(out, "applied", name)
				}
				return err
			case "down":
				name, err := mgr.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "rolled back", name)
			case "status":
				history, err := mgr.Status(ctx)
				if err != nil {
					return err
				}
				for _, name := range history {
					fmt.Fprintln(out, name)
				}
			case "seed":
				applied, err := mgr.Seed(ctx)
				for _, name := range applied {
					fmt.Fprintln(out, "seeded", name)
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&seedsPath, "seeds", "", "directory of SQL seed files")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	return cmd
}
