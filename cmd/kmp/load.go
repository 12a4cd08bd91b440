package main

import (
	"errors"

	"github.com/spf13/cobra"

	"kmp.org/internal/config"
)

func loadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <directory.yaml>",
		Short: "Import members and activities into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			if cfg.Store == config.StoreMemory {
				return errors.New("load has no effect on the memory store; use serve --directory")
			}
			b, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.close()
			return b.loadDirectory(cmd.Context(), args[0])
		},
	}
}
