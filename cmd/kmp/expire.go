package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"kmp.org/internal/activities"
	"kmp.org/internal/config"
	"kmp.org/internal/notify"
	"kmp.org/internal/obs"
)

// expireCommand persists the expired status of lapsed grants. Reads already
// classify them, so this only keeps stored rows tidy.
func expireCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Mark approved authorizations past their expiry as expired",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			b, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.close()

			svc, err := activities.NewService(b.store, notify.NewLogSender(obs.Logger()),
				activities.WithConfig(cfg.Workflow),
				activities.WithLogger(obs.Logger()),
			)
			if err != nil {
				return err
			}
			n, err := svc.ExpireLapsed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d authorizations\n", n)
			return nil
		},
	}
}
