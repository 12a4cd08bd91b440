package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kmp.org/internal/config"
)

func tokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <member-id>",
		Short: "Mint a bearer token for a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := memberTokens(config.FromContext(cmd.Context()))
			if err != nil {
				return err
			}
			token, err := tokens.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
