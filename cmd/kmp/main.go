package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"kmp.org/internal/auth"
	"kmp.org/internal/config"
	"kmp.org/internal/obs"
)

const programName = "kmp"

var (
	version = "dev"
	commit  = "none"
)

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func slogPrintf(format string, v ...any) {
	obs.Logger().Info(fmt.Sprintf(format, v...), "component", programName)
}

// commonRun configures logging and GOMAXPROCS from cfg.
func commonRun(cfg *config.Config) error {
	level := cfg.LogLevel
	if globalFlags.debug {
		level = "debug"
	}
	logger, err := obs.NewLogger(os.Stdout, level)
	if err != nil {
		return err
	}
	obs.SetLogger(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		return fmt.Errorf("set GOMAXPROCS: %w", err)
	}
	return nil
}

// memberTokens builds the bearer token signer from cfg.
func memberTokens(cfg *config.Config) (*auth.Tokens, error) {
	tokens, err := auth.NewTokens(cfg.AuthSecret, auth.WithIssuer(cfg.TokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w (set KMP_AUTH_SECRET or authSecret)", err)
	}
	return tokens, nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", programName, version, commit)
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Activity authorization workflow service",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := commonRun(cfg); err != nil {
			return err
		}
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	rootCmd.AddCommand(
		serveCommand(),
		migrateCommand(),
		expireCommand(),
		loadCommand(),
		tokenCommand(),
		versionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Debug("command failed", "error", err)
		os.Exit(1)
	}
}
