package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	output  string
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - query governance and execution engine",
	Long: `Warden decides whether a declarative query plan may run on behalf of an
actor, executes approved plans against the governed database, and records
every decision in a tamper-evident audit ledger.

It provides:
  - Role permissions and safety rules from a versioned policy document
  - Transactional execution with impact guards and dry runs
  - A hash-chained audit ledger with query, export and verification
  - Policy hot reload from a file or a Git repository`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the status for its error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text, json")
}

// loadConfig initializes the global configuration and logging.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.MustGetConfig()

	logCfg := cfg.Telemetry.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	if _, err := logging.Setup(logCfg, os.Stderr); err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return cfg, nil
}

// actorFlags are the identity flags shared by commands that act on behalf
// of a caller.
type actorFlags struct {
	id   string
	role string
}

func (f *actorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "actor", "", "actor id the request is made on behalf of")
	cmd.Flags().StringVar(&f.role, "role", "", "role of the actor")
}

func (f *actorFlags) actor() (policy.Actor, error) {
	if f.id == "" {
		return policy.Actor{}, cli.NewConfigError("actor", "--actor is required")
	}
	if f.role == "" {
		return policy.Actor{}, cli.NewConfigError("role", "--role is required")
	}
	return policy.Actor{ID: f.id, Role: f.role}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func commandOutput(cmd *cobra.Command) io.Writer {
	if cmd != nil {
		return cmd.OutOrStdout()
	}
	return os.Stdout
}

// render writes v in the --output format.
func render(cmd *cobra.Command, v any) error {
	format, err := cli.ParseOutputFormat(output)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(commandOutput(cmd), v)
}

func closeApp(a *app) {
	if err := a.Close(context.Background()); err != nil {
		slog.Default().Warn("shutdown completed with errors", "error", err)
	}
}
