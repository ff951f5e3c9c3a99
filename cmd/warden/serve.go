package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/warden/pkg/audit/verify"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/policy/source"
	"mercator-hq/warden/pkg/server"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/logging"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Warden HTTP server",
	Long: `Start the Warden HTTP server with the specified configuration.

The server exposes validate, execute, audit query and policy reload over HTTP.
With policy.watch (file source) or policy.git.poll.enabled (git source) the
policy is reloaded when its source changes. With ledger.verify.enabled the
audit ledger is verified on the configured cron schedule.

Examples:
  # Start with defaults
  warden serve

  # Start with a config file
  warden serve --config /etc/warden/warden.yaml

  # Override listen address
  warden serve --listen 0.0.0.0:8080

  # Validate config without starting the server
  warden serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
		if err := config.Validate(cfg); err != nil {
			return cli.NewConfigError("log-level", err.Error())
		}
		if _, err := logging.Setup(cfg.Telemetry.Logging, os.Stderr); err != nil {
			return cli.NewConfigError("log-level", err.Error())
		}
	}

	if serveFlags.dryRun {
		fmt.Fprintln(commandOutput(cmd), "Configuration is valid")
		return nil
	}

	ctx, stop := cli.SignalContext(commandContext(cmd))
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer closeApp(a)

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	registerChecks(checker, a)

	opts := []server.Option{server.WithHealth(checker, Version)}
	if a.metrics != nil {
		opts = append(opts, server.WithMetrics(cfg.Telemetry.Metrics.Path, a.metrics.Handler()))
	}
	srv := server.NewServer(&cfg.Server, a.svc, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})

	switch src := a.source.(type) {
	case *source.FileSource:
		if cfg.Policy.Watch {
			g.Go(func() error {
				return src.Watch(gctx, cfg.Policy.DebounceInterval, a.reloadFromSource)
			})
		}
	case *source.GitSource:
		if cfg.Policy.Git.Poll.Enabled {
			g.Go(func() error {
				return src.Poll(gctx, a.reloadFromSource)
			})
		}
	}

	if cfg.Ledger.Verify.Enabled {
		scheduler := verify.NewScheduler(a.ledger, cfg.Ledger.Verify.Schedule, func(r *verify.Report) {
			if a.metrics != nil {
				a.metrics.RecordVerification(r.Checked, len(r.Problems))
			}
		})
		if err := scheduler.Start(gctx); err != nil {
			return cli.NewConfigError("ledger.verify.schedule", err.Error())
		}
		defer scheduler.Stop()
	}

	a.logger.Info("warden started",
		"version", Version,
		"listen_address", cfg.Server.ListenAddress,
		"policy_source", a.source.Name(),
		"ledger_backend", cfg.Ledger.Backend,
		"datastore_driver", cfg.DataStore.Driver,
	)

	if err := g.Wait(); err != nil {
		return cli.NewCommandError("serve", err)
	}
	a.logger.Info("warden stopped")
	return nil
}

func registerChecks(checker *health.Checker, a *app) {
	checker.RegisterCheck("ledger", health.PingCheck(a.ledger))
	checker.RegisterCheck("datastore", health.PingCheck(a.data))
	checker.RegisterCheck("policy", func(context.Context) error {
		_, err := a.store.Current()
		return err
	})
}
