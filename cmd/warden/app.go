package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/audit/storage"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/execution"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/policy/source"
	"mercator-hq/warden/pkg/service"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/telemetry/tracing"
	"mercator-hq/warden/pkg/validation"
)

const sourceGit = "git"

// app holds the components built from configuration.
type app struct {
	cfg      *config.Config
	tracer   *tracing.Tracer
	metrics  *metrics.Collector
	store    *policy.Store
	source   policy.Source
	data     *execution.DataStore
	executor *execution.Engine
	ledger   audit.Ledger
	svc      *service.Service
	logger   *slog.Logger
}

// newApp opens every component and loads the initial policy. On error the
// components opened so far are closed.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		store:  policy.NewStore(),
		logger: slog.Default().With("component", "app"),
	}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.Background()); closeErr != nil {
				a.logger.Warn("failed to release components", "error", closeErr)
			}
		}
	}()

	if a.tracer, err = tracing.New(&cfg.Telemetry.Tracing, Version); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if cfg.Telemetry.Metrics.IsEnabled() {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, registry)
	}

	if a.source, err = openSource(ctx, &cfg.Policy); err != nil {
		return nil, err
	}

	if a.data, err = execution.Open(&cfg.DataStore); err != nil {
		return nil, fmt.Errorf("failed to open data store: %w", err)
	}
	a.executor = execution.NewEngine(a.data, &cfg.Execution)
	if a.ledger, err = storage.Open(&cfg.Ledger); err != nil {
		return nil, fmt.Errorf("failed to open audit ledger: %w", err)
	}

	// The service registers its swap hook before the first load so the
	// active policy gauge is set from the start.
	a.svc, err = service.New(service.Options{
		Store:             a.store,
		Validator:         validation.NewEngine(a.store),
		Executor:          a.executor,
		Ledger:            a.ledger,
		Source:            a.source,
		Metrics:           a.metrics,
		Tracer:            a.tracer,
		AdminRole:         cfg.Policy.AdminRole,
		MaxQueryLimit:     cfg.Ledger.MaxQueryLimit,
		RecordValidations: cfg.Ledger.RecordsValidations(),
	})
	if err != nil {
		return nil, err
	}

	p, err := a.store.Reload(ctx, a.source)
	if err != nil {
		a.recordReload("failure")
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	a.recordReload("success")
	a.logger.Info("policy loaded",
		"source", a.source.Name(),
		"policy_version", p.Revision(),
		"roles", len(p.Roles),
		"safety_rules", len(p.SafetyRules),
	)
	return a, nil
}

func openSource(ctx context.Context, cfg *config.PolicyConfig) (policy.Source, error) {
	if cfg.Source != sourceGit {
		return source.NewFileSource(cfg.FilePath), nil
	}
	gs, err := source.NewGitSource(&cfg.Git)
	if err != nil {
		return nil, fmt.Errorf("failed to create git policy source: %w", err)
	}
	if err := gs.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open policy repository: %w", err)
	}
	return gs, nil
}

// reloadFromSource re-reads the configured source. A rejected document
// leaves the active policy in place.
func (a *app) reloadFromSource(ctx context.Context) error {
	p, err := a.store.Reload(ctx, a.source)
	if err != nil {
		a.recordReload("failure")
		a.logger.Error("policy reload failed, keeping active policy",
			"source", a.source.Name(),
			"error", err,
		)
		return err
	}
	a.recordReload("success")
	a.logger.Info("policy reloaded",
		"source", a.source.Name(),
		"policy_version", p.Revision(),
	)
	return nil
}

func (a *app) recordReload(result string) {
	if a.metrics != nil {
		a.metrics.RecordPolicyReload(a.cfg.Policy.Source, result)
	}
}

// Close releases every opened component.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	// In-flight executions finish before their data store and ledger close.
	if a.executor != nil {
		if err := a.executor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("execution engine: %w", err))
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}
	if a.data != nil {
		if err := a.data.Close(); err != nil {
			errs = append(errs, fmt.Errorf("data store: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	return errors.Join(errs...)
}
