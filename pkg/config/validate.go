package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validatePolicy(&cfg.Policy)...)
	errs = append(errs, validateDataStore(&cfg.DataStore)...)
	errs = append(errs, validateExecution(&cfg.Execution)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes must be non-negative"})
	}
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls", Message: "cert_file and key_file are required when TLS is enabled"})
		}
		switch cfg.TLS.MinVersion {
		case "1.2", "1.3":
		default:
			errs = append(errs, FieldError{Field: "server.tls.min_version", Message: fmt.Sprintf("unsupported version %q (want 1.2 or 1.3)", cfg.TLS.MinVersion)})
		}
		if cfg.TLS.ReloadInterval <= 0 {
			errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "reload interval must be positive"})
		}
	}

	return errs
}

func validatePolicy(cfg *PolicyConfig) []FieldError {
	var errs []FieldError

	switch cfg.Source {
	case "file":
		if cfg.FilePath == "" {
			errs = append(errs, FieldError{Field: "policy.file_path", Message: "file path is required when source is file"})
		}
	case "git":
		if cfg.Git.Repository == "" {
			errs = append(errs, FieldError{Field: "policy.git.repository", Message: "repository is required when source is git"})
		}
		switch cfg.Git.Auth.Type {
		case "none":
		case "token":
			if cfg.Git.Auth.Token == "" {
				errs = append(errs, FieldError{Field: "policy.git.auth.token", Message: "token is required for token auth"})
			}
		case "ssh":
			if cfg.Git.Auth.SSHKeyPath == "" {
				errs = append(errs, FieldError{Field: "policy.git.auth.ssh_key_path", Message: "ssh key path is required for ssh auth"})
			}
		default:
			errs = append(errs, FieldError{Field: "policy.git.auth.type", Message: fmt.Sprintf("unknown auth type %q (must be none, token or ssh)", cfg.Git.Auth.Type)})
		}
		if cfg.Git.Poll.Enabled && cfg.Git.Poll.Interval <= 0 {
			errs = append(errs, FieldError{Field: "policy.git.poll.interval", Message: "poll interval must be positive"})
		}
	default:
		errs = append(errs, FieldError{Field: "policy.source", Message: fmt.Sprintf("unknown source %q (must be file or git)", cfg.Source)})
	}

	if cfg.AdminRole == "" {
		errs = append(errs, FieldError{Field: "policy.admin_role", Message: "admin role is required"})
	}
	if cfg.DebounceInterval < 0 {
		errs = append(errs, FieldError{Field: "policy.debounce_interval", Message: "debounce interval must be non-negative"})
	}

	return errs
}

func validateDataStore(cfg *DataStoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "sqlite", "sqlite3", "pgx":
	default:
		errs = append(errs, FieldError{Field: "datastore.driver", Message: fmt.Sprintf("unknown driver %q (must be sqlite, sqlite3 or pgx)", cfg.Driver)})
	}
	if cfg.DSN == "" {
		errs = append(errs, FieldError{Field: "datastore.dsn", Message: "dsn is required"})
	}
	if cfg.MaxOpenConns < 0 {
		errs = append(errs, FieldError{Field: "datastore.max_open_conns", Message: "must be non-negative"})
	}

	return errs
}

func validateExecution(cfg *ExecutionConfig) []FieldError {
	var errs []FieldError

	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "execution.timeout", Message: "timeout must be positive"})
	}
	if cfg.ImpactThreshold < 0 {
		errs = append(errs, FieldError{Field: "execution.impact_threshold", Message: "impact threshold must be non-negative"})
	}
	if cfg.MaxReadRows < 0 {
		errs = append(errs, FieldError{Field: "execution.max_read_rows", Message: "max read rows must be non-negative"})
	}
	if cfg.ReadRetry.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "execution.read_retry.max_attempts", Message: "max attempts must be at least 1"})
	}
	if cfg.ReadRetry.MaxInterval < cfg.ReadRetry.InitialInterval {
		errs = append(errs, FieldError{Field: "execution.read_retry.max_interval", Message: "max interval must not be less than initial interval"})
	}

	return errs
}

func validateLedger(cfg *LedgerConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "ledger.sqlite.path", Message: "path is required for the sqlite backend"})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{Field: "ledger.backend", Message: fmt.Sprintf("unknown backend %q (must be sqlite or memory)", cfg.Backend)})
	}
	if cfg.PageSize <= 0 {
		errs = append(errs, FieldError{Field: "ledger.page_size", Message: "page size must be positive"})
	}
	if cfg.MaxQueryLimit <= 0 {
		errs = append(errs, FieldError{Field: "ledger.max_query_limit", Message: "max query limit must be positive"})
	}
	if cfg.Verify.Enabled {
		if _, err := cron.ParseStandard(cfg.Verify.Schedule); err != nil {
			errs = append(errs, FieldError{Field: "ledger.verify.schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("invalid level %q", cfg.Logging.Level)})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("invalid format %q", cfg.Logging.Format)})
	}
	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
	}
	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("invalid sampler %q", cfg.Tracing.Sampler)})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0 and 1"})
		}
	}

	return errs
}
