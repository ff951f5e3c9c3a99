package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "WARDEN_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention WARDEN_SECTION_FIELD (e.g., WARDEN_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envInt64("SERVER_MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)

	// Policy overrides
	envString("POLICY_SOURCE", &cfg.Policy.Source)
	envString("POLICY_FILE_PATH", &cfg.Policy.FilePath)
	envBool("POLICY_WATCH", &cfg.Policy.Watch)
	envString("POLICY_ADMIN_ROLE", &cfg.Policy.AdminRole)
	envString("POLICY_GIT_REPOSITORY", &cfg.Policy.Git.Repository)
	envString("POLICY_GIT_BRANCH", &cfg.Policy.Git.Branch)
	envString("POLICY_GIT_PATH", &cfg.Policy.Git.Path)
	envString("POLICY_GIT_AUTH_TYPE", &cfg.Policy.Git.Auth.Type)
	envString("POLICY_GIT_AUTH_TOKEN", &cfg.Policy.Git.Auth.Token)
	envString("POLICY_GIT_AUTH_SSH_KEY_PATH", &cfg.Policy.Git.Auth.SSHKeyPath)
	envString("POLICY_GIT_AUTH_SSH_KEY_PASSPHRASE", &cfg.Policy.Git.Auth.SSHKeyPassphrase)
	envBool("POLICY_GIT_POLL_ENABLED", &cfg.Policy.Git.Poll.Enabled)
	envDuration("POLICY_GIT_POLL_INTERVAL", &cfg.Policy.Git.Poll.Interval)

	// Data store overrides
	envString("DATASTORE_DRIVER", &cfg.DataStore.Driver)
	envString("DATASTORE_DSN", &cfg.DataStore.DSN)
	envInt("DATASTORE_MAX_OPEN_CONNS", &cfg.DataStore.MaxOpenConns)

	// Execution overrides
	envDuration("EXECUTION_TIMEOUT", &cfg.Execution.Timeout)
	envInt64("EXECUTION_IMPACT_THRESHOLD", &cfg.Execution.ImpactThreshold)
	envInt("EXECUTION_MAX_READ_ROWS", &cfg.Execution.MaxReadRows)
	envInt("EXECUTION_READ_RETRY_MAX_ATTEMPTS", &cfg.Execution.ReadRetry.MaxAttempts)

	// Ledger overrides
	envString("LEDGER_BACKEND", &cfg.Ledger.Backend)
	envString("LEDGER_SQLITE_PATH", &cfg.Ledger.SQLite.Path)
	envInt("LEDGER_PAGE_SIZE", &cfg.Ledger.PageSize)
	envBoolPtr("LEDGER_RECORD_VALIDATIONS", &cfg.Ledger.RecordValidations)
	envBool("LEDGER_VERIFY_ENABLED", &cfg.Ledger.Verify.Enabled)
	envString("LEDGER_VERIFY_SCHEDULE", &cfg.Ledger.Verify.Schedule)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBoolPtr("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(key string, dst *int64) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(key string, dst **bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}
