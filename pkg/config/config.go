package config

import "time"

// Config is the root configuration structure for Warden.
// It contains all configuration sections for the HTTP server, the policy
// source, the governed data store, the execution engine, the audit ledger and
// telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts and the headers that carry the caller identity.
	Server ServerConfig `yaml:"server"`

	// Policy contains the policy source (file or git), hot-reload settings
	// and the role allowed to replace the policy.
	Policy PolicyConfig `yaml:"policy"`

	// DataStore configures the database that approved plans execute against.
	DataStore DataStoreConfig `yaml:"datastore"`

	// Execution contains execution engine limits: timeout, impact guard,
	// read retry and read row cap.
	Execution ExecutionConfig `yaml:"execution"`

	// Ledger configures the audit ledger backend and its verification schedule.
	Ledger LedgerConfig `yaml:"ledger"`

	// Telemetry contains configuration for logging, metrics, tracing and
	// health checks.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. It should exceed execution.timeout.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes limits request bodies (plans and policy documents).
	// Default: 1MB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ActorHeader carries the verified actor id set by the upstream gateway.
	// Default: "X-Actor-ID"
	ActorHeader string `yaml:"actor_header"`

	// RoleHeader carries the verified actor role.
	// Default: "X-Actor-Role"
	RoleHeader string `yaml:"role_header"`

	// TLS configures HTTPS for the API.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures server-side TLS. Certificates are re-read when their
// files change, so renewals do not need a restart.
type TLSConfig struct {
	// Enabled serves HTTPS instead of HTTP.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the PEM-encoded certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the PEM-encoded private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum protocol version.
	// Options: "1.2", "1.3"
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ReloadInterval is how often the certificate files are checked for
	// changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// PolicyConfig contains configuration for the policy source.
type PolicyConfig struct {
	// Source selects where the policy document comes from.
	// Options: "file", "git"
	// Default: "file"
	Source string `yaml:"source"`

	// FilePath is the policy document path when Source is "file".
	// Default: "./policy.yaml"
	FilePath string `yaml:"file_path"`

	// Watch enables hot reload when the policy file changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// DebounceInterval collapses bursts of file events into one reload.
	// Default: 200ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// AdminRole is the role allowed to replace the policy at runtime.
	// Default: "admin"
	AdminRole string `yaml:"admin_role"`

	// Git contains Git repository configuration, used when Source is "git".
	Git GitPolicyConfig `yaml:"git"`
}

// GitPolicyConfig configures Git-based policy loading.
type GitPolicyConfig struct {
	// Repository URL (HTTPS or SSH).
	// Example: "https://github.com/company/governance.git"
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path of the policy document within the repository.
	// Default: "policy.yaml"
	Path string `yaml:"path"`

	// Auth configures Git authentication.
	Auth GitAuthConfig `yaml:"auth"`

	// Poll configures change detection.
	Poll GitPollConfig `yaml:"poll"`

	// Clone configures repository cloning.
	Clone GitCloneConfig `yaml:"clone"`
}

// GitAuthConfig configures Git authentication.
type GitAuthConfig struct {
	// Type: "token", "ssh", "none"
	// Default: "none"
	Type string `yaml:"type"`

	// Token for HTTPS authentication.
	Token string `yaml:"token"`

	// SSHKeyPath for SSH authentication.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase for encrypted SSH keys.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// GitPollConfig configures change detection.
type GitPollConfig struct {
	// Enabled turns on periodic pulls. When false the policy is loaded once.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Interval between polls.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// Timeout for Git operations.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// GitCloneConfig configures repository cloning.
type GitCloneConfig struct {
	// Depth for shallow clones (0 = full clone).
	// Default: 1
	Depth int `yaml:"depth"`

	// LocalPath where the repository is cloned.
	// Default: system temp directory
	LocalPath string `yaml:"local_path"`

	// CleanOnStart removes the local clone before cloning.
	// Default: false
	CleanOnStart bool `yaml:"clean_on_start"`
}

// DataStoreConfig configures the governed database.
type DataStoreConfig struct {
	// Driver is the database/sql driver name.
	// Options: "sqlite" (modernc.org/sqlite), "sqlite3" (mattn/go-sqlite3),
	// "pgx" (PostgreSQL)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// DSN is the driver-specific data source name.
	// Default: "file:data/warden.db?_pragma=busy_timeout(5000)"
	DSN string `yaml:"dsn"`

	// MaxOpenConns caps open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns caps idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime recycles connections.
	// Default: 30m
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ExecutionConfig configures the execution engine.
type ExecutionConfig struct {
	// Timeout bounds a single execution. Exceeding it rolls back.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// ImpactThreshold is the measured row count above which an update or
	// delete fails unless the decision required justification.
	// Default: 1000
	ImpactThreshold int64 `yaml:"impact_threshold"`

	// MaxReadRows caps rows returned by a read.
	// Default: 500
	MaxReadRows int `yaml:"max_read_rows"`

	// ReadRetry configures retry of transient failures for reads.
	ReadRetry RetryConfig `yaml:"read_retry"`
}

// RetryConfig configures bounded exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// InitialInterval is the first backoff delay.
	// Default: 50ms
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps the backoff delay.
	// Default: 1s
	MaxInterval time.Duration `yaml:"max_interval"`
}

// LedgerConfig configures the audit ledger.
type LedgerConfig struct {
	// Backend selects the ledger storage.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the SQLite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// PageSize is the number of records fetched per page by lazy queries.
	// Default: 200
	PageSize int `yaml:"page_size"`

	// MaxQueryLimit caps the number of records returned by one audit query.
	// Default: 10000
	MaxQueryLimit int `yaml:"max_query_limit"`

	// RecordValidations records validate-only calls in the ledger.
	// Default: true
	RecordValidations *bool `yaml:"record_validations"`

	// Verify configures scheduled integrity verification.
	Verify VerifyConfig `yaml:"verify"`
}

// RecordsValidations reports whether validate calls are recorded.
func (c LedgerConfig) RecordsValidations() bool {
	return c.RecordValidations == nil || *c.RecordValidations
}

// SQLiteConfig contains configuration for the SQLite ledger backend.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`

	// MaxOpenConns caps open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns caps idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode *bool `yaml:"wal_mode"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// UsesWAL reports whether write-ahead logging is enabled.
func (c SQLiteConfig) UsesWAL() bool {
	return c.WALMode == nil || *c.WALMode
}

// VerifyConfig configures scheduled ledger verification.
type VerifyConfig struct {
	// Enabled turns on the verification schedule in serve.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Schedule is a standard cron expression.
	// Default: "0 4 * * *" (daily at 04:00)
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "warden"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "governance"
	Subsystem string `yaml:"subsystem"`
}

// IsEnabled reports whether metrics are collected.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "warden"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS to the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds span export calls.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// CheckTimeout bounds each readiness check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
