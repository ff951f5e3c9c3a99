package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = int64(1 << 20)
	DefaultActorHeader     = "X-Actor-ID"
	DefaultRoleHeader      = "X-Actor-Role"
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute

	// Policy defaults
	DefaultPolicySource           = "file"
	DefaultPolicyFilePath         = "./policy.yaml"
	DefaultPolicyDebounceInterval = 200 * time.Millisecond
	DefaultPolicyAdminRole        = "admin"
	DefaultPolicyGitBranch        = "main"
	DefaultPolicyGitPath          = "policy.yaml"
	DefaultPolicyGitAuthType      = "none"
	DefaultPolicyGitPollInterval  = 30 * time.Second
	DefaultPolicyGitPollTimeout   = 10 * time.Second
	DefaultPolicyGitCloneDepth    = 1

	// Data store defaults
	DefaultDataStoreDriver          = "sqlite"
	DefaultDataStoreDSN             = "file:data/warden.db?_pragma=busy_timeout(5000)"
	DefaultDataStoreMaxOpenConns    = 10
	DefaultDataStoreMaxIdleConns    = 5
	DefaultDataStoreConnMaxLifetime = 30 * time.Minute

	// Execution defaults
	DefaultExecutionTimeout         = 30 * time.Second
	DefaultExecutionImpactThreshold = int64(1000)
	DefaultExecutionMaxReadRows     = 500
	DefaultReadRetryMaxAttempts     = 3
	DefaultReadRetryInitialInterval = 50 * time.Millisecond
	DefaultReadRetryMaxInterval     = time.Second

	// Ledger defaults
	DefaultLedgerBackend            = "sqlite"
	DefaultLedgerSQLitePath         = "data/ledger.db"
	DefaultLedgerSQLiteMaxOpenConns = 10
	DefaultLedgerSQLiteMaxIdleConns = 5
	DefaultLedgerSQLiteBusyTimeout  = 5 * time.Second
	DefaultLedgerPageSize           = 200
	DefaultLedgerMaxQueryLimit      = 10000
	DefaultLedgerVerifySchedule     = "0 4 * * *"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "warden"
	DefaultMetricsSubsystem   = "governance"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingServiceName = "warden"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultHealthCheckTimeout = 5 * time.Second
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.ActorHeader == "" {
		cfg.Server.ActorHeader = DefaultActorHeader
	}
	if cfg.Server.RoleHeader == "" {
		cfg.Server.RoleHeader = DefaultRoleHeader
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReload
	}

	// Policy defaults
	if cfg.Policy.Source == "" {
		cfg.Policy.Source = DefaultPolicySource
	}
	if cfg.Policy.FilePath == "" {
		cfg.Policy.FilePath = DefaultPolicyFilePath
	}
	if cfg.Policy.DebounceInterval == 0 {
		cfg.Policy.DebounceInterval = DefaultPolicyDebounceInterval
	}
	if cfg.Policy.AdminRole == "" {
		cfg.Policy.AdminRole = DefaultPolicyAdminRole
	}
	applyGitDefaults(&cfg.Policy.Git)

	// Data store defaults
	if cfg.DataStore.Driver == "" {
		cfg.DataStore.Driver = DefaultDataStoreDriver
	}
	if cfg.DataStore.DSN == "" && cfg.DataStore.Driver == DefaultDataStoreDriver {
		cfg.DataStore.DSN = DefaultDataStoreDSN
	}
	if cfg.DataStore.MaxOpenConns == 0 {
		cfg.DataStore.MaxOpenConns = DefaultDataStoreMaxOpenConns
	}
	if cfg.DataStore.MaxIdleConns == 0 {
		cfg.DataStore.MaxIdleConns = DefaultDataStoreMaxIdleConns
	}
	if cfg.DataStore.ConnMaxLifetime == 0 {
		cfg.DataStore.ConnMaxLifetime = DefaultDataStoreConnMaxLifetime
	}

	// Execution defaults
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = DefaultExecutionTimeout
	}
	if cfg.Execution.ImpactThreshold == 0 {
		cfg.Execution.ImpactThreshold = DefaultExecutionImpactThreshold
	}
	if cfg.Execution.MaxReadRows == 0 {
		cfg.Execution.MaxReadRows = DefaultExecutionMaxReadRows
	}
	if cfg.Execution.ReadRetry.MaxAttempts == 0 {
		cfg.Execution.ReadRetry.MaxAttempts = DefaultReadRetryMaxAttempts
	}
	if cfg.Execution.ReadRetry.InitialInterval == 0 {
		cfg.Execution.ReadRetry.InitialInterval = DefaultReadRetryInitialInterval
	}
	if cfg.Execution.ReadRetry.MaxInterval == 0 {
		cfg.Execution.ReadRetry.MaxInterval = DefaultReadRetryMaxInterval
	}

	// Ledger defaults
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.SQLite.Path == "" {
		cfg.Ledger.SQLite.Path = DefaultLedgerSQLitePath
	}
	if cfg.Ledger.SQLite.MaxOpenConns == 0 {
		cfg.Ledger.SQLite.MaxOpenConns = DefaultLedgerSQLiteMaxOpenConns
	}
	if cfg.Ledger.SQLite.MaxIdleConns == 0 {
		cfg.Ledger.SQLite.MaxIdleConns = DefaultLedgerSQLiteMaxIdleConns
	}
	if cfg.Ledger.SQLite.WALMode == nil {
		cfg.Ledger.SQLite.WALMode = boolPtr(true)
	}
	if cfg.Ledger.SQLite.BusyTimeout == 0 {
		cfg.Ledger.SQLite.BusyTimeout = DefaultLedgerSQLiteBusyTimeout
	}
	if cfg.Ledger.PageSize == 0 {
		cfg.Ledger.PageSize = DefaultLedgerPageSize
	}
	if cfg.Ledger.MaxQueryLimit == 0 {
		cfg.Ledger.MaxQueryLimit = DefaultLedgerMaxQueryLimit
	}
	if cfg.Ledger.RecordValidations == nil {
		cfg.Ledger.RecordValidations = boolPtr(true)
	}
	if cfg.Ledger.Verify.Schedule == "" {
		cfg.Ledger.Verify.Schedule = DefaultLedgerVerifySchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Enabled == nil {
		cfg.Telemetry.Metrics.Enabled = boolPtr(true)
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

func applyGitDefaults(git *GitPolicyConfig) {
	if git.Branch == "" {
		git.Branch = DefaultPolicyGitBranch
	}
	if git.Path == "" {
		git.Path = DefaultPolicyGitPath
	}
	if git.Auth.Type == "" {
		git.Auth.Type = DefaultPolicyGitAuthType
	}
	if git.Poll.Interval == 0 {
		git.Poll.Interval = DefaultPolicyGitPollInterval
	}
	if git.Poll.Timeout == 0 {
		git.Poll.Timeout = DefaultPolicyGitPollTimeout
	}
	if git.Clone.Depth == 0 {
		git.Clone.Depth = DefaultPolicyGitCloneDepth
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func boolPtr(b bool) *bool {
	return &b
}
