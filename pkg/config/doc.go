// Package config loads and validates Warden configuration.
//
// Configuration comes from a YAML file, then defaults fill unset fields, then
// WARDEN_SECTION_FIELD environment variables override, then the result is
// validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//	if err != nil {
//	    var verr config.ValidationError
//	    if errors.As(err, &verr) {
//	        for _, fe := range verr.Errors { ... }
//	    }
//	}
//
// # Sections
//
//   - server: listen address, timeouts, identity headers
//   - policy: file or git source, watch, admin role
//   - datastore: driver (sqlite or pgx) and DSN of the governed database
//   - execution: timeout, impact threshold, read retry, read row cap
//   - ledger: audit backend, page size, integrity verification schedule
//   - telemetry: logging, metrics, tracing, health
//
// # Global Configuration
//
// The CLI initializes a process-wide configuration once with Initialize and
// reads it with GetConfig or MustGetConfig. Library packages take their
// section as an explicit argument instead.
package config
