package cli

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitDenied  = 2
	ExitConfig  = 3
)

// ConfigError represents an error in configuration or command input.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Message
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// DeniedError reports a plan the policy did not permit. It is not a failure
// of the command itself.
type DeniedError struct {
	Verdict string
	Reason  string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Verdict, e.Reason)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	var (
		denied *DeniedError
		cfg    *ConfigError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &denied):
		return ExitDenied
	case errors.As(err, &cfg):
		return ExitConfig
	default:
		return ExitFailure
	}
}
