package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	ExitSuccess        = 0
	ExitFailure        = 1
	ExitConfiguration  = 2
	ExitAuthentication = 3
	ExitRemote         = 4
)

// ConfigurationError collects every problem found while validating the configuration file.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "configuration is invalid:\n  - " + strings.Join(e.Problems, "\n  - ")
}

// AuthenticationError means there is no usable session for one of the platforms.
type AuthenticationError struct {
	Platform string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("not authenticated with %s: %v", e.Platform, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// RemoteWriteFailure is returned when a remote mutation still failed after every retry attempt.
type RemoteWriteFailure struct {
	Action   string
	Attempts uint
	Err      error
}

func (e *RemoteWriteFailure) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Action, e.Attempts, e.Err)
}

func (e *RemoteWriteFailure) Unwrap() error {
	return e.Err
}

// ResourceStateError means a resource, or the name derived for it, is not in a usable state.
type ResourceStateError struct {
	Resource string
	Reason   string
}

func (e *ResourceStateError) Error() string {
	return fmt.Sprintf("%s is in an unexpected state: %s", e.Resource, e.Reason)
}

// PartialBatchFailure reports the targets of a batch operation that did not succeed.
type PartialBatchFailure struct {
	Operation string
	Total     int
	Succeeded int
	Failures  map[string]error
}

func (e *PartialBatchFailure) Error() string {
	targets := make([]string, 0, len(e.Failures))
	for target := range e.Failures {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s succeeded for %d/%d targets", e.Operation, e.Succeeded, e.Total))
	for _, target := range targets {
		sb.WriteString(fmt.Sprintf("\n  - %s: %v", target, e.Failures[target]))
	}
	return sb.String()
}

func (e *PartialBatchFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}

// ExitCode maps an error chain to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var configErr *ConfigurationError
	if errors.As(err, &configErr) {
		return ExitConfiguration
	}

	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return ExitAuthentication
	}

	var stateErr *ResourceStateError
	if errors.As(err, &stateErr) {
		return ExitFailure
	}

	var writeErr *RemoteWriteFailure
	if errors.As(err, &writeErr) {
		return ExitRemote
	}

	var batchErr *PartialBatchFailure
	if errors.As(err, &batchErr) {
		return ExitRemote
	}

	return ExitFailure
}

// IsStructural returns true for errors that fail the same way on every attempt, such as an
// invalid configuration, a missing session or a resource in an unusable state.
func IsStructural(err error) bool {
	switch ExitCode(err) {
	case ExitConfiguration, ExitAuthentication:
		return true
	}

	var stateErr *ResourceStateError
	return errors.As(err, &stateErr)
}

// Describe builds the message printed to the operator when a command fails.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	switch ExitCode(err) {
	case ExitConfiguration:
		return "Configuration error. Fix the configuration file and re-run.\n" + err.Error()
	case ExitAuthentication:
		return "Authentication error. Log in (gh auth login / az login) and re-run.\n" + err.Error()
	case ExitRemote:
		return "Remote API error, retries were exhausted. This is usually transient, re-run the command.\n" + err.Error()
	default:
		return "Command failed. Fix the problem below and re-run.\n" + err.Error()
	}
}
