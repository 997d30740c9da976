package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"os/exec"
	"strings"
)

// CommandRunner runs the Azure CLI and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// AzCli runs the az executable found on the path.
type AzCli struct {
	Executable string
}

func (a AzCli) Run(ctx context.Context, args ...string) ([]byte, error) {
	executable := a.Executable
	if executable == "" {
		executable = "az"
	}

	args = append(args, "--output", "json", "--only-show-errors")

	zap.L().Debug("Running " + executable + " " + redact(args))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CliError{Args: redact(args), Stderr: strings.TrimSpace(stderr.String()), Err: err}
		}
		return nil, fmt.Errorf("failed to run %s: %w", executable, err)
	}

	return stdout.Bytes(), nil
}

// CliError is returned when the Azure CLI exits with a non-zero code.
type CliError struct {
	Args   string
	Stderr string
	Err    error
}

func (e *CliError) Error() string {
	return fmt.Sprintf("az %s failed: %v: %s", e.Args, e.Err, e.Stderr)
}

func (e *CliError) Unwrap() error {
	return e.Err
}

// IsNotLoggedIn is true when the CLI reports that there is no session.
func IsNotLoggedIn(err error) bool {
	var cliErr *CliError
	if !errors.As(err, &cliErr) {
		return false
	}
	return strings.Contains(cliErr.Stderr, "az login") || strings.Contains(cliErr.Stderr, "Please run 'az login'")
}

// IsCliNotFound is true when the CLI reports a missing resource.
func IsCliNotFound(err error) bool {
	var cliErr *CliError
	if !errors.As(err, &cliErr) {
		return false
	}
	stderr := strings.ToLower(cliErr.Stderr)
	return strings.Contains(stderr, "does not exist") || strings.Contains(stderr, "not found")
}

// runJson runs the CLI and decodes its output into result.
func runJson[T any](ctx context.Context, runner CommandRunner, args ...string) (T, error) {
	var result T

	output, err := runner.Run(ctx, args...)
	if err != nil {
		return result, err
	}

	if len(bytes.TrimSpace(output)) == 0 {
		return result, nil
	}

	if err := json.Unmarshal(output, &result); err != nil {
		return result, fmt.Errorf("failed to parse the output of az %s: %w", strings.Join(args, " "), err)
	}

	return result, nil
}

// redact hides the values of arguments that carry credentials.
func redact(args []string) string {
	redacted := make([]string, len(args))
	copy(redacted, args)
	for i := 1; i < len(redacted); i++ {
		if redacted[i-1] == "--password" || redacted[i-1] == "--secret" {
			redacted[i] = "*****"
		}
	}
	return strings.Join(redacted, " ")
}
