//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCommandNotFound is returned when the executable is not on PATH.
var ErrCommandNotFound = errors.New("command not found")

// CommandRunner runs an external command in the current working directory
// and returns its captured output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// CommandError describes a command that started but exited with a failure.
type CommandError struct {
	// Command is the command line as it was invoked.
	Command string
	// ExitCode is the process exit status, or -1 when unknown.
	ExitCode int
	// Stdout and Stderr are the captured output streams.
	Stdout []byte
	Stderr []byte
	// Err is the underlying error from os/exec.
	Err error
}

// Error implements error.
func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d: %v", e.Command, e.ExitCode, e.Err)
}

// Unwrap returns the underlying os/exec error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner creates an ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command, waits for it and captures stdout and stderr separately.
// A missing executable yields ErrCommandNotFound, a non-zero exit a *CommandError.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, ErrCommandNotFound)
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		return stdout.Bytes(), stderr.Bytes(), &CommandError{
			Command:  CommandLine(name, args...),
			ExitCode: exitCode,
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Err:      err,
		}
	}

	return stdout.Bytes(), stderr.Bytes(), nil
}

// CommandLine joins a command and its arguments for display.
func CommandLine(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// Compile-time check that ExecRunner implements CommandRunner.
var _ CommandRunner = (*ExecRunner)(nil)
