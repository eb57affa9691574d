// Package commontest provides a scripted CommandRunner for tests.
package commontest

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/oshokin/mcp-installer/internal/service/common"
)

// Response is the scripted outcome of one command line.
type Response struct {
	Stdout string
	Stderr string
	// Err is returned as is; use ExitCode for a *common.CommandError instead.
	Err error
	// ExitCode, when non-zero, produces a *common.CommandError.
	ExitCode int
	// Hook runs before the response is returned, in the caller's working directory.
	Hook func() error
}

// Call is one recorded invocation.
type Call struct {
	Command string
	Dir     string
}

// Runner is a fake common.CommandRunner keyed by command line.
// Unknown commands behave like missing executables.
type Runner struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []Call
}

// NewRunner creates a fake runner with the given scripted responses.
func NewRunner(responses map[string]Response) *Runner {
	if responses == nil {
		responses = make(map[string]Response)
	}

	return &Runner{responses: responses}
}

// Set replaces the scripted response for a command line.
func (r *Runner) Set(commandLine string, response Response) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.responses[commandLine] = response
}

// Run implements common.CommandRunner.
func (r *Runner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	commandLine := common.CommandLine(name, args...)
	dir, _ := os.Getwd()

	r.mu.Lock()
	r.calls = append(r.calls, Call{Command: commandLine, Dir: dir})
	response, ok := r.responses[commandLine]
	r.mu.Unlock()

	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", name, common.ErrCommandNotFound)
	}

	if response.Hook != nil {
		if err := response.Hook(); err != nil {
			return nil, nil, err
		}
	}

	stdout, stderr := []byte(response.Stdout), []byte(response.Stderr)

	if response.ExitCode != 0 {
		return stdout, stderr, &common.CommandError{
			Command:  commandLine,
			ExitCode: response.ExitCode,
			Stdout:   stdout,
			Stderr:   stderr,
			Err:      fmt.Errorf("exit status %d", response.ExitCode),
		}
	}

	return stdout, stderr, response.Err
}

// Calls returns a copy of the recorded invocations.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Call(nil), r.calls...)
}

// Commands returns the recorded command lines.
func (r *Runner) Commands() []string {
	calls := r.Calls()
	commands := make([]string, 0, len(calls))

	for _, call := range calls {
		commands = append(commands, call.Command)
	}

	return commands
}

// Reset forgets recorded invocations.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = nil
}

// Compile-time check that Runner implements common.CommandRunner.
var _ common.CommandRunner = (*Runner)(nil)
