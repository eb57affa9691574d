package requirements

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oshokin/mcp-installer/internal/config"
	"github.com/oshokin/mcp-installer/internal/logger"
	"github.com/oshokin/mcp-installer/internal/service/common"
)

// DefaultCommandTimeout bounds a single version command.
const DefaultCommandTimeout = 10 * time.Second

var (
	// ErrUnparsableVersion is returned when no version can be found in the command output.
	ErrUnparsableVersion = errors.New("could not parse version")

	// dottedTriple matches the first major.minor.patch in arbitrary output.
	dottedTriple = regexp.MustCompile(`\d+\.\d+\.\d+`)

	// fullVersion requires all three numeric components.
	fullVersion = regexp.MustCompile(`^\d+\.\d+\.\d+`)

	// versionQuirks strips command-specific decorations before parsing.
	//nolint:gochecknoglobals // Read-only lookup table.
	versionQuirks = map[string]func(string) string{
		"node": func(s string) string { return strings.TrimPrefix(s, "v") },
		"npm":  func(s string) string { return s },
	}
)

// Result is the outcome of a single requirement check.
type Result struct {
	Requirement config.Requirement
	// Found is the parsed version, empty when the command failed.
	Found string
	// Met reports whether Found satisfies the minimum version.
	Met bool
	// Message is a human-readable status line.
	Message string
	// Err is the reason the version could not be determined.
	Err error
}

// Checker runs version commands and compares their output to minimum versions.
type Checker struct {
	runner  common.CommandRunner
	timeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout overrides the per-command timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		c.timeout = timeout
	}
}

// NewChecker creates a Checker that runs commands through runner.
func NewChecker(runner common.CommandRunner, opts ...Option) *Checker {
	c := &Checker{
		runner:  runner,
		timeout: DefaultCommandTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Check evaluates every requirement, logging one status line each.
// A failing requirement does not stop the loop; ok is true only if all are met.
func (c *Checker) Check(ctx context.Context, reqs []config.Requirement) ([]Result, bool) {
	results := make([]Result, 0, len(reqs))
	ok := true

	for _, req := range reqs {
		result := c.CheckOne(ctx, req)
		if result.Met {
			logger.Info(ctx, result.Message)
		} else {
			logger.Warn(ctx, result.Message)

			ok = false
		}

		results = append(results, result)
	}

	return results, ok
}

// CheckOne runs the version command of a single requirement.
func (c *Checker) CheckOne(ctx context.Context, req config.Requirement) Result {
	flag := req.VersionFlag
	if flag == "" {
		flag = config.DefaultVersionFlag
	}

	result := Result{Requirement: req}

	cmdCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc

		cmdCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stdout, _, err := c.runner.Run(cmdCtx, req.Command, flag)
	if err != nil {
		result.Err = err

		if errors.Is(err, common.ErrCommandNotFound) {
			result.Message = req.Command + " not found"
		} else {
			result.Message = req.Command + " command failed: " + err.Error()
		}

		return result
	}

	found, err := ParseVersion(req.Command, string(stdout))
	if err != nil {
		result.Err = err
		result.Message = fmt.Sprintf("%s check failed: %v", req.Command, err)

		return result
	}

	result.Found = found
	result.Met = semver.Compare(config.Canonical(found), config.Canonical(req.MinVersion)) >= 0

	if result.Met {
		result.Message = fmt.Sprintf("%s %s", req.Command, found)
	} else {
		result.Message = fmt.Sprintf("%s %s (requires %s+)", req.Command, found, req.MinVersion)
	}

	return result
}

// ParseVersion extracts a semantic version from the output of a version command.
// Known commands have their decorations stripped first; anything else falls back
// to the first dotted triple of digits in the output.
func ParseVersion(command, output string) (string, error) {
	output = strings.TrimSpace(output)

	name := strings.TrimSuffix(strings.ToLower(filepath.Base(command)), ".exe")
	if quirk, ok := versionQuirks[name]; ok {
		firstLine, _, _ := strings.Cut(output, "\n")
		if candidate := strings.TrimSpace(quirk(strings.TrimSpace(firstLine))); isFullVersion(candidate) {
			return candidate, nil
		}
	}

	if match := dottedTriple.FindString(output); match != "" {
		return match, nil
	}

	return "", fmt.Errorf("%w from: %q", ErrUnparsableVersion, output)
}

// isFullVersion reports whether v is a complete major.minor.patch version.
func isFullVersion(v string) bool {
	return fullVersion.MatchString(v) && semver.IsValid(config.Canonical(v))
}
