package postinstall

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/mcp-installer/internal/config"
	"github.com/oshokin/mcp-installer/internal/logger"
	"github.com/oshokin/mcp-installer/internal/service/common"
)

// markerFileMode is the permission of the completion marker.
const markerFileMode os.FileMode = 0o644

var (
	// ErrStepFailed is wrapped by every StepError.
	ErrStepFailed = errors.New("post-install step failed")
	// ErrArtifactMissing is returned when the expected build artifact is absent.
	ErrArtifactMissing = errors.New("post-install artifact is missing")
)

// StepError reports a failed step together with its captured output.
type StepError struct {
	Step   config.Step
	Stdout []byte
	Stderr []byte
	Err    error
}

// Error implements error.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %q: %v", ErrStepFailed, e.Step.String(), e.Err)
}

// Unwrap exposes both ErrStepFailed and the runner error.
func (e *StepError) Unwrap() []error {
	return []error{ErrStepFailed, e.Err}
}

// Result describes a post-install run.
type Result struct {
	// Dir is the absolute extraction directory.
	Dir string
	// Skipped is true when the marker already existed.
	Skipped bool
	// Ran lists the command lines that were executed.
	Ran []string
}

// Runner runs the configured post-install steps inside the extracted directory.
type Runner struct {
	commands common.CommandRunner
	settings config.PostInstall
}

// New creates a Runner from the post-install settings.
func New(commands common.CommandRunner, settings config.PostInstall) *Runner {
	if settings.Marker == "" {
		settings.Marker = config.DefaultMarker
	}

	return &Runner{
		commands: commands,
		settings: settings,
	}
}

// MarkerPath returns the completion marker location for dir.
func (r *Runner) MarkerPath(dir string) string {
	return filepath.Join(dir, r.settings.Marker)
}

// Run executes every step in order inside dir and then creates the marker.
// Nothing runs when the marker already exists. The working directory is
// restored before Run returns, whatever the outcome.
func (r *Runner) Run(ctx context.Context, dir string) (*Result, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	result := &Result{Dir: absDir}
	markerPath := r.MarkerPath(absDir)

	if _, err = os.Stat(markerPath); err == nil {
		logger.Info(ctx, "Setup already completed, skipping post-install")

		result.Skipped = true

		return result, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", markerPath, err)
	}

	logger.InfoKV(ctx, "Changing to directory", "dir", filepath.Base(absDir))

	err = InDir(absDir, func() error {
		for _, step := range r.settings.Steps {
			if stepErr := r.runStep(ctx, step); stepErr != nil {
				return stepErr
			}

			result.Ran = append(result.Ran, step.String())
		}

		return nil
	})
	if err != nil {
		return result, err
	}

	if r.settings.Artifact != "" {
		artifactPath := filepath.Join(absDir, filepath.FromSlash(r.settings.Artifact))
		if _, err = os.Stat(artifactPath); err != nil {
			logger.ErrorKV(ctx, "Critical file is missing", "artifact", r.settings.Artifact)

			return result, fmt.Errorf("%w: %s", ErrArtifactMissing, r.settings.Artifact)
		}

		logger.InfoKV(ctx, "Installation verified", "artifact", r.settings.Artifact)
	}

	if err = os.WriteFile(markerPath, nil, markerFileMode); err != nil {
		return result, fmt.Errorf("create marker: %w", err)
	}

	return result, nil
}

func (r *Runner) runStep(ctx context.Context, step config.Step) error {
	logger.InfoKV(ctx, "Running step", "step", step.Name, "command", step.String())

	stepCtx := ctx

	if r.settings.CommandTimeout > 0 {
		var cancel context.CancelFunc

		stepCtx, cancel = context.WithTimeout(ctx, r.settings.CommandTimeout)
		defer cancel()
	}

	started := time.Now()

	stdout, stderr, err := r.commands.Run(stepCtx, step.Command, step.Args...)
	if err != nil {
		logger.ErrorKV(ctx, "Command failed",
			"command", step.String(),
			"error", err,
			"stdout", string(stdout),
			"stderr", string(stderr))

		return &StepError{
			Step:   step,
			Stdout: stdout,
			Stderr: stderr,
			Err:    err,
		}
	}

	logger.InfoKV(ctx, "Step completed", "step", step.Name, "took", time.Since(started).Round(time.Millisecond))

	return nil
}

// InDir runs fn with the process working directory set to dir and always
// changes back to the previous working directory afterwards.
func InDir(dir string, fn func() error) (err error) {
	previous, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if err = os.Chdir(dir); err != nil {
		return fmt.Errorf("change directory: %w", err)
	}

	defer func() {
		if restoreErr := os.Chdir(previous); restoreErr != nil && err == nil {
			err = fmt.Errorf("restore working directory: %w", restoreErr)
		}
	}()

	return fn()
}
