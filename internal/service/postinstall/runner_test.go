package postinstall

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mcp-installer/internal/config"
	"github.com/oshokin/mcp-installer/internal/service/common"
	"github.com/oshokin/mcp-installer/internal/service/common/commontest"
)

// The tests in this file change the process working directory and must not run in parallel.

func realPath(t *testing.T, path string) string {
	t.Helper()

	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)

	return resolved
}

func getwd(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)

	return realPath(t, wd)
}

// buildArtifact creates dist/index.js relative to the current working directory.
func buildArtifact() error {
	if err := os.MkdirAll("dist", 0o755); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join("dist", "index.js"), []byte("// built"), 0o600)
}

func defaultResponses() map[string]commontest.Response {
	return map[string]commontest.Response{
		"npm install":            {Stdout: "added 120 packages", Hook: buildArtifact},
		"npx playwright install": {Stdout: "chromium downloaded"},
	}
}

// TestRun_RunsStepsInsideDirAndCreatesMarker checks ordering, working directory and marker creation.
func TestRun_RunsStepsInsideDirAndCreatesMarker(t *testing.T) {
	start := t.TempDir()
	t.Chdir(start)

	dir := t.TempDir()
	commands := commontest.NewRunner(defaultResponses())
	runner := New(commands, config.Default().PostInstall)

	result, err := runner.Run(context.Background(), dir)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, []string{"npm install", "npx playwright install"}, result.Ran)

	for _, call := range commands.Calls() {
		require.Equal(t, realPath(t, dir), realPath(t, call.Dir))
	}

	require.FileExists(t, runner.MarkerPath(dir))

	info, err := os.Stat(runner.MarkerPath(dir))
	require.NoError(t, err)
	require.Zero(t, info.Size())

	require.Equal(t, realPath(t, start), getwd(t))
}

// TestRun_SkipsWhenMarkerExists runs nothing on a completed installation.
func TestRun_SkipsWhenMarkerExists(t *testing.T) {
	t.Chdir(t.TempDir())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultMarker), nil, 0o600))

	commands := commontest.NewRunner(defaultResponses())

	result, err := New(commands, config.Default().PostInstall).Run(context.Background(), dir)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Empty(t, commands.Calls())
}

// TestRun_SecondRunIsNoop verifies idempotence across two consecutive runs.
func TestRun_SecondRunIsNoop(t *testing.T) {
	t.Chdir(t.TempDir())

	dir := t.TempDir()
	commands := commontest.NewRunner(defaultResponses())
	runner := New(commands, config.Default().PostInstall)

	_, err := runner.Run(context.Background(), dir)
	require.NoError(t, err)

	commands.Reset()

	result, err := runner.Run(context.Background(), dir)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Empty(t, commands.Calls())
}

// TestRun_StepFailureStopsAndRestoresDir ensures a failing command aborts the sequence,
// surfaces its output, creates no marker and restores the working directory.
func TestRun_StepFailureStopsAndRestoresDir(t *testing.T) {
	start := t.TempDir()
	t.Chdir(start)

	dir := t.TempDir()
	commands := commontest.NewRunner(map[string]commontest.Response{
		"npm install": {ExitCode: 1, Stdout: "partial", Stderr: "npm ERR! code E404"},
	})
	runner := New(commands, config.Default().PostInstall)

	result, err := runner.Run(context.Background(), dir)
	require.ErrorIs(t, err, ErrStepFailed)
	require.Empty(t, result.Ran)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, "npm install", stepErr.Step.String())
	require.Equal(t, "partial", string(stepErr.Stdout))
	require.Equal(t, "npm ERR! code E404", string(stepErr.Stderr))

	var cmdErr *common.CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, 1, cmdErr.ExitCode)

	require.Equal(t, []string{"npm install"}, commands.Commands())
	require.NoFileExists(t, runner.MarkerPath(dir))
	require.Equal(t, realPath(t, start), getwd(t))
}

// TestRun_MissingArtifact fails without a marker when dist/index.js is absent.
func TestRun_MissingArtifact(t *testing.T) {
	start := t.TempDir()
	t.Chdir(start)

	dir := t.TempDir()
	commands := commontest.NewRunner(map[string]commontest.Response{
		"npm install":            {},
		"npx playwright install": {},
	})
	runner := New(commands, config.Default().PostInstall)

	_, err := runner.Run(context.Background(), dir)
	require.ErrorIs(t, err, ErrArtifactMissing)
	require.NoFileExists(t, runner.MarkerPath(dir))
	require.Equal(t, realPath(t, start), getwd(t))
}

// TestRun_BuildVariant treats an extra build step as part of the sequence and skips the artifact check.
func TestRun_BuildVariant(t *testing.T) {
	t.Chdir(t.TempDir())

	dir := t.TempDir()
	settings := config.PostInstall{
		Steps: []config.Step{
			{Name: "install", Command: "npm", Args: []string{"install"}},
			{Name: "browsers", Command: "npx", Args: []string{"playwright", "install"}},
			{Name: "build", Command: "npm", Args: []string{"run", "build"}},
		},
		Marker: ".build_complete",
	}

	commands := commontest.NewRunner(map[string]commontest.Response{
		"npm install":            {},
		"npx playwright install": {},
		"npm run build":          {},
	})

	result, err := New(commands, settings).Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, result.Ran, 3)
	require.FileExists(t, filepath.Join(dir, ".build_complete"))
}

// TestInDir_RestoresOnError restores the directory when fn fails.
func TestInDir_RestoresOnError(t *testing.T) {
	start := t.TempDir()
	t.Chdir(start)

	target := t.TempDir()
	errBoom := errors.New("boom")

	err := InDir(target, func() error {
		require.Equal(t, realPath(t, target), getwd(t))

		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, realPath(t, start), getwd(t))

	err = InDir(filepath.Join(target, "missing"), func() error { return nil })
	require.Error(t, err)
	require.Equal(t, realPath(t, start), getwd(t))
}
