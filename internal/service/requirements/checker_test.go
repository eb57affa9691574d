package requirements

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mcp-installer/internal/config"
	"github.com/oshokin/mcp-installer/internal/service/common"
	"github.com/oshokin/mcp-installer/internal/service/common/commontest"
)

// TestParseVersion covers command-specific quirks and the generic fallback.
func TestParseVersion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		command string
		output  string
		want    string
	}{
		{command: "node", output: "v18.17.0\n", want: "18.17.0"},
		{command: "/usr/local/bin/node", output: "v20.5.0", want: "20.5.0"},
		{command: "node.exe", output: "v22.1.0\r\n", want: "22.1.0"},
		{command: "npm", output: "9.8.1\n", want: "9.8.1"},
		{command: "npm", output: "10.2.4-beta.1", want: "10.2.4-beta.1"},
		{command: "go", output: "go version go1.22.3 linux/amd64", want: "1.22.3"},
		{command: "python3", output: "Python 3.12.1", want: "3.12.1"},
		{command: "node", output: "node is v21.0.0 (nightly)", want: "21.0.0"},
	}

	for _, tc := range cases {
		got, err := ParseVersion(tc.command, tc.output)
		require.NoError(t, err, tc.output)
		require.Equal(t, tc.want, got, tc.output)
	}

	_, err := ParseVersion("git", "git version unknown")
	require.ErrorIs(t, err, ErrUnparsableVersion)

	_, err = ParseVersion("node", "v18")
	require.ErrorIs(t, err, ErrUnparsableVersion)
}

// TestCheckOne_VersionOrdering verifies that versions at or above the minimum pass
// and lower versions fail with a message naming both versions.
func TestCheckOne_VersionOrdering(t *testing.T) {
	t.Parallel()

	cases := []struct {
		found string
		min   string
		met   bool
	}{
		{found: "v18.0.0", min: "18.0.0", met: true},
		{found: "v18.17.0", min: "18.0.0", met: true},
		{found: "v20.0.0", min: "18.9.9", met: true},
		{found: "v18.10.0", min: "18.9.0", met: true},
		{found: "v17.9.1", min: "18.0.0", met: false},
		{found: "v9.11.0", min: "10.0.0", met: false},
		{found: "v18.0.0-rc.1", min: "18.0.0", met: false},
	}

	for _, tc := range cases {
		runner := commontest.NewRunner(map[string]commontest.Response{
			"node --version": {Stdout: tc.found + "\n"},
		})

		result := NewChecker(runner).CheckOne(context.Background(), config.Requirement{Command: "node", MinVersion: tc.min})
		require.Equal(t, tc.met, result.Met, "%s >= %s", tc.found, tc.min)
		require.NoError(t, result.Err)

		if !tc.met {
			require.Contains(t, result.Message, result.Found)
			require.Contains(t, result.Message, tc.min)
		}
	}
}

// TestCheck_ReportsEveryRequirement ensures failures do not stop the loop.
func TestCheck_ReportsEveryRequirement(t *testing.T) {
	t.Parallel()

	runner := commontest.NewRunner(map[string]commontest.Response{
		"npm --version":    {ExitCode: 1, Stderr: "npm ERR! broken install"},
		"python3 -V":       {Stdout: "Python 3.12.1"},
		"weird --version":  {Stdout: "no digits here"},
		"missing --unused": {},
	})

	reqs := []config.Requirement{
		{Command: "node", MinVersion: "18.0.0"},
		{Command: "npm", MinVersion: "8.0.0"},
		{Command: "python3", MinVersion: "3.10.0", VersionFlag: "-V"},
		{Command: "weird", MinVersion: "1.0.0"},
	}

	results, ok := NewChecker(runner).Check(context.Background(), reqs)
	require.False(t, ok)
	require.Len(t, results, len(reqs))

	require.False(t, results[0].Met)
	require.ErrorIs(t, results[0].Err, common.ErrCommandNotFound)
	require.Equal(t, "node not found", results[0].Message)

	require.False(t, results[1].Met)
	require.Contains(t, results[1].Message, "npm command failed")

	require.True(t, results[2].Met)
	require.Equal(t, "3.12.1", results[2].Found)

	require.False(t, results[3].Met)
	require.ErrorIs(t, results[3].Err, ErrUnparsableVersion)

	require.Equal(t, []string{"node --version", "npm --version", "python3 -V", "weird --version"}, runner.Commands())
}

// TestCheck_AllMet returns ok when every requirement passes.
func TestCheck_AllMet(t *testing.T) {
	t.Parallel()

	runner := commontest.NewRunner(map[string]commontest.Response{
		"node --version": {Stdout: "v20.11.1"},
		"npm --version":  {Stdout: "10.2.4"},
	})

	results, ok := NewChecker(runner).Check(context.Background(), config.Default().Requirements)
	require.True(t, ok)
	require.Equal(t, "node 20.11.1", results[0].Message)
	require.Equal(t, "npm 10.2.4", results[1].Message)
}
