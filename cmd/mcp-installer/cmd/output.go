package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/oshokin/mcp-installer/internal/service/installer"
	"github.com/oshokin/mcp-installer/internal/service/requirements"
)

//nolint:gochecknoglobals // Color printers are stateless.
var (
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
)

// printRequirements renders one line per checked requirement.
func printRequirements(w io.Writer, results []requirements.Result) {
	for _, result := range results {
		mark := green("ok")
		if !result.Met {
			mark = red("missing")
		}

		_, _ = fmt.Fprintf(w, "  [%s] %s\n", mark, result.Message)
	}
}

// printInstallHints lists what the user has to install after a failed requirement check.
func printInstallHints(w io.Writer) {
	_, _ = fmt.Fprintln(w, red("Requirements not met!"))
	_, _ = fmt.Fprintln(w, "Please install:")
	_, _ = fmt.Fprintf(w, "  - Node.js 18.0.0 or higher: %s\n", cyan("https://nodejs.org/"))
	_, _ = fmt.Fprintln(w, "  - npm 8.0.0 or higher (usually comes with Node.js)")
}

// printFailure explains a failed installation according to the stage that failed.
func printFailure(w io.Writer, err error) {
	switch {
	case errors.Is(err, installer.ErrRequirements):
		printInstallHints(w)
	case errors.Is(err, installer.ErrTransport):
		_, _ = fmt.Fprintln(w, red("Download failed!"))
	case errors.Is(err, installer.ErrIntegrity):
		_, _ = fmt.Fprintln(w, red("Archive verification failed!"))
	case errors.Is(err, installer.ErrArchive):
		_, _ = fmt.Fprintln(w, red("Installation failed!"))
	case errors.Is(err, installer.ErrCommand):
		_, _ = fmt.Fprintln(w, red("npm setup failed!"))
	default:
		_, _ = fmt.Fprintln(w, red("Installation failed!"))
	}
}

// printNextSteps is shown after a successful installation.
func printNextSteps(w io.Writer, result *installer.Result) {
	_, _ = fmt.Fprintln(w, green("Installation completed successfully!"))
	_, _ = fmt.Fprintln(w, "Next steps:")
	_, _ = fmt.Fprintln(w, "  - Configure the MCP server in your MCP client settings")
	_, _ = fmt.Fprintln(w, "  - The web-search-mcp package is ready to use")

	if result != nil && result.ExtractedDir != "" {
		_, _ = fmt.Fprintf(w, "  - Location: %s\n", cyan(filepath.Base(result.ExtractedDir)+string(filepath.Separator)))
		_, _ = fmt.Fprintf(w, "  - Entry point: %s\n", yellow(filepath.Join(result.ExtractedDir, "dist", "index.js")))
	}

	_, _ = fmt.Fprintln(w, "  - Refer to package.json for usage details")
}
