package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mcp-installer/internal/config"
	"github.com/oshokin/mcp-installer/internal/logger"
	"github.com/oshokin/mcp-installer/internal/service/installer"
	"github.com/oshokin/mcp-installer/internal/version"
)

var (
	// configPath to the configuration YAML file. Empty means the optional default file.
	configPath string
	// installDir overrides the configured install directory.
	installDir string
	// logLevel is one of debug, info, warn, error.
	logLevel string

	// rootCmd represents the base command that runs the whole installation.
	rootCmd = &cobra.Command{
		Use:   "mcp-installer",
		Short: "Install the pinned web-search-mcp release",
		Long: `Installs web-search-mcp from a pinned release archive.

Checks that Node.js and npm are recent enough, downloads the release archive,
verifies its SHA-256 digest, unpacks it next to the archive and runs
"npm install" and "npx playwright install" inside the unpacked directory.

Every stage is skipped when its result is already on disk, so running the
installer again is safe and does nothing once the installation is complete.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return logger.SetLevelString(logLevel)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			result, err := installer.Run(ctx, &installer.Options{
				Config: cfg,
				Dir:    installDir,
			})
			if err != nil {
				printFailure(cmd.ErrOrStderr(), err)

				return err
			}

			printNextSteps(cmd.OutOrStdout(), result)

			return nil
		},
	}
)

// Execute runs the mcp-installer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.ErrorKV(context.Background(), "mcp-installer failed", "error", err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" when present)")
	flags.StringVarP(&installDir, "dir", "d", "",
		"install directory (default: directory of the installer executable)")
	flags.StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(checkCmd, verifyCmd, configCmd)
}
