package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mcp-installer/internal/config"
	"github.com/oshokin/mcp-installer/internal/service/installer"
)

// checkCmd runs only the requirement check.
//
//nolint:gochecknoglobals // Cobra command tree.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the required runtimes are installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		result, err := installer.Run(ctx, &installer.Options{
			Config:    cfg,
			Dir:       installDir,
			CheckOnly: true,
		})
		if result != nil {
			printRequirements(cmd.OutOrStdout(), result.Requirements)
		}

		if errors.Is(err, installer.ErrRequirements) {
			printInstallHints(cmd.ErrOrStderr())
		}

		return err
	},
}
