package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mcp-installer/internal/config"
	"github.com/oshokin/mcp-installer/internal/service/integrity"
)

// verifyCmd checks the archive already on disk against the pinned digest.
//
//nolint:gochecknoglobals // Cobra command tree.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the downloaded archive against the pinned SHA-256 digest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if installDir != "" {
			cfg.InstallDir = installDir
		}

		return verifyArchive(ctx, cmd.OutOrStdout(), cfg)
	},
}

// verifyArchive hashes the local archive and prints both digests.
func verifyArchive(ctx context.Context, w io.Writer, cfg *config.Config) error {
	dir, err := cfg.ResolveInstallDir()
	if err != nil {
		return err
	}

	archivePath := filepath.Join(dir, cfg.ArchiveName())

	actual, err := integrity.Digest(ctx, archivePath, cfg.ChunkSize)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "Archive:  %s\n", archivePath)
	_, _ = fmt.Fprintf(w, "Expected: %s\n", cfg.SHA256)
	_, _ = fmt.Fprintf(w, "Actual:   %s\n", actual)

	if actual != cfg.SHA256 {
		_, _ = fmt.Fprintln(w, red("Hash mismatch!"))

		return fmt.Errorf("%w: %s", integrity.ErrMismatch, archivePath)
	}

	_, _ = fmt.Fprintln(w, green("File integrity verified"))

	return nil
}
