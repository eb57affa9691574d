package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/mcp-installer/internal/config"
)

var errConfigExists = errors.New("configuration file already exists, use --force to overwrite")

// force allows config init to overwrite an existing file.
//
//nolint:gochecknoglobals // Cobra flag storage.
var force bool

// configCmd groups configuration subcommands.
//
//nolint:gochecknoglobals // Cobra command tree.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the installer configuration file",
}

// configInitCmd writes the pinned defaults to a YAML file.
//
//nolint:gochecknoglobals // Cobra command tree.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeDefaultConfig(cmd.OutOrStdout(), configPath, force)
	},
}

// writeDefaultConfig saves config.Default() to path unless it exists and overwrite is false.
func writeDefaultConfig(w io.Writer, path string, overwrite bool) error {
	if path == "" {
		path = config.DefaultConfigFilename
	}

	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%w: %s", errConfigExists, path)
	}

	if err := config.Save(path, config.Default()); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "Wrote %s\n", path)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	configInitCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration file")
	configCmd.AddCommand(configInitCmd)
}
