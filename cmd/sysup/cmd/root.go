package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/nxkit/sysup/internal/config"
	"github.com/nxkit/sysup/internal/logger"
	"github.com/nxkit/sysup/internal/service/update"
	"github.com/nxkit/sysup/internal/version"
)

// exitCodeOverwriteDeclined distinguishes the operator declining to
// overwrite an existing output directory from actual failures.
const exitCodeOverwriteDeclined = 3

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// logLevel selects the minimum level for log output.
	logLevel string

	// rootCmd represents the base command for the sysup CLI.
	rootCmd = &cobra.Command{
		Use:   "sysup",
		Short: "Download system updates from the distribution CDN",
		Long: `sysup retrieves system update packages from the distribution CDN.

It resolves the latest published update, downloads its metadata titles and
content blobs in parallel, and persists every part under a deterministic
local layout with live progress on the terminal.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}
		},
	}
)

// Execute runs the sysup CLI and exits with a non-zero status on error.
// A declined directory overwrite gets its own exit code so scripts can tell
// the deliberate abort apart from failures.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, update.ErrOverwriteDeclined) {
			os.Exit(exitCodeOverwriteDeclined)
		}

		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup persistent flags shared by every subcommand.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "minimum log level (debug|info|warn|error)")
}
