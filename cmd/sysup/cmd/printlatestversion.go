package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nxkit/sysup/internal/service/update"
)

// printLatestVersionCmd prints the latest published firmware version.
var printLatestVersionCmd = &cobra.Command{
	Use:   "printLatestVersion",
	Short: "Print the latest published system update version",
	Long:  "Query the distribution network for the latest system update and print its version triple. Read-only: nothing is downloaded or written.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		return update.PrintLatestVersion(ctx, &update.Options{
			ConfigPath: configPath,
		})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(printLatestVersionCmd)
}
