package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nxkit/sysup/internal/service/selfupdate"
)

var (
	// forceSelfUpdate applies the published release even when not newer.
	forceSelfUpdate bool

	// selfUpdateCmd replaces the running binary with the latest release.
	selfUpdateCmd = &cobra.Command{
		Use:   "selfupdate",
		Short: "Update sysup itself to the latest published release",
		Long:  "Fetch the release manifest from the configured update server, compare versions, and atomically replace the running executable after verifying its checksum.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return selfupdate.Run(ctx, &selfupdate.Options{
				ConfigPath: configPath,
				Force:      forceSelfUpdate,
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	selfUpdateCmd.Flags().BoolVarP(&forceSelfUpdate, "force", "f", false, "apply the published release even when it is not newer")

	rootCmd.AddCommand(selfUpdateCmd)
}
