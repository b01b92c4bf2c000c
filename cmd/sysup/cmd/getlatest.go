package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nxkit/sysup/internal/service/update"
)

var (
	// outputDir overrides the derived output directory.
	outputDir string
	// titleFilter narrows the downloaded titles; hex title ids.
	titleFilter []string
	// ignoreWarnings clears an existing output directory without prompting.
	ignoreWarnings bool

	// getLatestCmd downloads the latest system update package.
	getLatestCmd = &cobra.Command{
		Use:   "getLatest",
		Short: "Download the latest system update package",
		Long: `Resolve the latest published system update, persist its descriptor, then
download all referenced metadata titles and content blobs.

Without --output the directory name is derived from the update's version and
build number. An existing directory is only overwritten after confirmation,
or unconditionally with --ignore-warnings.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &update.Options{
				ConfigPath:     configPath,
				OutputDir:      outputDir,
				TitleFilter:    titleFilter,
				IgnoreWarnings: ignoreWarnings,
			}

			return update.Run(ctx, options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	getLatestCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default derived from the update version)")
	getLatestCmd.Flags().StringArrayVarP(&titleFilter, "title", "t", nil, "only download entries owned by this title id (repeatable)")
	getLatestCmd.Flags().BoolVarP(&ignoreWarnings, "ignore-warnings", "y", false, "overwrite an existing output directory without prompting")

	rootCmd.AddCommand(getLatestCmd)
}
