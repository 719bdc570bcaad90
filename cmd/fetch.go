package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/fetcher"
)

var fetchForce bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the required source rasters",
	Long: `Downloads every configured raster file from the mirror list into the
data directory. Files already present and non-empty are skipped; --force
re-downloads them, conditional on the ETag recorded at download time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		acq := fetcher.NewAcquirer(fetcher.NewDefaultDispatcher(), cfg.Data.Dir, cfg.Data.Mirrors, fetchForce)
		report, err := acq.Acquire(ctx, cfg.Data.RequiredFiles)
		if report != nil {
			zap.L().Info("fetch finished",
				zap.Strings("downloaded", report.Downloaded),
				zap.Strings("skipped", report.Skipped),
				zap.Int("failed", len(report.Failed)),
			)
		}
		if err != nil {
			return eris.Wrap(err, "fetch")
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "re-download files that are already present")
	rootCmd.AddCommand(fetchCmd)
}
