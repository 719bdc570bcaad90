package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cerrado-geo/soilhex-cli/internal/monitoring"
	"github.com/cerrado-geo/soilhex-cli/internal/server"
)

var (
	servePort int
	serveRun  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve scored layers over HTTP",
	Long: `Starts the preview API: the suitability GeoJSON layer, run stats, a
health probe, and prometheus metrics. Without --run the latest complete
run is served, re-resolved per request as new runs finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if serveRun != "" {
			if _, err := st.GetRun(ctx, serveRun); err != nil {
				return eris.Wrapf(err, "serve: pinned run %s", serveRun)
			}
		}

		if cfg.Monitoring.CheckIntervalSecs > 0 {
			cm, err := openCache()
			if err != nil {
				return err
			}
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st, cm),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		return server.New(cfg, st, serveRun).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveRun, "run", "", "pin the served layer to one run id")
	rootCmd.AddCommand(serveCmd)
}
