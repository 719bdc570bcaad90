package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/db"
	"github.com/cerrado-geo/soilhex-cli/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Publish a run's scored cells to Postgres",
	Long: `Publishes a run's scored hex layer into the soilhex.hex_scores table,
upserting by cell id so repeated exports stay idempotent. Scores are
recomputed from the run's stored aggregate table with the configured
thresholds. Use 'soilhex runs list' to find run IDs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("export-postgres"); err != nil {
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

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}

		aggs, err := loadRunAggregates(ctx, st, run.ID)
		if err != nil {
			return err
		}

		sc, err := buildScorer(cfg.Scoring.ThresholdsFile, cfg.Scoring.LowCountWarning)
		if err != nil {
			return err
		}
		result, err := sc.Score(aggs)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		pool, err := db.Connect(ctx, cfg.Export.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := export.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		n, err := export.Publish(ctx, pool, result.Scores)
		if err != nil {
			return err
		}

		total, err := export.PublishedCells(ctx, pool)
		if err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("run_id", run.ID),
			zap.Int64("published", n),
			zap.Int64("table_total", total),
		)

		fmt.Printf("Published %d cells from run %s (%d total in soilhex.hex_scores)\n",
			n, truncateID(run.ID), total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
