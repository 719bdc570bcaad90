package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/export"
	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/pipeline"
	"github.com/cerrado-geo/soilhex-cli/internal/scorer"
	"github.com/cerrado-geo/soilhex-cli/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score <run-id>",
	Short: "Re-score a run's aggregates against new thresholds",
	Long: `Reads the aggregate table a run produced and grades it again, without
re-clipping or re-aggregating. Useful for tuning a thresholds file: edit,
re-score, compare.

Examples:
  # Re-score with the configured thresholds
  soilhex score 4f6b2c1a-0000-0000-0000-000000000000

  # Try an experimental thresholds file
  soilhex score 4f6b2c1a... --thresholds tuning.yaml

  # Write the full score table to CSV
  soilhex score 4f6b2c1a... --out rescored.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("thresholds", "", "thresholds YAML file (overrides config)")
	f.Int("low-count", 0, "low point-count warning floor (overrides config)")
	f.Int("limit", 20, "max cells to display (0=all)")
	f.String("out", "", "write the full score table to this CSV path")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

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
		return eris.Wrap(err, "score")
	}

	aggs, err := loadRunAggregates(ctx, st, run.ID)
	if err != nil {
		return err
	}

	thresholdsFile := cfg.Scoring.ThresholdsFile
	if v, _ := cmd.Flags().GetString("thresholds"); v != "" {
		thresholdsFile = v
	}
	lowCount := cfg.Scoring.LowCountWarning
	if cmd.Flags().Changed("low-count") {
		lowCount, _ = cmd.Flags().GetInt("low-count")
	}

	sc, err := buildScorer(thresholdsFile, lowCount)
	if err != nil {
		return err
	}

	out, err := sc.Score(aggs)
	if err != nil {
		return eris.Wrap(err, "score")
	}

	zap.L().Info("re-scored run",
		zap.String("run_id", run.ID),
		zap.String("aoi", run.AOI),
		zap.Int("cells", len(out.Scores)),
		zap.Int("skipped", out.Skipped),
	)

	if path, _ := cmd.Flags().GetString("out"); path != "" {
		n, err := export.WriteScoresCSV(path, out.Scores)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d cells to %s (%s)\n", len(out.Scores), path, formatBytes(n))
	}

	limit, _ := cmd.Flags().GetInt("limit")
	formatScoresTable(os.Stdout, out.Scores, limit)
	printScoreSummary(os.Stdout, out)
	return nil
}

// buildScorer assembles a scorer from a thresholds file and the low-count
// floor, falling back to the compiled defaults when no file is named.
func buildScorer(thresholdsFile string, lowCount int) (*scorer.Scorer, error) {
	thresholds := scorer.Defaults()
	if thresholdsFile != "" {
		var err error
		if thresholds, err = scorer.Load(thresholdsFile); err != nil {
			return nil, err
		}
	}
	return scorer.New(thresholds, lowCount)
}

// loadRunAggregates reads a run's aggregate table artifact back into
// memory.
func loadRunAggregates(ctx context.Context, st store.Store, runID string) ([]hexgrid.Aggregate, error) {
	arts, err := st.Artifacts(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "load artifacts")
	}
	for _, a := range arts {
		if a.Kind == export.KindAggregatesCSV {
			return pipeline.ReadAggregates(a.Path)
		}
	}
	return nil, eris.Errorf("run %s has no aggregate table artifact", runID)
}

// formatScoresTable writes the top cells by suitability to w.
func formatScoresTable(out io.Writer, scores []scorer.CellScore, limit int) {
	sorted := make([]scorer.CellScore, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Suitability != sorted[j].Suitability {
			return sorted[i].Suitability > sorted[j].Suitability
		}
		return sorted[i].CellID < sorted[j].CellID
	})

	shown := len(sorted)
	if limit > 0 && limit < shown {
		shown = limit
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CELL\tPOINTS\tSUITABILITY\t0-10\tGRADE\tFLAGS")
	_, _ = fmt.Fprintln(w, "----\t------\t-----------\t----\t-----\t-----")
	for _, s := range sorted[:shown] {
		flags := ""
		if s.LowCount {
			flags = "low"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%s\t%s\n",
			s.CellID, s.PointCount, s.Suitability, s.Rescaled, s.Grade, flags)
	}
	_ = w.Flush()

	if shown < len(sorted) {
		_, _ = fmt.Fprintf(out, "(%d of %d cells shown; use --limit 0 for all)\n", shown, len(sorted))
	}
}

// printScoreSummary writes grade counts and degradation counters to w.
func printScoreSummary(out io.Writer, result *scorer.Output) {
	hist := gradeHistogram(result.Scores)
	_, _ = fmt.Fprintf(out, "\n--- Summary ---\n")
	_, _ = fmt.Fprintf(out, "Cells scored: %d\n", len(result.Scores))
	for _, g := range []scorer.Grade{scorer.GradeHigh, scorer.GradeModerate, scorer.GradeLow, scorer.GradeNotSuitable} {
		_, _ = fmt.Fprintf(out, "  %-22s %d\n", string(g)+":", hist[string(g)])
	}
	if result.Skipped > 0 {
		_, _ = fmt.Fprintf(out, "Skipped cells: %d\n", result.Skipped)
	}
	if result.LowCount > 0 {
		_, _ = fmt.Fprintf(out, "Low-count cells: %d\n", result.LowCount)
	}
}
