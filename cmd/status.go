package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cerrado-geo/soilhex-cli/internal/monitoring"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline and cache health",
	Long: `Collects a health snapshot: run counts by status within the lookback
window, failure rate, cache usage per family, and the most recent run.
Alerts that would fire under the configured thresholds are listed too.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		cm, err := openCache()
		if err != nil {
			return err
		}

		snap, err := monitoring.NewCollector(st, cm).Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}
		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)

		if statusJSON {
			out := struct {
				*monitoring.MetricsSnapshot
				Alerts []monitoring.Alert `json:"alerts,omitempty"`
			}{snap, alerts}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		formatStatus(os.Stdout, snap, alerts)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

// formatStatus writes a human-readable health snapshot to w.
func formatStatus(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs (last %dh):\t%d\n", snap.LookbackHours, snap.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Complete:\t%d\n", snap.RunsComplete)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", snap.RunsFailed)
	_, _ = fmt.Fprintf(w, "  Queued/running:\t%d\n", snap.RunsQueued+snap.RunsRunning)
	_, _ = fmt.Fprintf(w, "  Degraded:\t%d\n", snap.RunsDegraded)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.FailRate*100)
	if snap.AvgRunMS > 0 {
		_, _ = fmt.Fprintf(w, "Avg run time:\t%s\n", (time.Duration(snap.AvgRunMS) * time.Millisecond).Round(time.Second))
	}
	_, _ = fmt.Fprintf(w, "Cells scored:\t%d\n", snap.CellsScored)

	_, _ = fmt.Fprintf(w, "Cache:\t%d entries, %s\n", snap.CacheEntries, formatBytes(snap.CacheBytes))
	families := make([]string, 0, len(snap.CacheByFamily))
	for fam := range snap.CacheByFamily {
		families = append(families, fam)
	}
	sort.Strings(families)
	for _, fam := range families {
		u := snap.CacheByFamily[fam]
		_, _ = fmt.Fprintf(w, "  %s:\t%d entries, %s\n", fam, u.Entries, formatBytes(u.Bytes))
	}

	if lr := snap.LastRun; lr != nil {
		dur := (time.Duration(lr.DurationMS) * time.Millisecond).Round(time.Second)
		_, _ = fmt.Fprintf(w, "Last run:\t%s (%s, %s, %s)\n",
			truncateID(lr.ID), lr.Status, lr.StartedAt.Format("2006-01-02 15:04"), dur)
	}
	_ = w.Flush()

	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "ALERT [%s] %s\n", a.Severity, a.Message)
	}
}
