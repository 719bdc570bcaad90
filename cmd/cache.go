package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cerrado-geo/soilhex-cli/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the artifact cache",
	Long:  "Commands for sizing, sweeping, and clearing the on-disk cache of clipped rasters, point tables, and hex aggregates.",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache size per family",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cm, err := openCache()
		if err != nil {
			return err
		}
		stats, err := cm.Stats()
		if err != nil {
			return err
		}
		formatCacheStats(os.Stdout, stats)
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove circle-AOI entries not on the protected list",
	Long:  "Removes cached circle-AOI entries whose AOI is not protected by config. Full-extent entries always survive a sweep.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cm, err := openCache()
		if err != nil {
			return err
		}
		res, err := cm.Sweep(cfg.Cache.ProtectedAOIs)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d entries, freed %s.\n", res.Removed, formatBytes(res.FreedBytes))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cm, err := openCache()
		if err != nil {
			return err
		}
		n, err := cm.Clear()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d entries.\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// formatCacheStats writes per-family entry counts and sizes to w.
func formatCacheStats(out io.Writer, stats map[cache.Family]cache.FamilyStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FAMILY\tENTRIES\tSIZE")
	_, _ = fmt.Fprintln(w, "------\t-------\t----")

	var entries int
	var bytes int64
	for _, fam := range cache.Families {
		s := stats[fam]
		entries += s.Entries
		bytes += s.Bytes
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", fam, s.Entries, formatBytes(s.Bytes))
	}
	_, _ = fmt.Fprintf(w, "total\t%d\t%s\n", entries, formatBytes(bytes))
	_ = w.Flush()
}

// formatBytes renders a byte count in binary units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
