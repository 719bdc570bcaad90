package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/raster"
)

var datasetsJSON bool

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the raster layers discovered in the data directory",
	Long: `Scans the data directory and shows which soil property each raster file
was matched to. Warns when a property required for scoring has no layer;
run 'soilhex fetch' to download the missing files.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		datasets, err := raster.Discover(cfg.Data.Dir)
		if err != nil {
			return err
		}

		if datasetsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(datasets); err != nil {
				return err
			}
		} else {
			formatDatasets(os.Stdout, datasets)
		}

		for _, p := range missingRequired(datasets) {
			fmt.Fprintf(os.Stderr, "Missing required property: %s (runs will fail to score)\n", p)
		}
		return nil
	},
}

func init() {
	datasetsCmd.Flags().BoolVar(&datasetsJSON, "json", false, "print datasets as JSON")
	rootCmd.AddCommand(datasetsCmd)
}

// missingRequired lists scoring-critical properties with no discovered
// layer at any depth band.
func missingRequired(datasets []model.Dataset) []model.Property {
	present := make(map[model.Property]bool, len(datasets))
	for _, d := range datasets {
		present[d.Property] = true
	}

	var missing []model.Property
	for _, p := range model.Properties {
		if p.Required() && !present[p] {
			missing = append(missing, p)
		}
	}
	return missing
}

// formatDatasets writes a tabular list of discovered layers to w.
func formatDatasets(out io.Writer, datasets []model.Dataset) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tPROPERTY\tBAND\tFILE\tMODIFIED")
	_, _ = fmt.Fprintln(w, "---\t--------\t----\t----\t--------")

	for _, d := range datasets {
		band := string(d.Band)
		if band == "" {
			band = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.Key(),
			d.Property,
			band,
			filepath.Base(d.Path),
			d.ModTime.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
