package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/pipeline"
	"github.com/cerrado-geo/soilhex-cli/internal/scorer"
	"github.com/cerrado-geo/soilhex-cli/pkg/nominatim"
)

var (
	runLat        float64
	runLon        float64
	runRadius     float64
	runResolution int
	runPlace      string
	runNoCache    bool
	runResume     string
	runSkipSteps  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scoring pipeline over an area of interest",
	Long: `Runs the full pipeline: clip each source raster to the AOI, flatten to
point tables, index onto the hex grid, aggregate, and score.

With no coordinates the run covers the full region extent at the coarse
resolution. --lat/--lon/--radius select a circular AOI; --place geocodes
a place name to a center instead.

Examples:
  # Full-extent run
  soilhex run

  # 50 km circle around a point
  soilhex run --lat -13.07 --lon -56.09 --radius 50

  # Same circle by place name
  soilhex run --place "Sorriso, Mato Grosso" --radius 50

  # Resume an interrupted run
  soilhex run --resume 4f6b2c1a`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		log := zap.L().With(zap.String("command", "run"))

		in := pipeline.Input{
			NoCache: runNoCache,
			Resume:  runResume,
		}
		if runSkipSteps != "" {
			in.SkipSteps = splitAndTrim(runSkipSteps)
		}

		latSet := cmd.Flags().Changed("lat")
		lonSet := cmd.Flags().Changed("lon")
		if latSet != lonSet {
			return eris.New("run: --lat and --lon must be given together")
		}

		if runPlace != "" {
			if latSet {
				return eris.New("run: --place and --lat/--lon are mutually exclusive")
			}
			place, err := nominatim.NewClient().Search(ctx, runPlace)
			if err != nil {
				return eris.Wrapf(err, "run: geocode %q", runPlace)
			}
			log.Info("place geocoded",
				zap.String("place", place.DisplayName),
				zap.Float64("lat", place.Lat),
				zap.Float64("lon", place.Lon),
			)
			runLat, runLon = place.Lat, place.Lon
			latSet = true
		}

		if cmd.Flags().Changed("radius") && !latSet {
			return eris.New("run: --radius needs a center; give --lat/--lon or --place")
		}

		if latSet {
			in.Lat, in.Lon = &runLat, &runLon
		}
		if cmd.Flags().Changed("radius") {
			in.RadiusKM = &runRadius
		}
		if cmd.Flags().Changed("resolution") {
			in.Resolution = &runResolution
		}

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

		p, err := pipeline.New(cfg, st, cm)
		if err != nil {
			return err
		}

		out, err := p.Run(ctx, in)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		log.Info("run complete",
			zap.String("run_id", out.Run.ID),
			zap.String("aoi", out.Run.AOI),
			zap.Int("resolution", out.Run.Resolution),
			zap.Int("cells_scored", len(out.Scores)),
			zap.Bool("degraded", out.Report.Degraded()),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runResult{
			Run:       out.Run,
			Grades:    gradeHistogram(out.Scores),
			Artifacts: out.Artifacts,
		})
	},
}

func init() {
	f := runCmd.Flags()
	f.Float64Var(&runLat, "lat", 0, "AOI center latitude")
	f.Float64Var(&runLon, "lon", 0, "AOI center longitude")
	f.Float64Var(&runRadius, "radius", 0, "AOI radius in km (default from config)")
	f.IntVar(&runResolution, "resolution", 0, "H3 resolution override")
	f.StringVar(&runPlace, "place", "", "geocode a place name as the AOI center")
	f.BoolVar(&runNoCache, "no-cache", false, "recompute every stage, replacing cache entries")
	f.StringVar(&runResume, "resume", "", "resume an earlier run by id")
	f.StringVar(&runSkipSteps, "skip-steps", "", "comma-separated steps to serve from cache (clip,table,index,aggregate)")
	rootCmd.AddCommand(runCmd)
}

// runResult is the JSON summary printed after a run. Full per-cell output
// lives in the run's artifacts.
type runResult struct {
	Run       *model.Run       `json:"run"`
	Grades    map[string]int   `json:"grades"`
	Artifacts []model.Artifact `json:"artifacts"`
}

// gradeHistogram counts scored cells per suitability grade.
func gradeHistogram(scores []scorer.CellScore) map[string]int {
	hist := make(map[string]int, 4)
	for _, s := range scores {
		hist[string(s.Grade)]++
	}
	return hist
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
