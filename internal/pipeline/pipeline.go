// Package pipeline runs the analysis end to end: resolve the AOI,
// discover source rasters, clip/flatten/index each dataset in parallel,
// merge the indexed tables into hex aggregates, score them, and write
// the run's artifacts. The cache-backed stages go through the artifact
// cache transparently, and run progress lands in the store so an
// interrupted run can resume where it stopped.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cerrado-geo/soilhex-cli/internal/aoi"
	"github.com/cerrado-geo/soilhex-cli/internal/cache"
	"github.com/cerrado-geo/soilhex-cli/internal/config"
	"github.com/cerrado-geo/soilhex-cli/internal/export"
	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/raster"
	"github.com/cerrado-geo/soilhex-cli/internal/scorer"
	"github.com/cerrado-geo/soilhex-cli/internal/store"
	"github.com/cerrado-geo/soilhex-cli/internal/table"
)

// Input selects what one run computes.
type Input struct {
	// Lat and Lon center a circular AOI; leave both nil for the full
	// region extent. RadiusKM falls back to the default when nil.
	Lat, Lon, RadiusKM *float64
	// Resolution overrides the configured hex resolution.
	Resolution *int
	// NoCache recomputes every stage, replacing cache entries instead of
	// reading them.
	NoCache bool
	// Resume continues an earlier run by id. The AOI and resolution come
	// from the run record; coordinate fields are ignored.
	Resume string
	// SkipSteps names steps that must be served from cache without
	// recomputation. Only cache-backed steps qualify.
	SkipSteps []string
}

// Outcome is one finished run with its scored layer still in memory, so
// callers can publish or render it without reparsing artifacts.
type Outcome struct {
	Run        *model.Run
	Report     *model.RunReport
	Aggregates []hexgrid.Aggregate
	Scores     []scorer.CellScore
	Artifacts  []model.Artifact
}

// Pipeline executes runs. It is immutable after New and safe to share.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	cache    *cache.Manager
	resolver *aoi.Resolver
	scorer   *scorer.Scorer
	policy   table.NodataPolicy
}

// New builds a pipeline from configuration. Thresholds come from the
// configured file when one is set, otherwise the compiled defaults.
func New(cfg *config.Config, st store.Store, cm *cache.Manager) (*Pipeline, error) {
	policy, err := table.ParsePolicy(cfg.Pipeline.NodataPolicy)
	if err != nil {
		return nil, err
	}

	thresholds := scorer.Defaults()
	if cfg.Scoring.ThresholdsFile != "" {
		if thresholds, err = scorer.Load(cfg.Scoring.ThresholdsFile); err != nil {
			return nil, err
		}
	}
	sc, err := scorer.New(thresholds, cfg.Scoring.LowCountWarning)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		store:    st,
		cache:    cm,
		resolver: aoi.NewResolver(cfg.Region, cfg.Hex),
		scorer:   sc,
		policy:   policy,
	}, nil
}

// skippable lists the steps --skip-steps may name. They are exactly the
// cache-backed ones; scoring has no cached artifact to serve it from.
var skippable = map[string]bool{
	model.StepClip:      true,
	model.StepTable:     true,
	model.StepIndex:     true,
	model.StepAggregate: true,
}

// runState is the mutable state of one Run call, shared by the dataset
// workers under mu.
type runState struct {
	run        *model.Run
	area       aoi.AreaOfInterest
	resolution int
	noCache    bool
	// done holds step keys already completed by the run being resumed;
	// forced holds step names the caller insists on skipping.
	done   map[string]bool
	forced map[string]bool

	mu      sync.Mutex
	report  model.RunReport
	indexed map[string]*hexgrid.IndexedTable
}

func (st *runState) countHit() {
	st.mu.Lock()
	st.report.CacheHits++
	st.mu.Unlock()
}

func (st *runState) countMiss() {
	st.mu.Lock()
	st.report.CacheMisses++
	st.mu.Unlock()
}

// sortedIndexed returns the indexed tables in dataset-key order so the
// merge input never depends on worker completion order.
func (st *runState) sortedIndexed() []*hexgrid.IndexedTable {
	st.mu.Lock()
	defer st.mu.Unlock()
	keys := make([]string, 0, len(st.indexed))
	for k := range st.indexed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*hexgrid.IndexedTable, 0, len(keys))
	for _, k := range keys {
		out = append(out, st.indexed[k])
	}
	return out
}

// Run executes one full run and finalizes its record, successful or not.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Outcome, error) {
	st, err := p.begin(ctx, in)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("run_id", st.run.ID),
		zap.String("aoi", st.area.String()),
	)
	log.Info("run started",
		zap.Int("resolution", st.resolution),
		zap.Bool("no_cache", st.noCache),
		zap.Bool("resumed", in.Resume != ""),
	)

	if err := p.store.UpdateRunStatus(ctx, st.run.ID, model.RunStatusRunning); err != nil {
		log.Warn("update run status", zap.Error(err))
	}

	start := time.Now()
	out, runErr := p.execute(ctx, st, log)
	if cerr := p.store.CompleteRun(ctx, st.run.ID, &st.report, runErr); cerr != nil {
		log.Warn("complete run", zap.Error(cerr))
	}
	if runErr != nil {
		log.Error("run failed", zap.Error(runErr))
		return nil, runErr
	}

	finished := time.Now().UTC()
	st.run.Status = model.RunStatusComplete
	st.run.Report = &st.report
	st.run.FinishedAt = &finished

	p.sweepCache(log, st)

	log.Info("run complete",
		zap.Int("cells", st.report.CellCount),
		zap.Int("scored", st.report.ScoredCells),
		zap.Int("cache_hits", st.report.CacheHits),
		zap.Int("cache_misses", st.report.CacheMisses),
		zap.Bool("degraded", st.report.Degraded()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// begin resolves the run's AOI and record, either fresh or resumed.
func (p *Pipeline) begin(ctx context.Context, in Input) (*runState, error) {
	forced := make(map[string]bool, len(in.SkipSteps))
	for _, s := range in.SkipSteps {
		if !skippable[s] {
			return nil, eris.Errorf(
				"pipeline: step %q cannot be skipped (skippable: clip, table, index, aggregate)", s)
		}
		forced[s] = true
	}

	st := &runState{
		noCache: in.NoCache,
		done:    map[string]bool{},
		forced:  forced,
		indexed: map[string]*hexgrid.IndexedTable{},
	}
	st.report.FractionValid = map[string]float64{}

	if in.Resume != "" {
		run, err := p.store.GetRun(ctx, in.Resume)
		if err != nil {
			return nil, err
		}
		area, err := aoi.ParseCacheKeyPart(run.AOI)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: resume run %s", run.ID)
		}
		done, err := p.store.CompletedSteps(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		st.run, st.area, st.resolution, st.done = run, area, run.Resolution, done
		return st, nil
	}

	area, err := p.resolver.Resolve(aoi.Request{Lat: in.Lat, Lon: in.Lon, RadiusKM: in.RadiusKM})
	if err != nil {
		return nil, err
	}
	res, err := p.resolver.HexResolution(area, in.Resolution)
	if err != nil {
		return nil, err
	}
	run, err := p.store.CreateRun(ctx, area.CacheKeyPart(), res)
	if err != nil {
		return nil, err
	}
	st.run, st.area, st.resolution = run, area, res
	return st, nil
}

// execute runs the stages. Completion bookkeeping stays in Run so the
// record is finalized exactly once.
func (p *Pipeline) execute(ctx context.Context, st *runState, log *zap.Logger) (*Outcome, error) {
	datasets, err := raster.Discover(p.cfg.Data.Dir)
	if err != nil {
		return nil, err
	}
	if err := requireProperties(datasets); err != nil {
		return nil, err
	}
	for _, ds := range datasets {
		st.report.Datasets = append(st.report.Datasets, ds.Key())
	}
	log.Info("datasets discovered", zap.Strings("datasets", st.report.Datasets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.Workers)
	for _, ds := range datasets {
		ds := ds
		g.Go(func() error {
			return p.processDataset(gctx, st, ds)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	aggs, err := p.aggregateStage(ctx, st, log, datasets)
	if err != nil {
		return nil, err
	}
	st.report.CellCount = len(aggs)

	var scored *scorer.Output
	err = p.step(ctx, st, log, model.StepScore, func() error {
		var serr error
		scored, serr = p.scorer.Score(aggs)
		return serr
	})
	if err != nil {
		return nil, err
	}
	st.report.SkippedCells = scored.Skipped
	st.report.LowCountCells = scored.LowCount
	st.report.ScoredCells = len(scored.Scores)

	arts, err := p.writeArtifacts(ctx, st, log, aggs, scored.Scores)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Run:        st.run,
		Report:     &st.report,
		Aggregates: aggs,
		Scores:     scored.Scores,
		Artifacts:  arts,
	}, nil
}

// step runs a run-wide stage that has no cache family behind it and
// records the outcome.
func (p *Pipeline) step(ctx context.Context, st *runState, log *zap.Logger, step string, fn func() error) error {
	rec := model.StepRecord{RunID: st.run.ID, Step: step}
	start := time.Now()
	err := fn()
	rec.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		rec.Status = model.StepStatusFailed
		p.recordStep(ctx, log, rec)
		return eris.Wrapf(err, "pipeline: %s", step)
	}
	rec.Status = model.StepStatusComplete
	p.recordStep(ctx, log, rec)
	log.Debug("step complete",
		zap.String("step", step),
		zap.Int64("duration_ms", rec.DurationMS),
	)
	return nil
}

// cachedStep serves one cache-backed stage, honoring skip bookkeeping,
// and records the step outcome.
func (p *Pipeline) cachedStep(
	ctx context.Context,
	st *runState,
	log *zap.Logger,
	step, dataset string,
	family cache.Family,
	in cache.KeyInputs,
	compute func(stageDir string) ([]string, error),
) (cache.Result, error) {
	rec := model.StepRecord{RunID: st.run.ID, Step: step, Dataset: dataset}
	key := in.Key()

	if st.forced[step] {
		arts, ok := p.cache.Lookup(family, key, in.Sources)
		if !ok {
			return cache.Result{}, eris.Errorf(
				"pipeline: step %s skipped but the %s cache holds nothing for it; rerun without --skip-steps",
				rec.StepKey(), family)
		}
		rec.Status = model.StepStatusSkipped
		p.recordStep(ctx, log, rec)
		st.countHit()
		return cache.Result{Key: key, Dir: p.cache.EntryDir(family, key), Artifacts: arts, Hit: true}, nil
	}

	// A step the resumed run already completed is a pure cache read. Its
	// original step record stands; nothing is re-recorded.
	if st.done[rec.StepKey()] {
		if arts, ok := p.cache.Lookup(family, key, in.Sources); ok {
			log.Debug("step already complete, serving cached artifacts",
				zap.String("step", rec.StepKey()))
			st.countHit()
			return cache.Result{Key: key, Dir: p.cache.EntryDir(family, key), Artifacts: arts, Hit: true}, nil
		}
		log.Warn("completed step has no cache entry, recomputing",
			zap.String("step", rec.StepKey()))
	}

	if st.noCache {
		if err := p.cache.Invalidate(family, key); err != nil {
			return cache.Result{}, err
		}
	}

	start := time.Now()
	res, err := p.cache.Cached(family, in, compute)
	rec.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		rec.Status = model.StepStatusFailed
		p.recordStep(ctx, log, rec)
		return cache.Result{}, eris.Wrapf(err, "pipeline: %s", rec.StepKey())
	}
	rec.Status = model.StepStatusComplete
	p.recordStep(ctx, log, rec)
	if res.Hit {
		st.countHit()
	} else {
		st.countMiss()
	}
	log.Debug("step complete",
		zap.String("step", rec.StepKey()),
		zap.Bool("cache_hit", res.Hit),
		zap.Int64("duration_ms", rec.DurationMS),
	)
	return res, nil
}

func (p *Pipeline) recordStep(ctx context.Context, log *zap.Logger, rec model.StepRecord) {
	if err := p.store.RecordStep(ctx, rec); err != nil {
		log.Warn("record step", zap.String("step", rec.StepKey()), zap.Error(err))
	}
}

// writeArtifacts renders the run's output files and registers them.
func (p *Pipeline) writeArtifacts(
	ctx context.Context,
	st *runState,
	log *zap.Logger,
	aggs []hexgrid.Aggregate,
	scores []scorer.CellScore,
) ([]model.Artifact, error) {
	dir := filepath.Join(p.cfg.Export.Dir, st.run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create export dir %s", dir)
	}

	keys := export.DatasetKeys(aggs)
	writers := []struct {
		kind, name string
		write      func(path string) (int64, error)
	}{
		{export.KindAggregatesCSV, "aggregates.csv", func(path string) (int64, error) {
			return export.WriteAggregatesCSV(path, aggs, keys)
		}},
		{export.KindScoresCSV, "scores.csv", func(path string) (int64, error) {
			return export.WriteScoresCSV(path, scores)
		}},
		{export.KindGeoJSON, "suitability.geojson", func(path string) (int64, error) {
			return export.WriteGeoJSON(path, scores)
		}},
		{export.KindWorkbook, "soilhex.xlsx", func(path string) (int64, error) {
			return export.WriteWorkbook(path, aggs, keys, scores)
		}},
	}

	arts := make([]model.Artifact, 0, len(writers))
	for _, w := range writers {
		path := filepath.Join(dir, w.name)
		n, err := w.write(path)
		if err != nil {
			return nil, err
		}
		art := model.Artifact{RunID: st.run.ID, Kind: w.kind, Path: path, Bytes: n}
		if err := p.store.AddArtifact(ctx, art); err != nil {
			return nil, err
		}
		arts = append(arts, art)
		log.Info("artifact written",
			zap.String("kind", w.kind),
			zap.String("path", path),
			zap.Int64("bytes", n),
		)
	}
	return arts, nil
}

// sweepCache bounds cache growth after a successful run. Failures are
// logged, never fatal: the run produced its artifacts either way.
func (p *Pipeline) sweepCache(log *zap.Logger, st *runState) {
	keep := append([]string{st.area.CacheKeyPart()}, p.cfg.Cache.ProtectedAOIs...)
	res, err := p.cache.Sweep(keep)
	if err != nil {
		log.Warn("cache sweep", zap.Error(err))
		return
	}
	if res.Removed > 0 {
		log.Info("cache swept",
			zap.Int("removed", res.Removed),
			zap.Int64("freed_bytes", res.FreedBytes),
		)
	}
}

// requireProperties rejects inputs that cannot be scored before any work
// is spent on them. Moisture and temperature have scoring fallbacks;
// organic carbon and pH do not.
func requireProperties(datasets []model.Dataset) error {
	present := make(map[model.Property]bool, len(datasets))
	for _, ds := range datasets {
		present[ds.Property] = true
	}
	for _, prop := range model.Properties {
		if prop.Required() && !present[prop] {
			return eris.Wrapf(scorer.ErrMissingRequiredProperty, "no %s dataset discovered", prop)
		}
	}
	return nil
}
