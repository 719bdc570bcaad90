package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/cache"
	"github.com/cerrado-geo/soilhex-cli/internal/clip"
	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/raster"
	"github.com/cerrado-geo/soilhex-cli/internal/table"
)

// processDataset carries one dataset through clip, table, and index.
// Each stage reads its input from the previous stage's cache entry, so a
// worker holds at most one raster in memory at a time and an interrupted
// run loses nothing that was already promoted.
func (p *Pipeline) processDataset(ctx context.Context, st *runState, ds model.Dataset) error {
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("run_id", st.run.ID),
		zap.String("dataset", ds.Key()),
	)

	src, err := cache.StatSource(ds.Path)
	if err != nil {
		return err
	}
	aoiKey := st.area.CacheKeyPart()
	policyParam := "policy_" + string(p.policy)

	clipRes, err := p.cachedStep(ctx, st, log, model.StepClip, ds.Key(), cache.FamilyClip,
		cache.KeyInputs{
			Operation: "clip",
			AOI:       aoiKey,
			Sources:   []cache.Source{src},
		},
		func(stageDir string) ([]string, error) {
			r, err := raster.Open(ds.Path)
			if err != nil {
				return nil, err
			}
			res, err := clip.Apply(r, st.area)
			if err != nil {
				return nil, err
			}
			if err := raster.Write(filepath.Join(stageDir, clipRasterFile), res.Raster); err != nil {
				return nil, err
			}
			if err := writeCoverage(filepath.Join(stageDir, coverageFile), res.Coverage); err != nil {
				return nil, err
			}
			return []string{clipRasterFile, coverageFile}, nil
		})
	if err != nil {
		return err
	}

	covPath, err := artifact(clipRes, coverageFile)
	if err != nil {
		return err
	}
	cov, err := readCoverage(covPath)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	tableRes, err := p.cachedStep(ctx, st, log, model.StepTable, ds.Key(), cache.FamilyTable,
		cache.KeyInputs{
			Operation: "table",
			AOI:       aoiKey,
			Params:    []string{policyParam},
			Sources:   []cache.Source{src},
		},
		func(stageDir string) ([]string, error) {
			clipPath, err := artifact(clipRes, clipRasterFile)
			if err != nil {
				return nil, err
			}
			r, err := raster.Open(clipPath)
			if err != nil {
				return nil, err
			}
			t, err := table.Convert(ds, r, p.policy)
			if err != nil {
				return nil, err
			}
			return writeTable(stageDir, t)
		})
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	indexRes, err := p.cachedStep(ctx, st, log, model.StepIndex, ds.Key(), cache.FamilyHex,
		cache.KeyInputs{
			Operation: "index",
			AOI:       aoiKey,
			Params:    []string{policyParam, fmt.Sprintf("res_%d", st.resolution)},
			Sources:   []cache.Source{src},
		},
		func(stageDir string) ([]string, error) {
			t, err := readTableResult(tableRes)
			if err != nil {
				return nil, err
			}
			it, err := hexgrid.Index(t, st.resolution)
			if err != nil {
				return nil, err
			}
			return writeIndexed(stageDir, it)
		})
	if err != nil {
		return err
	}

	it, err := readIndexedResult(indexRes)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.indexed[ds.Key()] = it
	st.report.FilteredRows += it.FilteredRows
	st.report.FractionValid[ds.Key()] = cov.FractionValidPixels
	if cov.TouchesBoundary {
		st.report.TouchesBoundary = true
	}
	st.mu.Unlock()

	log.Debug("dataset ready",
		zap.Int("records", len(it.Records)),
		zap.Int("filtered_rows", it.FilteredRows),
		zap.Float64("fraction_valid", cov.FractionValidPixels),
	)
	return nil
}

// artifact finds one named file among a cache result's artifacts.
func artifact(res cache.Result, name string) (string, error) {
	for _, path := range res.Artifacts {
		if filepath.Base(path) == name {
			return path, nil
		}
	}
	return "", eris.Errorf("pipeline: cache entry %s has no %s artifact", res.Key, name)
}

func readTableResult(res cache.Result) (*table.Table, error) {
	metaPath, err := artifact(res, tableMetaFile)
	if err != nil {
		return nil, err
	}
	pointsPath, err := artifact(res, tablePointsFile)
	if err != nil {
		return nil, err
	}
	return readTable(metaPath, pointsPath)
}

func readIndexedResult(res cache.Result) (*hexgrid.IndexedTable, error) {
	metaPath, err := artifact(res, indexMetaFile)
	if err != nil {
		return nil, err
	}
	cellsPath, err := artifact(res, indexCellsFile)
	if err != nil {
		return nil, err
	}
	return readIndexed(metaPath, cellsPath)
}
