package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/cache"
	"github.com/cerrado-geo/soilhex-cli/internal/export"
	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
)

// aggregateStage merges the indexed tables into per-cell aggregates. The
// entry is keyed on every source file at once, so touching any dataset
// retires the merged table along with that dataset's own entries. The
// artifact shares the aggregates export format, which makes a cache hit
// indistinguishable from a fresh merge downstream.
func (p *Pipeline) aggregateStage(ctx context.Context, st *runState, log *zap.Logger, datasets []model.Dataset) ([]hexgrid.Aggregate, error) {
	sources := make([]cache.Source, 0, len(datasets))
	for _, ds := range datasets {
		src, err := cache.StatSource(ds.Path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	in := cache.KeyInputs{
		Operation: "aggregate",
		AOI:       st.area.CacheKeyPart(),
		Params: []string{
			"policy_" + string(p.policy),
			fmt.Sprintf("res_%d", st.resolution),
		},
		Sources: sources,
	}

	res, err := p.cachedStep(ctx, st, log, model.StepAggregate, "", cache.FamilyHex, in,
		func(stageDir string) ([]string, error) {
			aggs, err := hexgrid.Merge(st.sortedIndexed())
			if err != nil {
				return nil, err
			}
			path := filepath.Join(stageDir, aggregatesFile)
			if _, err := export.WriteAggregatesCSV(path, aggs, export.DatasetKeys(aggs)); err != nil {
				return nil, err
			}
			return []string{aggregatesFile}, nil
		})
	if err != nil {
		return nil, err
	}

	path, err := artifact(res, aggregatesFile)
	if err != nil {
		return nil, err
	}
	return ReadAggregates(path)
}
