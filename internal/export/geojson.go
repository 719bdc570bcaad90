package export

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/scorer"
)

// FeatureCollection builds the mapping layer: one polygon feature per
// scored cell, carrying the score, grade, map color, and advisory text.
// Boundary polygons are materialized here, once per scored cell.
func FeatureCollection(scores []scorer.CellScore) (*geojson.FeatureCollection, error) {
	feats := make([]*geojson.Feature, 0, len(scores))
	for _, sc := range scores {
		poly, err := hexgrid.BoundaryPolygon(sc.Cell)
		if err != nil {
			return nil, eris.Wrapf(err, "export: feature for %s", sc.CellID)
		}

		props := map[string]interface{}{
			"cell_id":          sc.CellID,
			"point_count":      sc.PointCount,
			"moisture":         sc.Inputs[model.PropMoisture],
			"soc":              sc.Inputs[model.PropSOC],
			"ph":               sc.Inputs[model.PropPH],
			"temperature":      sc.Inputs[model.PropTemperature],
			"suitability":      sc.Suitability,
			"suitability_0_10": sc.Rescaled,
			"grade":            string(sc.Grade),
			"color":            sc.Grade.Color(),
			"recommendation":   sc.Grade.Recommendation(),
		}
		if sc.LowCount {
			props["low_count"] = true
		}

		feats = append(feats, &geojson.Feature{
			ID:         sc.CellID,
			Geometry:   poly,
			Properties: props,
		})
	}
	return &geojson.FeatureCollection{Features: feats}, nil
}

// WriteGeoJSON writes the scored layer as a FeatureCollection file.
func WriteGeoJSON(path string, scores []scorer.CellScore) (int64, error) {
	fc, err := FeatureCollection(scores)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return 0, eris.Wrap(err, "export: marshal feature collection")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, eris.Wrapf(err, "export: write %s", path)
	}
	return int64(len(data)), nil
}
