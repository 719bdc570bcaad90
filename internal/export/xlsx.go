package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/scorer"
)

// WriteWorkbook writes both run tables into one workbook: an Aggregates
// sheet mirroring the aggregate CSV and a Scores sheet mirroring the
// score CSV.
func WriteWorkbook(path string, aggs []hexgrid.Aggregate, keys []string, scores []scorer.CellScore) (int64, error) {
	f := xlsx.NewFile()

	if err := addAggregateSheet(f, aggs, keys); err != nil {
		return 0, err
	}
	if err := addScoreSheet(f, scores); err != nil {
		return 0, err
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "export: save workbook %s", path)
	}
	return fileSize(path)
}

func addAggregateSheet(f *xlsx.File, aggs []hexgrid.Aggregate, keys []string) error {
	sheet, err := f.AddSheet("Aggregates")
	if err != nil {
		return eris.Wrap(err, "export: add Aggregates sheet")
	}

	header := sheet.AddRow()
	for _, col := range aggregateColumns(keys) {
		header.AddCell().SetString(col)
	}

	for _, agg := range aggs {
		row := sheet.AddRow()
		row.AddCell().SetString(agg.Cell.String())
		row.AddCell().SetFloat(agg.Lon)
		row.AddCell().SetFloat(agg.Lat)
		row.AddCell().SetInt(agg.PointCount)
		for _, key := range keys {
			cell := row.AddCell()
			if v, ok := agg.Means[key]; ok {
				cell.SetFloat(v)
			}
		}
	}
	return nil
}

func addScoreSheet(f *xlsx.File, scores []scorer.CellScore) error {
	sheet, err := f.AddSheet("Scores")
	if err != nil {
		return eris.Wrap(err, "export: add Scores sheet")
	}

	header := sheet.AddRow()
	for _, col := range scoreColumns {
		header.AddCell().SetString(col)
	}

	for _, sc := range scores {
		row := sheet.AddRow()
		row.AddCell().SetString(sc.CellID)
		row.AddCell().SetFloat(sc.Suitability)
		row.AddCell().SetFloat(sc.Rescaled)
		row.AddCell().SetString(string(sc.Grade))
		row.AddCell().SetInt(sc.Subscores[model.PropMoisture])
		row.AddCell().SetInt(sc.Subscores[model.PropSOC])
		row.AddCell().SetInt(sc.Subscores[model.PropPH])
		row.AddCell().SetInt(sc.Subscores[model.PropTemperature])
		row.AddCell().SetFloat(sc.QualityIndex)
		row.AddCell().SetInt(sc.PointCount)
		row.AddCell().SetBool(sc.LowCount)
	}
	return nil
}
