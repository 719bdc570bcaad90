// Package scorer grades hex aggregates for biochar suitability.
//
// Each property mean maps to a discrete sub-score through its grading
// bands, the sub-scores combine into a weighted soil quality index, and
// suitability is its inverse: biochar pays off where soil is poor, so a
// degraded cell grades High while healthy soil grades Not Suitable.
package scorer

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
)

// ErrMissingRequiredProperty reports that organic carbon or pH is absent
// from every aggregated cell. The other steps may still have succeeded;
// only scoring is impossible.
var ErrMissingRequiredProperty = eris.New("scorer: required property missing from aggregates")

// Grade buckets a suitability score for mapping and recommendations.
type Grade string

const (
	GradeHigh        Grade = "High Suitability"
	GradeModerate    Grade = "Moderate Suitability"
	GradeLow         Grade = "Low Suitability"
	GradeNotSuitable Grade = "Not Suitable"
)

// GradeFor assigns the grade for a 0..100 suitability score.
func GradeFor(score float64) Grade {
	switch {
	case score >= 76:
		return GradeHigh
	case score >= 51:
		return GradeModerate
	case score >= 26:
		return GradeLow
	default:
		return GradeNotSuitable
	}
}

// Color returns the map color for the grade.
func (g Grade) Color() string {
	switch g {
	case GradeHigh:
		return "#d32f2f"
	case GradeModerate:
		return "#f57c00"
	case GradeLow:
		return "#fbc02d"
	default:
		return "#388e3c"
	}
}

// Recommendation returns the advisory text for the grade.
func (g Grade) Recommendation() string {
	switch g {
	case GradeHigh:
		return "Very suitable – biochar highly recommended"
	case GradeModerate:
		return "Suitable – biochar recommended"
	case GradeLow:
		return "Marginal – biochar may help"
	default:
		return "Healthy soil – biochar not needed"
	}
}

// Rating names a sub-score the way the grading tables read.
func Rating(subscore int) string {
	switch subscore {
	case 3:
		return "Good"
	case 2:
		return "Moderate"
	case 1:
		return "Poor"
	default:
		return "Very Poor"
	}
}

// CellScore holds the scoring result for a single hex cell.
type CellScore struct {
	Cell       h3.Cell `json:"-"`
	CellID     string  `json:"cell_id"`
	Lon        float64 `json:"lon"`
	Lat        float64 `json:"lat"`
	PointCount int     `json:"point_count"`
	// Inputs are the property values actually graded, after depth-band
	// averaging and fallback substitution.
	Inputs       map[model.Property]float64 `json:"inputs"`
	Subscores    map[model.Property]int    `json:"subscores"`
	Weighted     float64                   `json:"weighted_score"`
	QualityIndex float64                   `json:"soil_quality_index"`
	Suitability  float64                   `json:"suitability_score"`
	Rescaled     float64                   `json:"suitability_0_10"`
	Grade        Grade                     `json:"grade"`
	LowCount     bool                      `json:"low_count,omitempty"`
}

// Output bundles the scored cells with the degradation counters the run
// report surfaces.
type Output struct {
	Scores []CellScore
	// Skipped counts cells dropped for missing or implausible values.
	Skipped int
	// LowCount counts cells scored from fewer points than the warning
	// floor. They are flagged, not dropped.
	LowCount int
}

// Scorer grades hex aggregates against a set of thresholds.
type Scorer struct {
	thresholds    Thresholds
	lowCountFloor int
}

// New builds a Scorer after validating the thresholds.
func New(t Thresholds, lowCountFloor int) (*Scorer, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{thresholds: t, lowCountFloor: lowCountFloor}, nil
}

// Score grades every aggregate. Cells missing a required value or failing
// the plausibility checks are skipped with a count; an entirely absent
// required property fails the whole call.
func (s *Scorer) Score(aggs []hexgrid.Aggregate) (*Output, error) {
	if len(aggs) == 0 {
		return nil, eris.New("scorer: no aggregates to score")
	}
	for _, prop := range model.Properties {
		if !prop.Required() {
			continue
		}
		if !anyCellHas(aggs, prop) {
			return nil, eris.Wrapf(ErrMissingRequiredProperty, "scorer: %s absent from every cell", propertyLabel(prop))
		}
	}

	maxWeighted := s.thresholds.MaxWeighted()
	out := &Output{Scores: make([]CellScore, 0, len(aggs))}
	for _, agg := range aggs {
		score, reason := s.scoreCell(agg, maxWeighted)
		if reason != "" {
			out.Skipped++
			zap.L().Debug("cell skipped",
				zap.String("cell", agg.Cell.String()),
				zap.String("reason", reason))
			continue
		}
		if score.LowCount {
			out.LowCount++
		}
		out.Scores = append(out.Scores, *score)
	}

	if out.Skipped > 0 {
		zap.L().Info("cells skipped during scoring", zap.Int("cells", out.Skipped))
	}
	if out.LowCount > 0 {
		zap.L().Warn("cells scored from thin point support",
			zap.Int("cells", out.LowCount),
			zap.Int("floor", s.lowCountFloor))
	}
	return out, nil
}

// scoreCell grades one aggregate, returning a skip reason instead of a
// score when the cell cannot be graded.
func (s *Scorer) scoreCell(agg hexgrid.Aggregate, maxWeighted float64) (*CellScore, string) {
	inputs := make(map[model.Property]float64, len(model.Properties))
	for _, prop := range model.Properties {
		v, ok := meanForProperty(agg, prop)
		if !ok {
			pt := s.thresholds[prop]
			if pt.Fallback == nil {
				return nil, fmt.Sprintf("%s value missing", propertyLabel(prop))
			}
			v = *pt.Fallback
		}
		inputs[prop] = v
	}
	if reason := plausible(inputs); reason != "" {
		return nil, reason
	}

	subs := make(map[model.Property]int, len(model.Properties))
	weighted := 0.0
	for _, prop := range model.Properties {
		sub := s.thresholds[prop].Subscore(inputs[prop])
		subs[prop] = sub
		weighted += float64(sub) * s.thresholds[prop].Weight
	}

	quality := round2(weighted / maxWeighted * 100.0)
	suitability := round2(100.0 - quality)

	return &CellScore{
		Cell:         agg.Cell,
		CellID:       agg.Cell.String(),
		Lon:          agg.Lon,
		Lat:          agg.Lat,
		PointCount:   agg.PointCount,
		Inputs:       inputs,
		Subscores:    subs,
		Weighted:     weighted,
		QualityIndex: quality,
		Suitability:  suitability,
		Rescaled:     suitability / 10.0,
		Grade:        GradeFor(suitability),
		LowCount:     s.lowCountFloor > 0 && agg.PointCount < s.lowCountFloor,
	}, ""
}

// meanForProperty averages the property's value columns, combining the
// shallow and deep depth bands when both are present.
func meanForProperty(agg hexgrid.Aggregate, prop model.Property) (float64, bool) {
	sum, n := 0.0, 0
	for _, band := range []model.DepthBand{model.DepthNone, model.DepthB0, model.DepthB10} {
		key := model.Dataset{Property: prop, Band: band}.Key()
		if v, ok := agg.Means[key]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func anyCellHas(aggs []hexgrid.Aggregate, prop model.Property) bool {
	for _, agg := range aggs {
		if _, ok := meanForProperty(agg, prop); ok {
			return true
		}
	}
	return false
}

// plausible rejects values no soil exhibits, which indicate a unit or
// nodata mishap upstream rather than real ground.
func plausible(in map[model.Property]float64) string {
	for _, prop := range model.Properties {
		if math.IsNaN(in[prop]) {
			return fmt.Sprintf("%s is NaN", propertyLabel(prop))
		}
	}
	if m := in[model.PropMoisture]; m < 0 || m > 100 {
		return fmt.Sprintf("moisture %.2f outside 0..100", m)
	}
	if soc := in[model.PropSOC]; soc < 0 {
		return fmt.Sprintf("organic carbon %.2f negative", soc)
	}
	if ph := in[model.PropPH]; ph < 0 || ph > 14 {
		return fmt.Sprintf("pH %.2f outside 0..14", ph)
	}
	return ""
}

func propertyLabel(p model.Property) string {
	switch p {
	case model.PropSOC:
		return "organic carbon"
	case model.PropPH:
		return "pH"
	default:
		return string(p)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100.0) / 100.0
}
