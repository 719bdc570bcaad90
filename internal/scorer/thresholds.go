package scorer

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/cerrado-geo/soilhex-cli/internal/model"
)

// Band maps one value interval to a discrete sub-score. Nil bounds are
// open ends, so {min: 4} covers everything from 4 upward.
type Band struct {
	Min   *float64 `yaml:"min"`
	Max   *float64 `yaml:"max"`
	Score int      `yaml:"score"`
}

// PropertyThresholds grades one soil property.
type PropertyThresholds struct {
	Weight float64 `yaml:"weight"`
	// Fallback substitutes for cells where the property is absent. The
	// required properties never carry one.
	Fallback *float64 `yaml:"fallback,omitempty"`
	Bands    []Band   `yaml:"bands"`
}

// Subscore maps a value to its band's sub-score. Bands are tried in
// order with inclusive bounds and the first match wins; a value outside
// every band scores zero.
func (p PropertyThresholds) Subscore(v float64) int {
	for _, b := range p.Bands {
		if b.Min != nil && v < *b.Min {
			continue
		}
		if b.Max != nil && v > *b.Max {
			continue
		}
		return b.Score
	}
	return 0
}

// Thresholds holds the grading tables for every scored property.
type Thresholds map[model.Property]PropertyThresholds

// Defaults returns the built-in grading tables. Each property grades on a
// 0..3 scale where both tails of the value range score worst and a single
// optimal band scores best. Bands are ordered best-first so the inclusive
// boundaries resolve the way the agronomic tables read: the optimal band
// owns its endpoints, each ring outward owns the remainder.
func Defaults() Thresholds {
	return Thresholds{
		// Volumetric moisture in percent. Optimal 50..60.
		model.PropMoisture: {
			Weight:   0.5,
			Fallback: f64(50),
			Bands: []Band{
				{Min: f64(50), Max: f64(60), Score: 3},
				{Min: f64(30), Max: f64(50), Score: 2},
				{Min: f64(60), Max: f64(70), Score: 2},
				{Min: f64(20), Max: f64(30), Score: 1},
				{Min: f64(70), Max: f64(80), Score: 1},
			},
		},
		// Organic carbon in percent. More is better, saturating at 4.
		model.PropSOC: {
			Weight: 1.0,
			Bands: []Band{
				{Min: f64(4), Score: 3},
				{Min: f64(2), Max: f64(4), Score: 2},
				{Min: f64(1), Max: f64(2), Score: 1},
			},
		},
		// pH. Optimal 6..7, acceptable 4.5..8, marginal 3..9.
		model.PropPH: {
			Weight: 0.7,
			Bands: []Band{
				{Min: f64(6), Max: f64(7), Score: 3},
				{Min: f64(4.5), Max: f64(6), Score: 2},
				{Min: f64(7), Max: f64(8), Score: 2},
				{Min: f64(3), Max: f64(4.5), Score: 1},
				{Min: f64(8), Max: f64(9), Score: 1},
			},
		},
		// Soil temperature in degrees Celsius. Optimal 15..25.
		model.PropTemperature: {
			Weight:   0.2,
			Fallback: f64(20),
			Bands: []Band{
				{Min: f64(15), Max: f64(25), Score: 3},
				{Min: f64(10), Max: f64(15), Score: 2},
				{Min: f64(25), Max: f64(30), Score: 2},
				{Min: f64(0), Max: f64(10), Score: 1},
				{Min: f64(30), Max: f64(35), Score: 1},
			},
		},
	}
}

func f64(v float64) *float64 { return &v }

// Load reads grading tables from a YAML file under a top-level
// "thresholds" key. An empty path returns the compiled defaults.
func Load(path string) (Thresholds, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: read thresholds %s", path)
	}
	var wrapper struct {
		Thresholds Thresholds `yaml:"thresholds"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "scorer: parse thresholds %s", path)
	}
	if err := wrapper.Thresholds.Validate(); err != nil {
		return nil, err
	}
	return wrapper.Thresholds, nil
}

// Validate rejects tables that cannot grade every property.
func (t Thresholds) Validate() error {
	for prop := range t {
		known := false
		for _, p := range model.Properties {
			if prop == p {
				known = true
				break
			}
		}
		if !known {
			return eris.Errorf("scorer: thresholds name unknown property %q", prop)
		}
	}
	for _, prop := range model.Properties {
		pt, ok := t[prop]
		if !ok {
			return eris.Errorf("scorer: thresholds missing property %s", prop)
		}
		if pt.Weight <= 0 {
			return eris.Errorf("scorer: %s weight must be > 0", prop)
		}
		if len(pt.Bands) == 0 {
			return eris.Errorf("scorer: %s has no grading bands", prop)
		}
		for _, b := range pt.Bands {
			if b.Score < 0 || b.Score > 3 {
				return eris.Errorf("scorer: %s band score %d not in 0..3", prop, b.Score)
			}
			if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
				return eris.Errorf("scorer: %s band min %v above max %v", prop, *b.Min, *b.Max)
			}
		}
		if prop.Required() && pt.Fallback != nil {
			return eris.Errorf("scorer: %s drives the result and cannot take a fallback default", prop)
		}
	}
	return nil
}

// MaxWeighted is the best reachable weighted sum, every property at
// sub-score 3.
func (t Thresholds) MaxWeighted() float64 {
	sum := 0.0
	for _, prop := range model.Properties {
		sum += t[prop].Weight
	}
	return 3.0 * sum
}
