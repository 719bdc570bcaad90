package model

import (
	"fmt"
	"time"
)

// Property identifies one of the soil properties the pipeline scores.
type Property string

const (
	PropMoisture    Property = "moisture"
	PropSOC         Property = "soc"
	PropPH          Property = "ph"
	PropTemperature Property = "temperature"
)

// Properties lists all scored properties in canonical order.
var Properties = []Property{PropMoisture, PropSOC, PropPH, PropTemperature}

// Required reports whether scoring fails hard when the property is absent.
// Organic carbon and pH drive the suitability result; moisture and
// temperature fall back to documented defaults.
func (p Property) Required() bool {
	return p == PropSOC || p == PropPH
}

// DepthBand distinguishes depth-banded layers of the same property.
type DepthBand string

const (
	DepthNone DepthBand = ""
	DepthB0   DepthBand = "b0"
	DepthB10  DepthBand = "b10"
)

// Dataset is one raster layer on disk: a property at an optional depth
// band, plus the source identity the cache layer keys on.
type Dataset struct {
	Property Property  `json:"property"`
	Band     DepthBand `json:"band,omitempty"`
	Path     string    `json:"path"`
	ModTime  time.Time `json:"mod_time"`
}

// Key is the dataset's stable identifier, used as the value column name
// in point and hex tables: "moisture", "soc_b0", "ph_b10", "temperature".
func (d Dataset) Key() string {
	if d.Band == DepthNone {
		return string(d.Property)
	}
	return fmt.Sprintf("%s_%s", d.Property, d.Band)
}
