package raster

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/model"
)

// propertyKeywords maps filename substrings to dataset identity; first
// match wins, so the more specific patterns come first.
var propertyKeywords = []struct {
	substr string
	prop   model.Property
}{
	{"moisture", model.PropMoisture},
	{"organic_carbon", model.PropSOC},
	{"soc", model.PropSOC},
	{"soil_ph", model.PropPH},
	{"_ph", model.PropPH},
	{"temperature", model.PropTemperature},
	{"temp", model.PropTemperature},
}

// Discover scans a directory for raster layers and identifies each by
// filename keyword plus optional depth-band suffix. When both 250 m and
// 3000 m variants of the same layer exist, the 250 m file wins and the
// coarse one is dropped. Unrecognized files are skipped with a count.
func Discover(dir string) ([]model.Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: read data dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".nc") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, eris.Errorf("raster: no .nc datasets in %s (run fetch first)", dir)
	}

	fine := make(map[string]bool, len(names))
	for _, n := range names {
		if strings.Contains(n, "res_250") {
			fine[n] = true
		}
	}

	byKey := make(map[string]model.Dataset)
	var skipped, superseded int

	for _, name := range names {
		if strings.Contains(name, "res_3000") &&
			fine[strings.Replace(name, "res_3000", "res_250", 1)] {
			superseded++
			continue
		}

		lower := strings.ToLower(name)
		prop, ok := matchProperty(lower)
		if !ok {
			skipped++
			continue
		}

		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: stat %s", path)
		}

		ds := model.Dataset{
			Property: prop,
			Band:     matchBand(lower),
			Path:     path,
			ModTime:  info.ModTime(),
		}
		if prev, dup := byKey[ds.Key()]; dup {
			return nil, eris.Errorf("raster: datasets %s and %s both map to %s",
				prev.Path, ds.Path, ds.Key())
		}
		byKey[ds.Key()] = ds
	}

	if skipped > 0 || superseded > 0 {
		zap.L().Debug("raster: dataset discovery skipped files",
			zap.String("dir", dir),
			zap.Int("unrecognized", skipped),
			zap.Int("superseded", superseded),
		)
	}

	if len(byKey) == 0 {
		return nil, eris.Errorf("raster: no recognizable datasets in %s", dir)
	}

	out := make([]model.Dataset, 0, len(byKey))
	for _, ds := range byKey {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func matchProperty(name string) (model.Property, bool) {
	for _, kw := range propertyKeywords {
		if strings.Contains(name, kw.substr) {
			return kw.prop, true
		}
	}
	return "", false
}

func matchBand(name string) model.DepthBand {
	// _b10 first: checking _b0 first would never let it match.
	if strings.Contains(name, "_b10") {
		return model.DepthB10
	}
	if strings.Contains(name, "_b0") {
		return model.DepthB0
	}
	return model.DepthNone
}
