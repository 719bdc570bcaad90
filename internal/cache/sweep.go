package cache

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SweepResult reports what a sweep removed.
type SweepResult struct {
	Removed    int
	FreedBytes int64
}

// Sweep removes circle-AOI entries whose key part is not in keep, bounding
// cache growth across exploratory runs. Full-extent entries always survive;
// callers put the configured allow-list and the current run's AOI in keep.
// Entries with unreadable metadata are removed as debris. Staging
// directories of in-flight writers are left alone.
func (m *Manager) Sweep(keep []string) (SweepResult, error) {
	kept := make(map[string]struct{}, len(keep)+1)
	kept[fullExtentAOI] = struct{}{}
	for _, part := range keep {
		kept[part] = struct{}{}
	}

	var result SweepResult
	for _, family := range Families {
		entries, err := os.ReadDir(m.familyDir(family))
		if err != nil {
			return result, eris.Wrapf(err, "cache: list %s family", family)
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".stage-") {
				continue
			}
			dir := filepath.Join(m.familyDir(family), entry.Name())
			meta, err := m.ReadMeta(family, entry.Name())
			if err == nil {
				if _, ok := kept[meta.AOI]; ok {
					continue
				}
			}
			size, _ := dirSize(dir)
			if err := os.RemoveAll(dir); err != nil {
				return result, eris.Wrapf(err, "cache: sweep %s entry %s", family, entry.Name())
			}
			result.Removed++
			result.FreedBytes += size
			zap.L().Debug("cache entry swept",
				zap.String("family", string(family)),
				zap.String("key", entry.Name()),
				zap.Int64("bytes", size))
		}
	}
	return result, nil
}

// Clear removes every entry in every family and reports how many went.
func (m *Manager) Clear() (int, error) {
	count := 0
	for _, family := range Families {
		entries, err := os.ReadDir(m.familyDir(family))
		if err != nil {
			return count, eris.Wrapf(err, "cache: list %s family", family)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(m.familyDir(family), entry.Name())
			if err := os.RemoveAll(dir); err != nil {
				return count, eris.Wrapf(err, "cache: clear %s entry %s", family, entry.Name())
			}
			if !strings.HasPrefix(entry.Name(), ".stage-") {
				count++
			}
		}
	}
	return count, nil
}

// FamilyStats summarizes one cache family.
type FamilyStats struct {
	Entries int
	Bytes   int64
}

// Stats sizes every family for status reporting.
func (m *Manager) Stats() (map[Family]FamilyStats, error) {
	out := make(map[Family]FamilyStats, len(Families))
	for _, family := range Families {
		entries, err := os.ReadDir(m.familyDir(family))
		if err != nil {
			return nil, eris.Wrapf(err, "cache: list %s family", family)
		}
		var stats FamilyStats
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".stage-") {
				continue
			}
			size, err := dirSize(filepath.Join(m.familyDir(family), entry.Name()))
			if err != nil {
				return nil, err
			}
			stats.Entries++
			stats.Bytes += size
		}
		out[family] = stats
	}
	return out, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "cache: size %s", dir)
	}
	return total, nil
}
