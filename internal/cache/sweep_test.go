package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedEntry promotes a minimal entry keyed on the given AOI part and
// returns its key.
func seedEntry(t *testing.T, m *Manager, family Family, op, aoi string) string {
	t.Helper()
	in := KeyInputs{Operation: op, AOI: aoi}
	res, err := m.Cached(family, in, writeArtifact(op+".out", "payload for "+aoi))
	require.NoError(t, err)
	return res.Key
}

func TestSweep_PreservesProtectedAOIs(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	const (
		protected = "-13.000000_-56.000000_100.00"
		current   = "-11.000000_-54.000000_25.00"
		stale     = "-12.500000_-55.250000_50.00"
	)

	fullKey := seedEntry(t, m, FamilyTable, "table", "full_extent")
	protKey := seedEntry(t, m, FamilyClip, "clip", protected)
	currKey := seedEntry(t, m, FamilyTable, "table", current)
	staleClip := seedEntry(t, m, FamilyClip, "clip", stale)
	staleHex := seedEntry(t, m, FamilyHex, "hex", stale)

	result, err := m.Sweep([]string{protected, current})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Removed)
	assert.Greater(t, result.FreedBytes, int64(0))

	assert.DirExists(t, m.EntryDir(FamilyTable, fullKey))
	assert.DirExists(t, m.EntryDir(FamilyClip, protKey))
	assert.DirExists(t, m.EntryDir(FamilyTable, currKey))
	assert.NoDirExists(t, m.EntryDir(FamilyClip, staleClip))
	assert.NoDirExists(t, m.EntryDir(FamilyHex, staleHex))
}

func TestSweep_FullExtentAlwaysSurvives(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	key := seedEntry(t, m, FamilyHex, "hex", "full_extent")

	result, err := m.Sweep(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Removed)
	assert.DirExists(t, m.EntryDir(FamilyHex, key))
}

func TestSweep_RemovesUnreadableEntries(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	debris := filepath.Join(m.Root(), string(FamilyClip), "0123456789abcdef")
	require.NoError(t, os.MkdirAll(debris, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(debris, "meta.json"), []byte("{not json"), 0o644))

	result, err := m.Sweep(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.NoDirExists(t, debris)
}

func TestSweep_LeavesStagingDirsAlone(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	stage := filepath.Join(m.Root(), string(FamilyTable), ".stage-123456")
	require.NoError(t, os.MkdirAll(stage, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stage, "partial.csv"), []byte("half"), 0o644))

	result, err := m.Sweep(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Removed)
	assert.DirExists(t, stage)
}

func TestSweep_EmptyCache(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	result, err := m.Sweep([]string{"-13.000000_-56.000000_100.00"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Removed)
	assert.Equal(t, int64(0), result.FreedBytes)
}

func TestClear(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	seedEntry(t, m, FamilyClip, "clip", "full_extent")
	seedEntry(t, m, FamilyTable, "table", "-13.000000_-56.000000_100.00")
	seedEntry(t, m, FamilyHex, "hex", "-12.000000_-55.000000_50.00")

	count, err := m.Clear()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	stats, err := m.Stats()
	require.NoError(t, err)
	for family, s := range stats {
		assert.Zero(t, s.Entries, "family %s should be empty", family)
		assert.Zero(t, s.Bytes, "family %s should be empty", family)
	}

	count, err = m.Clear()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStats(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	seedEntry(t, m, FamilyClip, "clip", "full_extent")
	seedEntry(t, m, FamilyClip, "clip2", "-13.000000_-56.000000_100.00")
	seedEntry(t, m, FamilyTable, "table", "full_extent")

	stats, err := m.Stats()
	require.NoError(t, err)

	assert.Equal(t, 2, stats[FamilyClip].Entries)
	assert.Equal(t, 1, stats[FamilyTable].Entries)
	assert.Equal(t, 0, stats[FamilyHex].Entries)
	assert.Greater(t, stats[FamilyClip].Bytes, stats[FamilyHex].Bytes)
	assert.Greater(t, stats[FamilyTable].Bytes, int64(0))
}
