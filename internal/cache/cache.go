// Package cache is the content-addressable artifact store wrapped around the
// clip, table, and hex stages of the pipeline.
//
// Every entry lives in its own directory under a family root:
//
//	<root>/<family>/<key>/meta.json
//	<root>/<family>/<key>/<artifact files>
//
// The key is a digest over the operation name, the AOI descriptor, the
// operation parameters, and each source file's name and mtime, so touching a
// source raster retires every entry derived from it. Writers stage a whole
// entry in a hidden directory and publish it with a single rename; readers
// re-validate source mtimes on every lookup because the cache directory is
// user territory and entries may be deleted or edited between runs.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Family names one of the independently invalidated cache families.
type Family string

const (
	// FamilyClip holds clipped rasters.
	FamilyClip Family = "clip"
	// FamilyTable holds flattened point tables.
	FamilyTable Family = "table"
	// FamilyHex holds hex-indexed and aggregated tables.
	FamilyHex Family = "hex"
)

// Families lists every cache family in creation order.
var Families = []Family{FamilyClip, FamilyTable, FamilyHex}

// ErrCorruptEntry reports a promoted entry that failed post-write
// verification twice in a row.
var ErrCorruptEntry = eris.New("cache: entry failed verification")

// metaName is the per-entry metadata file.
const metaName = "meta.json"

// fullExtentAOI matches the key part the full-extent AOI reports. Entries
// carrying it survive every sweep.
const fullExtentAOI = "full_extent"

// Source identifies one input file of a cached operation. Name and MTime
// feed the key; Path lets readers re-stat the file during validation.
type Source struct {
	Path  string
	Name  string
	MTime time.Time
	Size  int64
}

// StatSource builds a Source from a file on disk.
func StatSource(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, eris.Wrapf(err, "cache: stat source %s", path)
	}
	return Source{
		Path:  path,
		Name:  filepath.Base(path),
		MTime: info.ModTime(),
		Size:  info.Size(),
	}, nil
}

// KeyInputs are the declared inputs of a cacheable operation. Two
// operations with equal KeyInputs produce the same key and share an entry.
type KeyInputs struct {
	// Operation names the computation, e.g. "clip" or "table".
	Operation string
	// AOI is the area-of-interest key part, "full_extent" or
	// "lat_lon_radius" at fixed precision.
	AOI string
	// Params are pre-labelled parameter strings such as "res_7" or
	// "policy_skip". Order is significant.
	Params []string
	// Sources are the input files. Order is not significant.
	Sources []Source
}

// Key digests the inputs to the entry key. Sources are sorted by name so
// discovery order cannot change the key.
func (in KeyInputs) Key() string {
	parts := make([]string, 0, 2+len(in.Params)+len(in.Sources))
	parts = append(parts, "op_"+in.Operation, "aoi_"+in.AOI)
	parts = append(parts, in.Params...)
	for _, s := range sortedSources(in.Sources) {
		parts = append(parts, fmt.Sprintf("%s_%d", s.Name, s.MTime.UnixNano()))
	}
	// md5 keys cache entries, no security role.
	sum := md5.Sum([]byte(strings.Join(parts, "|"))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func sortedSources(sources []Source) []Source {
	out := make([]Source, len(sources))
	copy(out, sources)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Meta is the sidecar record stored with every entry.
type Meta struct {
	Key       string         `json:"cache_key"`
	Operation string         `json:"operation"`
	AOI       string         `json:"aoi"`
	Params    []string       `json:"params,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Sources   []SourceInfo   `json:"source_files"`
	Artifacts []ArtifactInfo `json:"artifacts"`
}

// SourceInfo records the identity of one source file at entry creation.
type SourceInfo struct {
	Name      string `json:"name"`
	MTimeUnix int64  `json:"mtime_unix_ns"`
	Size      int64  `json:"size"`
}

// ArtifactInfo records one produced file so readers can detect truncation.
type ArtifactInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Result reports one Cached call.
type Result struct {
	Key string
	// Dir is the promoted entry directory.
	Dir string
	// Artifacts are absolute paths of the entry's files, in meta order.
	Artifacts []string
	// Hit is true when the entry was served without recomputation.
	Hit bool
}

// Manager owns one cache directory tree.
type Manager struct {
	root string
}

// NewManager opens or creates the cache tree rooted at dir.
func NewManager(dir string) (*Manager, error) {
	for _, family := range Families {
		if err := os.MkdirAll(filepath.Join(dir, string(family)), 0o755); err != nil {
			return nil, eris.Wrapf(err, "cache: create %s family dir", family)
		}
	}
	return &Manager{root: dir}, nil
}

// Root returns the cache root directory.
func (m *Manager) Root() string { return m.root }

// EntryDir returns the canonical directory of an entry, promoted or not.
func (m *Manager) EntryDir(family Family, key string) string {
	return filepath.Join(m.root, string(family), key)
}

func (m *Manager) familyDir(family Family) string {
	return filepath.Join(m.root, string(family))
}

// Cached serves key-addressed artifacts, computing them on a miss.
//
// compute receives an empty staging directory, writes the operation's
// artifact files into it, and returns their names. The staged entry is
// published with one rename, then verified; a verification failure drops
// the entry and rebuilds it once before surfacing ErrCorruptEntry.
func (m *Manager) Cached(family Family, in KeyInputs, compute func(stageDir string) ([]string, error)) (Result, error) {
	key := in.Key()
	dir := m.EntryDir(family, key)

	if arts, ok := m.Lookup(family, key, in.Sources); ok {
		zap.L().Debug("cache hit",
			zap.String("family", string(family)),
			zap.String("operation", in.Operation),
			zap.String("key", key))
		return Result{Key: key, Dir: dir, Artifacts: arts, Hit: true}, nil
	}
	zap.L().Debug("cache miss",
		zap.String("family", string(family)),
		zap.String("operation", in.Operation),
		zap.String("key", key))

	if err := m.populate(family, key, in, compute); err != nil {
		return Result{}, err
	}
	arts, ok := m.Lookup(family, key, in.Sources)
	if !ok {
		zap.L().Warn("cache entry failed verification after write, rebuilding",
			zap.String("family", string(family)),
			zap.String("key", key))
		if err := m.Invalidate(family, key); err != nil {
			return Result{}, err
		}
		if err := m.populate(family, key, in, compute); err != nil {
			return Result{}, err
		}
		if arts, ok = m.Lookup(family, key, in.Sources); !ok {
			return Result{}, eris.Wrapf(ErrCorruptEntry, "cache: %s entry %s", family, key)
		}
	}
	return Result{Key: key, Dir: dir, Artifacts: arts, Hit: false}, nil
}

// populate stages a fresh entry and publishes it under the key.
func (m *Manager) populate(family Family, key string, in KeyInputs, compute func(stageDir string) ([]string, error)) error {
	stage, err := os.MkdirTemp(m.familyDir(family), ".stage-")
	if err != nil {
		return eris.Wrapf(err, "cache: stage %s entry", family)
	}
	defer os.RemoveAll(stage) //nolint:errcheck

	names, err := compute(stage)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return eris.Errorf("cache: %s compute produced no artifacts", in.Operation)
	}

	meta := Meta{
		Key:       key,
		Operation: in.Operation,
		AOI:       in.AOI,
		Params:    in.Params,
		CreatedAt: time.Now().UTC(),
	}
	for _, s := range sortedSources(in.Sources) {
		meta.Sources = append(meta.Sources, SourceInfo{
			Name:      s.Name,
			MTimeUnix: s.MTime.UnixNano(),
			Size:      s.Size,
		})
	}
	for _, name := range names {
		info, err := os.Stat(filepath.Join(stage, name))
		if err != nil {
			return eris.Wrapf(err, "cache: staged artifact %s missing", name)
		}
		meta.Artifacts = append(meta.Artifacts, ArtifactInfo{Name: name, Size: info.Size()})
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cache: encode metadata")
	}
	if err := os.WriteFile(filepath.Join(stage, metaName), raw, 0o644); err != nil {
		return eris.Wrap(err, "cache: write metadata")
	}

	final := m.EntryDir(family, key)
	if err := os.RemoveAll(final); err != nil {
		return eris.Wrapf(err, "cache: drop stale %s entry", family)
	}
	if err := os.Rename(stage, final); err != nil {
		// A concurrent writer may have promoted between the remove and the
		// rename. Last writer wins either way, so accept a valid entry.
		if _, verr := m.validate(final, in.Sources); verr == nil {
			return nil
		}
		return eris.Wrapf(err, "cache: promote %s entry %s", family, key)
	}
	return nil
}

// Lookup returns the artifact paths of a valid entry. It re-stats every
// source file and every artifact, so externally deleted or modified files
// turn the entry into a miss instead of serving stale data.
func (m *Manager) Lookup(family Family, key string, sources []Source) ([]string, bool) {
	dir := m.EntryDir(family, key)
	meta, err := m.validate(dir, sources)
	if err != nil {
		zap.L().Debug("cache entry invalid",
			zap.String("family", string(family)),
			zap.String("key", key),
			zap.String("reason", err.Error()))
		return nil, false
	}
	arts := make([]string, len(meta.Artifacts))
	for i, a := range meta.Artifacts {
		arts[i] = filepath.Join(dir, a.Name)
	}
	return arts, true
}

// validate checks one entry directory against the current source files and
// returns the parsed metadata, or the reason the entry cannot be trusted.
func (m *Manager) validate(dir string, sources []Source) (*Meta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metaName))
	if err != nil {
		return nil, eris.New("cache metadata not found")
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, eris.New("cache metadata unreadable")
	}

	for _, a := range meta.Artifacts {
		info, err := os.Stat(filepath.Join(dir, a.Name))
		if err != nil {
			return nil, eris.Errorf("cached file not found: %s", a.Name)
		}
		if info.Size() != a.Size {
			return nil, eris.Errorf("cached file truncated: %s", a.Name)
		}
	}

	recorded := make(map[string]SourceInfo, len(meta.Sources))
	for _, s := range meta.Sources {
		recorded[s.Name] = s
	}
	for _, s := range sources {
		info, err := os.Stat(s.Path)
		if err != nil {
			return nil, eris.Errorf("source file not found: %s", s.Name)
		}
		rec, ok := recorded[s.Name]
		if !ok {
			return nil, eris.Errorf("new source file: %s", s.Name)
		}
		if info.ModTime().UnixNano() != rec.MTimeUnix {
			return nil, eris.Errorf("source file changed: %s", s.Name)
		}
	}
	if len(sources) != len(meta.Sources) {
		return nil, eris.New("source file list changed")
	}
	return &meta, nil
}

// Invalidate removes one entry. Removing an absent entry is not an error.
func (m *Manager) Invalidate(family Family, key string) error {
	if err := os.RemoveAll(m.EntryDir(family, key)); err != nil {
		return eris.Wrapf(err, "cache: invalidate %s entry %s", family, key)
	}
	return nil
}

// ReadMeta loads the metadata of an entry without validating its sources.
func (m *Manager) ReadMeta(family Family, key string) (*Meta, error) {
	raw, err := os.ReadFile(filepath.Join(m.EntryDir(family, key), metaName))
	if err != nil {
		return nil, eris.Wrapf(err, "cache: read %s entry %s metadata", family, key)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, eris.Wrapf(err, "cache: parse %s entry %s metadata", family, key)
	}
	return &meta, nil
}
