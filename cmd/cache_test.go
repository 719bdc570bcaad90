package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cerrado-geo/soilhex-cli/internal/cache"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", formatBytes(0))
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "1.5 MiB", formatBytes(1536*1024))
	assert.Equal(t, "2.0 GiB", formatBytes(2*1024*1024*1024))
}

func TestFormatCacheStats(t *testing.T) {
	stats := map[cache.Family]cache.FamilyStats{
		cache.FamilyClip: {Entries: 2, Bytes: 2048},
		cache.FamilyHex:  {Entries: 1, Bytes: 512},
	}

	var buf bytes.Buffer
	formatCacheStats(&buf, stats)

	output := buf.String()
	assert.Contains(t, output, "FAMILY")
	assert.Contains(t, output, "clip")
	assert.Contains(t, output, "2.0 KiB")
	assert.Contains(t, output, "hex")
	assert.Contains(t, output, "512 B")
	// Families with no entries still get a row.
	assert.Contains(t, output, "table")
	// Total: 2560 bytes across 3 entries.
	assert.Contains(t, output, "total")
	assert.Contains(t, output, "2.5 KiB")
}
