package export

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func TestWriteWorkbook(t *testing.T) {
	aggs := testAggregates(t)
	keys := DatasetKeys(aggs)
	scores := testScores(t, 2)
	path := filepath.Join(t.TempDir(), "soilhex.xlsx")

	n, err := WriteWorkbook(path, aggs, keys, scores)
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	aggSheet, ok := f.Sheet["Aggregates"]
	require.True(t, ok, "Aggregates sheet missing")
	require.Len(t, aggSheet.Rows, 3)
	assert.Equal(t, "cell_id", aggSheet.Rows[0].Cells[0].String())
	assert.Equal(t, "moisture", aggSheet.Rows[0].Cells[4].String())
	assert.Equal(t, aggs[0].Cell.String(), aggSheet.Rows[1].Cells[0].String())
	lon, err := aggSheet.Rows[1].Cells[1].Float()
	require.NoError(t, err)
	assert.InDelta(t, -55.52, lon, 1e-9)
	moisture, err := aggSheet.Rows[1].Cells[4].Float()
	require.NoError(t, err)
	assert.InDelta(t, 35.5, moisture, 1e-9)
	// Missing mean stays a blank cell.
	assert.Equal(t, "", aggSheet.Rows[2].Cells[7].String())

	scoreSheet, ok := f.Sheet["Scores"]
	require.True(t, ok, "Scores sheet missing")
	require.Len(t, scoreSheet.Rows, 3)
	assert.Equal(t, scoreColumns[0], scoreSheet.Rows[0].Cells[0].String())
	assert.Equal(t, scores[0].CellID, scoreSheet.Rows[1].Cells[0].String())
	suit, err := scoreSheet.Rows[1].Cells[1].Float()
	require.NoError(t, err)
	assert.InDelta(t, 20.0, suit, 1e-9)
	assert.Equal(t, "Not Suitable", scoreSheet.Rows[1].Cells[3].String())
}

func TestWriteWorkbook_BadPath(t *testing.T) {
	_, err := WriteWorkbook(filepath.Join(t.TempDir(), "missing", "out.xlsx"),
		testAggregates(t), nil, testScores(t, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save workbook")
}
