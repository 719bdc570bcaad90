package export

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tempScoresTable = pgx.Identifier{"_tmp_upsert_soilhex_hex_scores"}

func expectPublishBatch(mock pgxmock.PgxPoolIface, rows int64) {
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(tempScoresTable, publishColumns).WillReturnResult(rows)
	mock.ExpectExec(`INSERT INTO "soilhex"."hex_scores"`).
		WillReturnResult(pgxmock.NewResult("INSERT", rows))
	mock.ExpectCommit()
}

func TestEnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS soilhex").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS soilhex.hex_scores").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_hex_scores_grade").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	err = EnsureSchema(context.Background(), mock)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS soilhex").
		WillReturnError(fmt.Errorf("permission denied"))

	err = EnsureSchema(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure hex_scores schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_SingleBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	scores := testScores(t, 3)
	expectPublishBatch(mock, 3)

	n, err := Publish(context.Background(), mock, scores)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_MultipleBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// One cell past the batch size forces a second round trip.
	scores := testScores(t, publishBatchSize+1)
	expectPublishBatch(mock, int64(publishBatchSize))
	expectPublishBatch(mock, 1)

	n, err := Publish(context.Background(), mock, scores)
	assert.NoError(t, err)
	assert.Equal(t, int64(publishBatchSize+1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_RefreshesUpdatedAt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(tempScoresTable, publishColumns).WillReturnResult(1)
	mock.ExpectExec(`"updated_at" = EXCLUDED."updated_at"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, err = Publish(context.Background(), mock, testScores(t, 1))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_Empty(t *testing.T) {
	_, err := Publish(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scored cells to publish")
}

func TestPublish_UpsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("too many clients"))

	_, err = Publish(context.Background(), mock, testScores(t, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish batch 0-3")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishedCells(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1234)))

	n, err := PublishedCells(context.Background(), mock)
	assert.NoError(t, err)
	assert.Equal(t, int64(1234), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishedCells_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnError(fmt.Errorf(`relation "soilhex.hex_scores" does not exist`))

	_, err = PublishedCells(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count published cells")
	assert.NoError(t, mock.ExpectationsWereMet())
}
