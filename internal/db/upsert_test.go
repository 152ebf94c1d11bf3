package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordUpsert = Upsert{
	Table:   "run_records",
	Columns: []string{"run_id", "polygon_index", "count"},
	Keys:    []string{"run_id", "polygon_index"},
}

func TestUpsertRows_EmptyRows(t *testing.T) {
	n, err := UpsertRows(context.Background(), nil, recordUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertRows_NoColumns(t *testing.T) {
	_, err := UpsertRows(context.Background(), nil, Upsert{
		Table: "geoclip.run_records",
		Keys:  []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertRows_NoConflictKeys(t *testing.T) {
	_, err := UpsertRows(context.Background(), nil, Upsert{
		Table:   "geoclip.run_records",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestUpsert_Statements(t *testing.T) {
	create, merge := Upsert{
		Table:   "geoclip.run_records",
		Columns: []string{"run_id", "polygon_index", "count"},
		Keys:    []string{"run_id", "polygon_index"},
	}.statements()

	assert.Equal(t,
		`CREATE TEMP TABLE "_tmp_upsert_geoclip_run_records" (LIKE "geoclip"."run_records" INCLUDING DEFAULTS) ON COMMIT DROP`,
		create)
	assert.Equal(t,
		`INSERT INTO "geoclip"."run_records" ("run_id", "polygon_index", "count") SELECT "run_id", "polygon_index", "count" FROM "_tmp_upsert_geoclip_run_records" ON CONFLICT ("run_id", "polygon_index") DO UPDATE SET "count" = EXCLUDED."count"`,
		merge)
}

func TestUpsert_StatementsKeysOnly(t *testing.T) {
	_, merge := Upsert{Table: "tags", Columns: []string{"name"}, Keys: []string{"name"}}.statements()
	assert.Contains(t, merge, "ON CONFLICT (\"name\") DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"geoclip.run_records", `"geoclip"."run_records"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestUpsertRows_InTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_records"}, recordUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	var n int64
	err = WithTx(context.Background(), mock, func(tx pgx.Tx) error {
		var err error
		n, err = UpsertRows(context.Background(), tx, recordUpsert, [][]any{{"r1", 0, 3}, {"r1", 1, 0}})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_records"}, recordUpsert.Columns).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	err = WithTx(context.Background(), mock, func(tx pgx.Tx) error {
		_, err := UpsertRows(context.Background(), tx, recordUpsert, [][]any{{"r1", 0, 3}})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage rows for run_records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	called := false
	err = WithTx(context.Background(), mock, func(pgx.Tx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.Contains(t, err.Error(), "begin tx")
}
