package tabular

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTableAndQuery(t *testing.T) {
	s := newTestStore(t)

	cols := []Column{
		{Name: "time_boot_ms", Type: TypeReal},
		{Name: "Roll", Type: TypeReal},
		{Name: "Pitch", Type: TypeReal},
	}
	require.NoError(t, s.CreateTable("att_data", cols))

	rows := [][]interface{}{
		{100.0, 1.5, -0.2},
		{200.0, 2.0, 0.1},
		{300.0, 1.8, nil},
	}
	require.NoError(t, s.BulkInsert("att_data", cols, rows))

	names, got, err := s.Query("SELECT MAX(Roll) FROM att_data")
	require.NoError(t, err)
	require.Equal(t, []string{"MAX(Roll)"}, names)
	require.Len(t, got, 1)
	require.Equal(t, 2.0, got[0][0])
}

func TestCreateTableDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	cols := []Column{{Name: "x", Type: TypeReal}}
	require.NoError(t, s.CreateTable("t", cols))
	require.Error(t, s.CreateTable("t", cols))

	// Drop first, then recreate succeeds.
	require.NoError(t, s.DropTable("t"))
	require.NoError(t, s.CreateTable("t", cols))
}

func TestBulkInsertWidthMismatch(t *testing.T) {
	s := newTestStore(t)
	cols := []Column{{Name: "a", Type: TypeReal}, {Name: "b", Type: TypeReal}}
	require.NoError(t, s.CreateTable("t", cols))

	err := s.BulkInsert("t", cols, [][]interface{}{{1.0}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "row 0")
}

func TestReservedKeywordColumnQueryable(t *testing.T) {
	s := newTestStore(t)
	cols := []Column{
		{Name: "time_boot_ms", Type: TypeReal},
		{Name: "offset", Type: TypeReal},
		{Name: "order", Type: TypeText},
	}
	require.NoError(t, s.CreateTable("cmd_data", cols))
	require.NoError(t, s.BulkInsert("cmd_data", cols, [][]interface{}{
		{100.0, 4.5, "takeoff"},
		{200.0, 9.5, "land"},
	}))

	_, got, err := s.Query(`SELECT "offset", "order" FROM cmd_data ORDER BY "offset" DESC LIMIT 1`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 9.5, got[0][0])
	require.Equal(t, "land", got[0][1])
}

func TestQueryReadOnlyEnforced(t *testing.T) {
	s := newTestStore(t)
	cols := []Column{{Name: "x", Type: TypeReal}}
	require.NoError(t, s.CreateTable("t", cols))

	for _, bad := range []string{
		"DROP TABLE t",
		"INSERT INTO t VALUES (1)",
		"UPDATE t SET x = 2",
		"SELECT x FROM t; DROP TABLE t",
		"   ",
	} {
		_, _, err := s.Query(bad)
		require.Error(t, err, "expected rejection: %s", bad)
	}

	// A trailing semicolon alone is fine.
	_, _, err := s.Query("SELECT x FROM t;")
	require.NoError(t, err)
}

func TestQueryRejectsWritesBehindWithClause(t *testing.T) {
	s := newTestStore(t)
	cols := []Column{{Name: "x", Type: TypeReal}}
	require.NoError(t, s.CreateTable("t", cols))
	require.NoError(t, s.BulkInsert("t", cols, [][]interface{}{{1.0}, {2.0}}))

	for _, bad := range []string{
		"WITH d AS (SELECT 1) DELETE FROM t",
		"WITH d AS (SELECT 1) INSERT INTO t VALUES (3)",
		"WITH d AS (SELECT 1) UPDATE t SET x = 0",
		"WITH d AS (SELECT 1) REPLACE INTO t VALUES (3)",
	} {
		_, _, err := s.Query(bad)
		require.Error(t, err, "expected rejection: %s", bad)
	}

	n, err := s.RowCount("t")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	// Real CTE reads still pass.
	_, got, err := s.Query("WITH m AS (SELECT MAX(x) AS mx FROM t) SELECT mx FROM m")
	require.NoError(t, err)
	require.Equal(t, 2.0, got[0][0])

	// The REPLACE string function is not the REPLACE statement.
	_, got, err = s.Query(`SELECT REPLACE('delete me', 'delete', 'keep') FROM t LIMIT 1`)
	require.NoError(t, err)
	require.Equal(t, "keep me", got[0][0])
}

func TestDescribeAndListTables(t *testing.T) {
	s := newTestStore(t)
	cols := []Column{
		{Name: "time_boot_ms", Type: TypeReal},
		{Name: "Alt", Type: TypeReal},
	}
	require.NoError(t, s.CreateTable("gps_0_data", cols))
	require.NoError(t, s.CreateIndex("gps_0_data", "time_boot_ms"))

	tables, err := s.ListTables()
	require.NoError(t, err)
	require.Equal(t, []string{"gps_0_data"}, tables)

	desc, err := s.Describe("gps_0_data")
	require.NoError(t, err)
	require.Equal(t, cols, desc)

	_, err = s.Describe("missing")
	require.Error(t, err)
}

func TestAggregatesOverSparseValues(t *testing.T) {
	s := newTestStore(t)
	cols := []Column{
		{Name: "time_boot_ms", Type: TypeReal},
		{Name: "Alt", Type: TypeReal},
	}
	require.NoError(t, s.CreateTable("gps_0_data", cols))
	require.NoError(t, s.BulkInsert("gps_0_data", cols, [][]interface{}{
		{100.0, 10.0},
		{200.0, nil}, // NULLs are ignored by aggregates, not treated as zero
		{300.0, 50.0},
	}))

	_, got, err := s.Query("SELECT AVG(Alt), COUNT(Alt), COUNT(*) FROM gps_0_data")
	require.NoError(t, err)
	require.Equal(t, 30.0, got[0][0])
	require.Equal(t, int64(2), got[0][1])
	require.Equal(t, int64(3), got[0][2])
}

func TestPercentileAggregate(t *testing.T) {
	s := newTestStore(t)
	cols := []Column{
		{Name: "time_boot_ms", Type: TypeReal},
		{Name: "Alt", Type: TypeReal},
	}
	require.NoError(t, s.CreateTable("gps_0_data", cols))
	require.NoError(t, s.BulkInsert("gps_0_data", cols, [][]interface{}{
		{100.0, 10.0},
		{200.0, 20.0},
		{300.0, nil}, // ignored, like the built-in aggregates
		{400.0, 30.0},
		{500.0, 40.0},
	}))

	// Nearest-rank over [10 20 30 40]: p50 -> 20, p95 -> 40.
	_, got, err := s.Query("SELECT percentile(Alt, 50), percentile(Alt, 95) FROM gps_0_data")
	require.NoError(t, err)
	require.Equal(t, 20.0, got[0][0])
	require.Equal(t, 40.0, got[0][1])
}

func TestNarrowNumeric(t *testing.T) {
	require.Equal(t, float64(3), NarrowNumeric(int64(3)))
	require.Equal(t, 1.5, NarrowNumeric(1.5))
	require.Equal(t, "x", NarrowNumeric("x"))
	require.Nil(t, NarrowNumeric(nil))

	rows := NarrowRows([][]interface{}{{int64(7), "a", nil}})
	require.Equal(t, [][]interface{}{{float64(7), "a", nil}}, rows)
}
