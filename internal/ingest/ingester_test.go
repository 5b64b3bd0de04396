package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"flightlens/internal/tabular"
)

func rawLog(t *testing.T, src string) map[string]json.RawMessage {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(src), &raw))
	return raw
}

func TestTableName(t *testing.T) {
	cases := map[string]string{
		"ATT":    "att_data",
		"GPS[0]": "gps_0_data",
		"GPS[1]": "gps_1_data",
		"XKF4":   "xkf4_data",
		"BAT":    "bat_data",
	}
	for in, want := range cases {
		require.Equal(t, want, TableName(in), "TableName(%q)", in)
	}
}

func TestParseLogSplitsSiblings(t *testing.T) {
	raw := rawLog(t, `{
		"ATT": {"time_boot_ms": {"0": 100}, "Roll": {"0": 1.5}},
		"logType": "dataflash",
		"events": [],
		"flightModeChanges": [[100, "STABILIZE"]]
	}`)

	log, err := ParseLog(raw)
	require.NoError(t, err)
	require.Equal(t, []string{"ATT"}, log.MessageTypes())
	require.Contains(t, log.Extras, "logType")
	require.Contains(t, log.Extras, "events")
	require.Contains(t, log.Extras, "flightModeChanges")
}

func TestParseLogEmpty(t *testing.T) {
	_, err := ParseLog(nil)
	require.Error(t, err)

	_, err = ParseLog(rawLog(t, `{"logType": "dataflash"}`))
	require.Error(t, err)
}

func TestIngestTimeSeries(t *testing.T) {
	store, err := tabular.NewStore()
	require.NoError(t, err)
	defer store.Close()

	log, err := ParseLog(rawLog(t, `{
		"ATT": {
			"time_boot_ms": {"0": 100, "1": 200, "2": 300},
			"Roll":  {"0": 1.5, "1": 2.0, "2": 1.8},
			"Pitch": {"0": -0.2, "1": 0.1, "2": 0.0}
		}
	}`))
	require.NoError(t, err)

	summary, err := NewIngester(store).Ingest(log)
	require.NoError(t, err)
	require.Equal(t, []string{"att_data"}, summary.TablesCreated)

	schema := summary.Schemas["ATT"]
	require.Equal(t, "att_data", schema.Table)
	require.True(t, schema.TimeSeries)
	require.Equal(t, []tabular.Column{
		{Name: "time_boot_ms", Type: tabular.TypeReal},
		{Name: "Pitch", Type: tabular.TypeReal},
		{Name: "Roll", Type: tabular.TypeReal},
	}, schema.Columns)

	n, err := store.RowCount("att_data")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	_, rows, err := store.Query("SELECT Roll FROM att_data ORDER BY time_boot_ms")
	require.NoError(t, err)
	require.Equal(t, [][]interface{}{{1.5}, {2.0}, {1.8}}, rows)
}

func TestIngestSparseFieldBecomesNull(t *testing.T) {
	store, err := tabular.NewStore()
	require.NoError(t, err)
	defer store.Close()

	// Alt has no entry at time key "1": that row must be NULL,
	// not zero, not dropped.
	log, err := ParseLog(rawLog(t, `{
		"GPS[0]": {
			"time_boot_ms": {"0": 100, "1": 200, "2": 300},
			"Alt": {"0": 10.0, "2": 50.0}
		}
	}`))
	require.NoError(t, err)

	summary, err := NewIngester(store).Ingest(log)
	require.NoError(t, err)
	require.Equal(t, []string{"gps_0_data"}, summary.TablesCreated)

	n, err := store.RowCount("gps_0_data")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	_, rows, err := store.Query("SELECT Alt FROM gps_0_data ORDER BY time_boot_ms")
	require.NoError(t, err)
	require.Equal(t, [][]interface{}{{10.0}, {nil}, {50.0}}, rows)

	_, rows, err = store.Query("SELECT COUNT(Alt) FROM gps_0_data")
	require.NoError(t, err)
	require.Equal(t, int64(2), rows[0][0])
}

func TestIngestStatic(t *testing.T) {
	store, err := tabular.NewStore()
	require.NoError(t, err)
	defer store.Close()

	log, err := ParseLog(rawLog(t, `{
		"VER": {"FWVer": "ArduPlane 4.3", "Major": 4, "Minor": 3}
	}`))
	require.NoError(t, err)

	summary, err := NewIngester(store).Ingest(log)
	require.NoError(t, err)

	schema := summary.Schemas["VER"]
	require.False(t, schema.TimeSeries)
	require.Equal(t, []tabular.Column{
		{Name: "FWVer", Type: tabular.TypeText},
		{Name: "Major", Type: tabular.TypeReal},
		{Name: "Minor", Type: tabular.TypeReal},
	}, schema.Columns)

	// Static tables have exactly one row.
	n, err := store.RowCount("ver_data")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestIngestSkipList(t *testing.T) {
	store, err := tabular.NewStore()
	require.NoError(t, err)
	defer store.Close()

	log, err := ParseLog(rawLog(t, `{
		"ATT":  {"time_boot_ms": {"0": 100}, "Roll": {"0": 1.0}},
		"PARM": {"Name": {"0": "RATE_P"}, "Value": {"0": 0.1}},
		"FILE": {"data": "base64junk"},
		"POS":  {"time_boot_ms": {"0": 100}, "Lat": {"0": 47.1}}
	}`))
	require.NoError(t, err)

	summary, err := NewIngester(store).Ingest(log)
	require.NoError(t, err)
	require.Equal(t, []string{"att_data"}, summary.TablesCreated)
	require.ElementsMatch(t, []string{"PARM", "FILE", "POS"}, summary.Skipped)

	tables, err := store.ListTables()
	require.NoError(t, err)
	require.Equal(t, []string{"att_data"}, tables)
}

func TestIngestPerTypeFailureIsIsolated(t *testing.T) {
	store, err := tabular.NewStore()
	require.NoError(t, err)
	defer store.Close()

	// BAD mixes a keyed series into a static message: per-type IngestError,
	// but ATT still loads.
	log, err := ParseLog(rawLog(t, `{
		"ATT": {"time_boot_ms": {"0": 100}, "Roll": {"0": 1.0}},
		"BAD": {"Volt": 12.6, "Curr": {"0": 3.2}}
	}`))
	require.NoError(t, err)

	summary, err := NewIngester(store).Ingest(log)
	require.NoError(t, err)
	require.Equal(t, []string{"att_data"}, summary.TablesCreated)
	require.Contains(t, summary.Failures, "BAD")
}

func TestIngestTwiceIsStructurallyIdentical(t *testing.T) {
	src := `{
		"ATT": {
			"time_boot_ms": {"0": 100, "1": 200},
			"Roll": {"0": 1.5, "1": 2.0},
			"Pitch": {"1": 0.1}
		},
		"VER": {"FWVer": "ArduPlane 4.3"}
	}`

	var schemas []map[string]TableSchema
	for i := 0; i < 2; i++ {
		store, err := tabular.NewStore()
		require.NoError(t, err)
		log, err := ParseLog(rawLog(t, src))
		require.NoError(t, err)
		summary, err := NewIngester(store).Ingest(log)
		require.NoError(t, err)
		schemas = append(schemas, summary.Schemas)
		store.Close()
	}
	require.Equal(t, schemas[0], schemas[1])
}

func TestReconcileSquaresArrayLengths(t *testing.T) {
	arrays := map[string][]interface{}{
		"a": {1.0, 2.0},
		"b": {1.0, 2.0},
		"c": {1.0, 2.0, 3.0},
		"d": {1.0},
	}

	reconcile("TEST", arrays)
	for name, arr := range arrays {
		require.Len(t, arr, 2, "field %s", name)
	}
	// Shorter arrays pad with NULLs rather than inventing values.
	require.Nil(t, arrays["d"][1])
}

func TestIsReservedColumn(t *testing.T) {
	require.True(t, IsReservedColumn("offset"))
	require.True(t, IsReservedColumn("Order"))
	require.False(t, IsReservedColumn("Roll"))
}
