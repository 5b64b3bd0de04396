package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"flightlens/internal/ingest"
	"flightlens/internal/tabular"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()

	store, err := tabular.NewStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	raw := map[string]json.RawMessage{
		"ATT": json.RawMessage(`{
			"time_boot_ms": {"0": 1000, "1": 2000, "2": 3000},
			"Roll": {"0": 10.0, "1": 20.0, "2": 15.0}
		}`),
		"MSG": json.RawMessage(`{"Message": "ArduCopter V4.3", "Id": 1}`),
	}
	parsed, err := ingest.ParseLog(raw)
	require.NoError(t, err)
	summary, err := ingest.NewIngester(store).Ingest(parsed)
	require.NoError(t, err)

	return NewRuntime(store, summary.Schemas)
}

func decode(t *testing.T, result string) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result), &payload))
	return payload
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 3)

	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		require.NotEmpty(t, d.Description)
		require.Equal(t, "object", d.Parameters["type"])
	}
	require.True(t, names[ToolQueryData])
	require.True(t, names[ToolGetMessageTypes])
	require.True(t, names[ToolGetDataSchema])
}

func TestQueryData(t *testing.T) {
	rt := newTestRuntime(t)

	payload := decode(t, rt.Invoke(ToolQueryData, map[string]interface{}{
		"sql": "SELECT MAX(Roll) AS max_roll FROM att_data",
	}))
	require.Equal(t, true, payload["ok"])
	require.Equal(t, []interface{}{"max_roll"}, payload["columns"])

	rows := payload["rows"].([]interface{})
	require.Len(t, rows, 1)
	require.Equal(t, 20.0, rows[0].([]interface{})[0])
}

func TestQueryDataRejectsWrites(t *testing.T) {
	rt := newTestRuntime(t)

	payload := decode(t, rt.Invoke(ToolQueryData, map[string]interface{}{
		"sql": "DROP TABLE att_data",
	}))
	require.Equal(t, false, payload["ok"])
	require.Contains(t, payload["error"], "SELECT")
}

func TestQueryDataMissingArgument(t *testing.T) {
	rt := newTestRuntime(t)

	payload := decode(t, rt.Invoke(ToolQueryData, map[string]interface{}{}))
	require.Equal(t, false, payload["ok"])
}

func TestGetMessageTypes(t *testing.T) {
	rt := newTestRuntime(t)

	payload := decode(t, rt.Invoke(ToolGetMessageTypes, nil))
	require.Equal(t, true, payload["ok"])
	require.Equal(t, []interface{}{"ATT", "MSG"}, payload["messageTypes"])
}

func TestGetDataSchema(t *testing.T) {
	rt := newTestRuntime(t)

	payload := decode(t, rt.Invoke(ToolGetDataSchema, nil))
	require.Equal(t, true, payload["ok"])

	schema := payload["schema"].(map[string]interface{})
	att := schema["ATT"].(map[string]interface{})
	require.Equal(t, "att_data", att["table"])
	require.Equal(t, true, att["timeSeries"])

	columns := att["columns"].([]interface{})
	first := columns[0].(map[string]interface{})
	require.Equal(t, "time_boot_ms", first["name"])

	msg := schema["MSG"].(map[string]interface{})
	require.Equal(t, "msg_data", msg["table"])
	require.Equal(t, false, msg["timeSeries"])
}

func TestUnknownTool(t *testing.T) {
	rt := newTestRuntime(t)

	payload := decode(t, rt.Invoke("deleteEverything", nil))
	require.Equal(t, false, payload["ok"])
	require.Contains(t, payload["error"], "unknown tool")
}

func TestSchemaSummary(t *testing.T) {
	rt := newTestRuntime(t)

	summary := rt.SchemaSummary()
	require.Contains(t, summary, "att_data (time_boot_ms REAL, Roll REAL)")
	require.Contains(t, summary, "msg_data (")
}
