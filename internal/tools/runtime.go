// Package tools exposes the flight-data tool surface offered to the
// model: run a read-only query, list the ingested message types, or
// dump the full table schema. Every result is a tagged JSON envelope
// so the model can distinguish success from failure and self-correct.
package tools

import (
	"encoding/json"
	"sort"
	"time"

	"flightlens/internal/ingest"
	"flightlens/internal/logging"
	"flightlens/internal/tabular"
)

// Tool names. These are part of the model-facing contract.
const (
	ToolQueryData       = "queryData"
	ToolGetMessageTypes = "getMessageTypes"
	ToolGetDataSchema   = "getDataSchema"
)

// maxResultRows bounds a queryData result so one broad SELECT cannot
// flood the model context.
const maxResultRows = 200

// Definition describes one callable tool in JSON-schema terms, the
// shape Gemini function declarations expect.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Runtime binds the tool surface to one session's tabular store. The
// schemas are keyed by message type, as ingestion produced them.
type Runtime struct {
	store   *tabular.Store
	schemas map[string]ingest.TableSchema
}

// NewRuntime creates a runtime over a session's store and its
// ingestion schemas.
func NewRuntime(store *tabular.Store, schemas map[string]ingest.TableSchema) *Runtime {
	return &Runtime{store: store, schemas: schemas}
}

// Definitions returns the function declarations advertised to the
// model.
func Definitions() []Definition {
	return []Definition{
		{
			Name: ToolQueryData,
			Description: "Run a read-only SQL SELECT against the flight data tables. " +
				"Use getMessageTypes and getDataSchema first to discover tables and columns. " +
				"Quote column names that are SQL keywords.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sql": map[string]interface{}{
						"type":        "string",
						"description": "A single SQL SELECT statement.",
					},
				},
				"required": []string{"sql"},
			},
		},
		{
			Name:        ToolGetMessageTypes,
			Description: "List the message types ingested from this flight log, e.g. ATT, GPS[0].",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name: ToolGetDataSchema,
			Description: "Dump the full schema: every message type with its table name and columns. " +
				"Call this before querying any field you have not seen.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// Invoke dispatches one tool call and returns its JSON result. Tool
// failures come back as {"ok":false,...} payloads rather than Go
// errors: the model is expected to read the message and try again.
func (rt *Runtime) Invoke(name string, args map[string]interface{}) string {
	timer := logging.StartTimer(logging.CategoryTools, name)
	defer timer.StopWithThreshold(500 * time.Millisecond)

	switch name {
	case ToolQueryData:
		return rt.queryData(args)
	case ToolGetMessageTypes:
		return rt.getMessageTypes()
	case ToolGetDataSchema:
		return rt.getDataSchema()
	default:
		return failure("unknown tool " + name)
	}
}

func (rt *Runtime) queryData(args map[string]interface{}) string {
	sql, ok := args["sql"].(string)
	if !ok || sql == "" {
		return failure(`queryData requires a non-empty "sql" string argument`)
	}

	logging.ToolsDebug("queryData: %s", sql)
	columns, rows, err := rt.store.Query(sql)
	if err != nil {
		return failure(err.Error())
	}

	truncated := false
	if len(rows) > maxResultRows {
		rows = rows[:maxResultRows]
		truncated = true
	}

	return success(map[string]interface{}{
		"columns":   columns,
		"rows":      tabular.NarrowRows(rows),
		"rowCount":  len(rows),
		"truncated": truncated,
	})
}

func (rt *Runtime) getMessageTypes() string {
	types := make([]string, 0, len(rt.schemas))
	for msgType := range rt.schemas {
		types = append(types, msgType)
	}
	sort.Strings(types)
	return success(map[string]interface{}{"messageTypes": types})
}

func (rt *Runtime) getDataSchema() string {
	type tableSchema struct {
		Table      string           `json:"table"`
		Columns    []tabular.Column `json:"columns"`
		TimeSeries bool             `json:"timeSeries"`
	}
	schema := make(map[string]tableSchema, len(rt.schemas))
	for msgType, s := range rt.schemas {
		schema[msgType] = tableSchema{Table: s.Table, Columns: s.Columns, TimeSeries: s.TimeSeries}
	}
	return success(map[string]interface{}{"schema": schema})
}

// SchemaSummary renders every table's schema as compact text for prompt
// composition, sorted by table name.
func (rt *Runtime) SchemaSummary() string {
	schemas := make([]ingest.TableSchema, 0, len(rt.schemas))
	for _, s := range rt.schemas {
		schemas = append(schemas, s)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Table < schemas[j].Table })

	var out string
	for _, schema := range schemas {
		out += schema.Table + " ("
		for i, col := range schema.Columns {
			if i > 0 {
				out += ", "
			}
			out += col.Name + " " + col.Type
		}
		out += ")\n"
	}
	return out
}

func success(fields map[string]interface{}) string {
	fields["ok"] = true
	return mustJSON(fields)
}

func failure(msg string) string {
	logging.ToolsDebug("tool failure: %s", msg)
	return mustJSON(map[string]interface{}{"ok": false, "error": msg})
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"ok":false,"error":"internal result encoding failure"}`
	}
	return string(data)
}
