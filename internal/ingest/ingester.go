package ingest

import (
	"fmt"
	"sort"
	"strings"

	"flightlens/internal/logging"
	"flightlens/internal/tabular"
)

// skipTypes are message types deliberately excluded from ingestion: raw file
// content, geofence definitions without typed fields, parameter key/value
// dumps with inconsistent row shape, and positional messages whose schema
// cannot be reconciled. This list is part of the contract.
var skipTypes = map[string]bool{
	"FILE": true,
	"FNCE": true,
	"PARM": true,
	"POS":  true,
}

func isSkipped(msgType string) bool {
	base := msgType
	if i := strings.IndexByte(base, '['); i >= 0 {
		base = base[:i]
	}
	return skipTypes[strings.ToUpper(base)]
}

// TableSchema describes one ingested table for schema introspection.
type TableSchema struct {
	Table   string           `json:"table"`
	Columns []tabular.Column `json:"columns"`
	// TimeSeries is true when the table carries the time index.
	TimeSeries bool `json:"timeSeries"`
}

// Summary reports the outcome of ingesting one parsed log.
type Summary struct {
	TablesCreated []string          `json:"tablesCreated"`
	Skipped       []string          `json:"skipped"`
	Failures      map[string]string `json:"failures,omitempty"`
	// Schemas maps message type to its table schema.
	Schemas map[string]TableSchema `json:"-"`
}

// Ingester loads a parsed log into a tabular store.
type Ingester struct {
	store *tabular.Store
}

// NewIngester creates an ingester bound to a store.
func NewIngester(store *tabular.Store) *Ingester {
	return &Ingester{store: store}
}

// Ingest materializes one table per message type. Per-type failures are
// recovered and reported in the summary; other types still succeed.
func (ing *Ingester) Ingest(log *ParsedLog) (*Summary, error) {
	timer := logging.StartTimer(logging.CategoryIngest, "Ingest")
	defer timer.Stop()

	summary := &Summary{
		Failures: make(map[string]string),
		Schemas:  make(map[string]TableSchema),
	}

	for _, msgType := range log.MessageTypes() {
		if isSkipped(msgType) {
			summary.Skipped = append(summary.Skipped, msgType)
			continue
		}

		schema, err := ing.ingestType(msgType, log.Messages[msgType])
		if err != nil {
			logging.IngestWarn("message type %s failed: %v", msgType, err)
			summary.Failures[msgType] = err.Error()
			continue
		}
		summary.TablesCreated = append(summary.TablesCreated, schema.Table)
		summary.Schemas[msgType] = schema
	}

	if len(summary.TablesCreated) == 0 {
		return summary, fmt.Errorf("no message types could be ingested")
	}

	logging.Ingest("ingested %d tables (%d skipped, %d failed)",
		len(summary.TablesCreated), len(summary.Skipped), len(summary.Failures))
	return summary, nil
}

// ingestType builds and loads one table.
func (ing *Ingester) ingestType(msgType string, fields map[string]interface{}) (TableSchema, error) {
	if len(fields) == 0 {
		return TableSchema{}, fmt.Errorf("no fields")
	}

	var (
		schema TableSchema
		rows   [][]interface{}
		err    error
	)
	if isTimeSeries(fields) {
		schema, rows, err = buildTimeSeries(msgType, fields)
	} else {
		schema, rows, err = buildStatic(msgType, fields)
	}
	if err != nil {
		return TableSchema{}, err
	}

	if err := ing.store.CreateTable(schema.Table, schema.Columns); err != nil {
		return TableSchema{}, err
	}
	if err := ing.store.BulkInsert(schema.Table, schema.Columns, rows); err != nil {
		// Leave no half-loaded table behind.
		_ = ing.store.DropTable(schema.Table)
		return TableSchema{}, err
	}
	if schema.TimeSeries {
		if err := ing.store.CreateIndex(schema.Table, TimeField); err != nil {
			return TableSchema{}, err
		}
	}
	return schema, nil
}

// buildTimeSeries projects every field onto the canonical row index: the
// distinct keys of time_boot_ms in ordinal order. Missing entries become
// NULL, never zero.
func buildTimeSeries(msgType string, fields map[string]interface{}) (TableSchema, [][]interface{}, error) {
	timeMap, ok := fields[TimeField].(map[string]interface{})
	if !ok {
		return TableSchema{}, nil, fmt.Errorf("%s is not a keyed series", TimeField)
	}
	if len(timeMap) == 0 {
		return TableSchema{}, nil, fmt.Errorf("%s has no entries", TimeField)
	}
	index := ordinalKeys(timeMap)

	// time_boot_ms first, remaining fields in sorted order.
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name != TimeField {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = append([]string{TimeField}, names...)

	columns := make([]tabular.Column, 0, len(names))
	arrays := make(map[string][]interface{}, len(names))

	for _, name := range names {
		series, ok := fields[name].(map[string]interface{})
		if !ok {
			// A scalar inside a time-series message is an unknown shape;
			// reject the field, keep the type.
			logging.IngestWarn("%s.%s: scalar field in time-series message, dropped", msgType, name)
			continue
		}
		colType := inferSeriesType(series, index)
		columns = append(columns, tabular.Column{Name: name, Type: colType})

		arr := make([]interface{}, len(index))
		for i, key := range index {
			if v, present := series[key]; present {
				arr[i] = coerceCell(v, colType)
			}
		}
		arrays[name] = arr
	}

	if len(columns) == 0 {
		return TableSchema{}, nil, fmt.Errorf("no materializable fields")
	}

	reconcile(msgType, arrays)

	rows := pivot(columns, arrays)
	return TableSchema{
		Table:      TableName(msgType),
		Columns:    columns,
		TimeSeries: true,
	}, rows, nil
}

// buildStatic builds the single-row table of a static message type.
func buildStatic(msgType string, fields map[string]interface{}) (TableSchema, [][]interface{}, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]tabular.Column, 0, len(names))
	row := make([]interface{}, 0, len(names))
	for _, name := range names {
		v := fields[name]
		if _, isMap := v.(map[string]interface{}); isMap {
			return TableSchema{}, nil, fmt.Errorf("field %s: keyed series in static message", name)
		}
		colType := inferType(v)
		if v == nil {
			colType = tabular.TypeText
		}
		columns = append(columns, tabular.Column{Name: name, Type: colType})
		row = append(row, coerceCell(v, colType))
	}

	return TableSchema{
		Table:   TableName(msgType),
		Columns: columns,
	}, [][]interface{}{row}, nil
}

// inferSeriesType scans the series in index order for the first non-null
// sample and infers the column type from it.
func inferSeriesType(series map[string]interface{}, index []string) string {
	for _, key := range index {
		if v, ok := series[key]; ok && v != nil {
			return inferType(v)
		}
	}
	return tabular.TypeReal
}

// reconcile enforces equal array lengths so the table stays square:
// longer arrays are truncated to the modal length, shorter ones padded
// with NULLs. Columns and arrays are built in lockstep, so the schema
// already matches the field set.
func reconcile(msgType string, arrays map[string][]interface{}) {
	lengths := make(map[int]int)
	for _, arr := range arrays {
		lengths[len(arr)]++
	}
	if len(lengths) <= 1 {
		return
	}

	modal, best := 0, 0
	for length, count := range lengths {
		if count > best || (count == best && length < modal) {
			modal, best = length, count
		}
	}
	logging.IngestWarn("%s: field arrays disagree on length, truncating to modal length %d", msgType, modal)
	for name, arr := range arrays {
		if len(arr) > modal {
			arrays[name] = arr[:modal]
		} else if len(arr) < modal {
			padded := make([]interface{}, modal)
			copy(padded, arr)
			arrays[name] = padded
		}
	}
}

// pivot turns column arrays into row tuples.
func pivot(columns []tabular.Column, arrays map[string][]interface{}) [][]interface{} {
	if len(columns) == 0 {
		return nil
	}
	n := len(arrays[columns[0].Name])
	rows := make([][]interface{}, n)
	for i := 0; i < n; i++ {
		row := make([]interface{}, len(columns))
		for j, col := range columns {
			row[j] = arrays[col.Name][i]
		}
		rows[i] = row
	}
	return rows
}
