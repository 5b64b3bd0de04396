// Package tabular implements the in-memory analytical store that ingested
// telemetry is queried against. Each session owns one Store backed by a
// private in-memory SQLite database; after ingest the store is only read.
package tabular

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"flightlens/internal/logging"
)

func init() {
	sql.Register("sqlite3_flightlens", &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterAggregator("percentile", newPercentile, true)
		},
	})
}

// Column types. SQLite is dynamically typed underneath; these drive the
// declared column affinity and the schema surfaced to the model.
const (
	TypeReal = "REAL"
	TypeText = "TEXT"
)

// Column describes one table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Store is a session-scoped analytical table set.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// maxBindVars is SQLite's default variable limit; bulk inserts are chunked
// to stay under it.
const maxBindVars = 900

// NewStore opens a fresh in-memory database.
func NewStore() (*Store, error) {
	db, err := sql.Open("sqlite3_flightlens", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// A :memory: database exists per connection; pin the pool to one so
	// every statement sees the same tables.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// QuoteIdent quotes an SQL identifier. Every identifier the store emits is
// quoted, so reserved-keyword column names (offset, order, ...) stay legal.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTable creates a table. Fails if the name already exists; callers
// drop first if they want replacement.
func (s *Store) CreateTable(name string, columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("table %s: no columns", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defs := make([]string, len(columns))
	for i, col := range columns {
		typ := col.Type
		if typ != TypeReal && typ != TypeText {
			return fmt.Errorf("table %s: unsupported column type %q", name, typ)
		}
		defs[i] = QuoteIdent(col.Name) + " " + typ
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(name), strings.Join(defs, ", "))
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}
	logging.TabularDebug("created table %s with %d columns", name, len(columns))
	return nil
}

// DropTable removes a table if it exists.
func (s *Store) DropTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DROP TABLE IF EXISTS " + QuoteIdent(name)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

// CreateIndex adds an index on one column (used for time_boot_ms range scans).
func (s *Store) CreateIndex(table, column string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := fmt.Sprintf("idx_%s_%s", sanitize(table), sanitize(column))
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdent(idx), QuoteIdent(table), QuoteIdent(column))
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("failed to index %s.%s: %w", table, column, err)
	}
	return nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// BulkInsert inserts rows with a multi-row VALUES statement, chunked under
// SQLite's bind-variable limit. Every row must match the column count.
func (s *Store) BulkInsert(name string, columns []Column, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	width := len(columns)
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("table %s: row %d has %d cells, want %d", name, i, len(row), width)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	colNames := make([]string, width)
	for i, col := range columns {
		colNames[i] = QuoteIdent(col.Name)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", QuoteIdent(name), strings.Join(colNames, ", "))
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"

	rowsPerChunk := maxBindVars / width
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(rows); start += rowsPerChunk {
		end := start + rowsPerChunk
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*width)
		for i, row := range chunk {
			placeholders[i] = placeholder
			args = append(args, row...)
		}
		if _, err := tx.Exec(prefix+strings.Join(placeholders, ", "), args...); err != nil {
			return fmt.Errorf("bulk insert into %s failed: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert into %s: %w", name, err)
	}
	logging.TabularDebug("inserted %d rows into %s", len(rows), name)
	return nil
}

// Query executes a read-only SELECT and returns column names plus typed
// cells. Cells keep their engine types (int64, float64, string, nil);
// narrowing to JSON-safe reals happens at the serialization boundary.
func (s *Store) Query(query string) ([]string, [][]interface{}, error) {
	if err := checkReadOnly(query); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out [][]interface{}
	for rows.Next() {
		cells := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, cell := range cells {
			if b, ok := cell.([]byte); ok {
				cells[i] = string(b)
			}
		}
		out = append(out, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("query iteration failed: %w", err)
	}
	return cols, out, nil
}

// checkReadOnly rejects anything that is not a single SELECT statement.
func checkReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT queries are allowed")
	}
	// SQLite lets a WITH clause prefix DML, so the prefix check alone
	// admits WITH ... DELETE. Scan the statement body too.
	if verb := topLevelWriteVerb(trimmed); verb != "" {
		return fmt.Errorf("only SELECT queries are allowed (found %s)", verb)
	}
	// No statement stacking.
	if i := strings.Index(trimmed, ";"); i >= 0 && strings.TrimSpace(trimmed[i+1:]) != "" {
		return fmt.Errorf("multiple statements are not allowed")
	}
	return nil
}

// topLevelWriteVerb scans a statement outside parentheses and quoted
// regions for a DML verb. Valid SELECTs never carry these keywords at
// paren depth zero, and CTE bodies (depth >= 1) may only contain
// SELECTs, so a hit means the statement writes.
func topLevelWriteVerb(query string) string {
	depth := 0
	for i := 0; i < len(query); {
		switch c := query[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(query, i, c)
		case c == '(':
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			i++
		case isWordByte(c):
			start := i
			for i < len(query) && isWordByte(query[i]) {
				i++
			}
			if depth != 0 {
				continue
			}
			switch word := strings.ToUpper(query[start:i]); word {
			case "INSERT", "UPDATE", "DELETE":
				return word
			case "REPLACE":
				// The statement verb, not the string function: only
				// REPLACE INTO writes.
				if nextWord(query, i) == "INTO" {
					return word
				}
			}
		default:
			i++
		}
	}
	return ""
}

// skipQuoted advances past a quoted literal or identifier starting at i;
// doubled quote characters escape.
func skipQuoted(query string, i int, quote byte) int {
	i++
	for i < len(query) {
		if query[i] == quote {
			if i+1 < len(query) && query[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func nextWord(query string, i int) string {
	for i < len(query) && (query[i] == ' ' || query[i] == '\t' || query[i] == '\n' || query[i] == '\r') {
		i++
	}
	start := i
	for i < len(query) && isWordByte(query[i]) {
		i++
	}
	return strings.ToUpper(query[start:i])
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// ListTables returns the names of all user tables, sorted.
func (s *Store) ListTables() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Describe returns the columns of a table in declaration order.
func (s *Store) Describe(name string) ([]Column, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT name, type FROM pragma_table_info(?)", name)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", name, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no such table: %s", name)
	}
	return cols, nil
}

// RowCount returns the number of rows in a table.
func (s *Store) RowCount(name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM " + QuoteIdent(name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", name, err)
	}
	return n, nil
}

// percentile is the nearest-rank percentile aggregate registered on
// every connection: percentile(value, p) with p in [0, 100], so e.g.
// SELECT percentile(Alt, 95) FROM gps_0_data.
type percentile struct {
	vals []float64
	pct  float64
}

func newPercentile() *percentile { return &percentile{pct: 50} }

// Step ignores NULL and non-numeric cells, like the built-in aggregates.
func (p *percentile) Step(v interface{}, pct float64) {
	switch x := v.(type) {
	case float64:
		p.vals = append(p.vals, x)
	case int64:
		p.vals = append(p.vals, float64(x))
	}
	p.pct = pct
}

func (p *percentile) Done() float64 {
	if len(p.vals) == 0 {
		return math.NaN() // surfaces as NULL
	}
	sort.Float64s(p.vals)
	pct := p.pct
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	rank := int(math.Ceil(pct / 100 * float64(len(p.vals))))
	if rank < 1 {
		rank = 1
	}
	return p.vals[rank-1]
}

// maxExactInt is the largest integer a float64 represents exactly (2^53).
// Counts beyond it are out of support; they are narrowed lossily rather than
// breaking JSON serialization downstream.
const maxExactInt = int64(1) << 53

// NarrowNumeric converts engine integers to finite reals for the wire.
// Applied at the serialization boundary only, never inside the engine.
func NarrowNumeric(v interface{}) interface{} {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		if math.IsInf(n, 0) || math.IsNaN(n) {
			return nil
		}
		return n
	default:
		return v
	}
}

// NarrowRows applies NarrowNumeric to every cell.
func NarrowRows(rows [][]interface{}) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, cell := range row {
			cells[j] = NarrowNumeric(cell)
		}
		out[i] = cells
	}
	return out
}
