package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"flightlens/internal/tabular"
)

// reservedKeywords are SQL keywords that collide with telemetry field names.
// Columns with these names are still emitted; the store quotes every
// identifier, and the schema surfaced to the model marks them as quoted.
var reservedKeywords = map[string]bool{
	"order":   true,
	"offset":  true,
	"limit":   true,
	"group":   true,
	"index":   true,
	"from":    true,
	"to":      true,
	"select":  true,
	"where":   true,
	"table":   true,
	"values":  true,
	"desc":    true,
	"asc":     true,
	"case":    true,
	"when":    true,
	"then":    true,
	"end":     true,
	"set":     true,
	"default": true,
	"current": true,
	"check":   true,
}

// IsReservedColumn reports whether a column name needs quoting in
// hand-written SQL against the store.
func IsReservedColumn(name string) bool {
	return reservedKeywords[strings.ToLower(name)]
}

// TableName derives the table name for a message type: lowercase, bracket
// indices flattened, non-alphanumerics folded to underscores, "_data"
// suffix. "GPS[0]" becomes "gps_0_data".
func TableName(msgType string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(msgType) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	name := strings.TrimSuffix(b.String(), "_")
	return name + "_data"
}

// inferType derives a column type from the first observed non-null sample.
func inferType(sample interface{}) string {
	switch sample.(type) {
	case float64, int, int64:
		return tabular.TypeReal
	default:
		return tabular.TypeText
	}
}

// coerceCell normalizes a raw JSON value to the declared column type.
// Numbers pass through for REAL columns; anything in a TEXT column is
// stringified. Nil stays nil.
func coerceCell(v interface{}, colType string) interface{} {
	if v == nil {
		return nil
	}
	if colType == tabular.TypeReal {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		default:
			// Type drifted mid-stream; better null than a poisoned column.
			return nil
		}
	}
	switch s := v.(type) {
	case string:
		return s
	case bool:
		if s {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
