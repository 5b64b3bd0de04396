// Package validator cross-checks the numbers a model response claims
// against the SQL it cites: every SELECT found in the response is
// re-executed and its result compared with the claimed value.
package validator

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"flightlens/internal/logging"
	"flightlens/internal/tabular"
)

// Discrepancy thresholds. Both must be exceeded before a mismatch is
// flagged, so rounding in prose ("about 15 meters" for 14.8) passes.
const (
	absoluteTolerance = 10.0
	relativeTolerance = 0.05
)

// sqlPattern matches a SELECT statement cited in free text, up to a
// terminator the model typically ends it with.
var sqlPattern = regexp.MustCompile(`(?i)\bSELECT\b[^;` + "`" + `\n]+\bFROM\b[^;` + "`" + `\n]*`)

// queryMarker stands in for stripped SQL in the prose, so a number that
// immediately trails a cited query stays attributable to it.
const queryMarker = "\x00"

// claimedPatterns find the numeric value a response asserts, in
// priority order. The first hit wins.
var claimedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\breturn(?:s|ed)?\s+(?:a\s+value\s+of\s+)?(-?\d[\d,]*\.?\d*)`),
	regexp.MustCompile(`(?i)\bshows?\s+(?:a\s+value\s+of\s+)?(-?\d[\d,]*\.?\d*)`),
	regexp.MustCompile(`(?i)\b(?:was|is|reached)\s+(?:approximately\s+|about\s+|around\s+)?(-?\d[\d,]*\.?\d*)`),
	regexp.MustCompile(`(?i)\b(?:maximum|minimum|average|mean|total|count|highest|lowest)\b[^.\n]*?(-?\d[\d,]*\.?\d*)`),
	// A bare number immediately after a cited query, e.g.
	// "SELECT MAX(Alt) FROM gps_0_data" followed by "1448" on the
	// next line, or "`SELECT ...`: 1448".
	regexp.MustCompile(queryMarker + `[\s:=>-]*(-?\d[\d,]*\.?\d*)`),
}

// Validation is the outcome for one cited query.
type Validation struct {
	Query        string    `json:"query"`
	OK           bool      `json:"ok"`
	Error        string    `json:"error,omitempty"`
	ActualValues []float64 `json:"actualValues,omitempty"`
	ClaimedValue *float64  `json:"claimedValue,omitempty"`
	Discrepancy  bool      `json:"discrepancy"`
}

// Report summarizes validation of one response.
type Report struct {
	TotalQueries             int          `json:"totalQueries"`
	ValidQueries             int          `json:"validQueries"`
	QueriesWithDiscrepancies int          `json:"queriesWithDiscrepancies"`
	Validations              []Validation `json:"validations"`
	Timestamp                time.Time    `json:"timestamp"`
}

// HasDiscrepancy reports whether any cited query disagreed with the
// claimed value.
func (r *Report) HasDiscrepancy() bool { return r.QueriesWithDiscrepancies > 0 }

// Validate extracts the SQL cited in a response, re-executes each
// statement, and compares the results with the claimed number. A
// response citing no SQL yields an empty report.
func Validate(store *tabular.Store, response string) *Report {
	report := &Report{Timestamp: time.Now()}

	queries := extractQueries(response)
	report.TotalQueries = len(queries)
	if len(queries) == 0 {
		return report
	}

	claimed := extractClaimedValue(response)

	for _, query := range queries {
		v := Validation{Query: query, ClaimedValue: claimed}

		_, rows, err := store.Query(query)
		if err != nil {
			v.Error = err.Error()
			report.Validations = append(report.Validations, v)
			logging.Validator("cited query failed: %v", err)
			continue
		}
		v.OK = true
		report.ValidQueries++

		v.ActualValues = numericCells(rows)
		if claimed != nil && len(v.ActualValues) > 0 && !anyMatches(*claimed, v.ActualValues) {
			v.Discrepancy = true
			report.QueriesWithDiscrepancies++
			logging.Validator("discrepancy: claimed %v, actual %v for %q",
				*claimed, v.ActualValues, query)
		}
		report.Validations = append(report.Validations, v)
	}
	return report
}

// extractQueries returns the distinct SELECT statements cited in the
// text, in order of appearance.
func extractQueries(text string) []string {
	matches := sqlPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		q := strings.TrimSpace(m)
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}

// extractClaimedValue finds the number the response asserts, if any.
func extractClaimedValue(text string) *float64 {
	// The claim lives in prose. Replace the cited SQL with a marker so
	// numeric literals inside queries are not mistaken for claims but a
	// result quoted right after the query still is one.
	prose := sqlPattern.ReplaceAllString(text, queryMarker)

	for _, pat := range claimedPatterns {
		m := pat.FindStringSubmatch(prose)
		if m == nil {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		return &val
	}
	return nil
}

// numericCells collects the numeric values of the first result row.
// Single-number validation: aggregates return one row, and that is the
// row a claim refers to.
func numericCells(rows [][]interface{}) []float64 {
	if len(rows) == 0 {
		return nil
	}
	var out []float64
	for _, cell := range rows[0] {
		switch x := cell.(type) {
		case float64:
			out = append(out, x)
		case int64:
			out = append(out, float64(x))
		case int:
			out = append(out, float64(x))
		}
	}
	return out
}

// anyMatches reports whether the claim agrees with at least one actual
// value within tolerance.
func anyMatches(claimed float64, actuals []float64) bool {
	for _, actual := range actuals {
		diff := claimed - actual
		if diff < 0 {
			diff = -diff
		}
		if diff <= absoluteTolerance {
			return true
		}
		scale := actual
		if scale < 0 {
			scale = -scale
		}
		if scale > 0 && diff/scale <= relativeTolerance {
			return true
		}
	}
	return false
}

// historyLimit bounds the per-session validation history.
const historyLimit = 50

// History is a concurrency-safe trailing window of validation reports
// for one session.
type History struct {
	mu      sync.Mutex
	reports []*Report
}

// NewHistory creates an empty history.
func NewHistory() *History { return &History{} }

// Add appends a report, trimming to the window.
func (h *History) Add(report *Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, report)
	if len(h.reports) > historyLimit {
		h.reports = h.reports[len(h.reports)-historyLimit:]
	}
}

// List returns the recorded reports, oldest first.
func (h *History) List() []*Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Report, len(h.reports))
	copy(out, h.reports)
	return out
}
