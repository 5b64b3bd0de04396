// Package ingest turns a parsed flight log into analytical tables.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// TimeField is the field whose presence marks a message type as time-series.
const TimeField = "time_boot_ms"

// ErrInvalidLog marks payloads rejected before ingestion starts: empty
// objects, logs with no message types, or non-object message entries.
// Callers map it to a client error rather than a server failure.
var ErrInvalidLog = errors.New("invalid log data")

// Sibling collections that live alongside message types in a parsed log.
// They are carried on the session but never tabulated.
var siblingKeys = map[string]bool{
	"trajectories":      true,
	"params":            true,
	"events":            true,
	"flightModeChanges": true,
	"mission":           true,
	"fences":            true,
	"file":              true,
	"logType":           true,
}

// ParsedLog is the wire shape accepted by /chatbot/init: message types mapped
// to field collections, with a handful of sibling collections mixed in at the
// same level.
type ParsedLog struct {
	// Messages maps message type (e.g. "ATT", "GPS[0]") to its fields.
	Messages map[string]map[string]interface{}

	// Extras holds the sibling collections keyed by their original name.
	Extras map[string]json.RawMessage
}

// ParseLog splits a raw log object into message types and sibling
// collections. Message-type entries that are not objects are rejected.
func ParseLog(raw map[string]json.RawMessage) (*ParsedLog, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty log object", ErrInvalidLog)
	}

	log := &ParsedLog{
		Messages: make(map[string]map[string]interface{}),
		Extras:   make(map[string]json.RawMessage),
	}

	for key, val := range raw {
		if siblingKeys[key] {
			log.Extras[key] = val
			continue
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(val, &fields); err != nil {
			return nil, fmt.Errorf("%w: message type %s is not an object", ErrInvalidLog, key)
		}
		log.Messages[key] = fields
	}

	if len(log.Messages) == 0 {
		return nil, fmt.Errorf("%w: log contains no message types", ErrInvalidLog)
	}
	return log, nil
}

// MessageTypes returns the message types in deterministic order.
func (l *ParsedLog) MessageTypes() []string {
	types := make([]string, 0, len(l.Messages))
	for t := range l.Messages {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// isTimeSeries reports whether a message type carries the time index field.
func isTimeSeries(fields map[string]interface{}) bool {
	_, ok := fields[TimeField]
	return ok
}

// ordinalKeys returns the keys of a field map sorted by numeric ordinal.
// Non-numeric keys sort after numeric ones, lexicographically.
func ordinalKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseInt(keys[i], 10, 64)
		b, errB := strconv.ParseInt(keys[j], 10, 64)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}
