package logs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"studio/internal/logging"
)

// Entry is one decoded line of the daemon's JSON log.
type Entry struct {
	Time      time.Time
	Level     slog.Level
	Message   string
	Component string
	JobID     string
	Fields    map[string]any
	Raw       string
}

// ParseEntry decodes a JSON log line. Lines that are not JSON objects are
// returned as info-level entries whose message is the raw text.
func ParseEntry(line string) Entry {
	entry := Entry{Raw: line, Level: slog.LevelInfo}
	trimmed := strings.TrimSpace(line)
	var fields map[string]any
	if !strings.HasPrefix(trimmed, "{") || json.Unmarshal([]byte(trimmed), &fields) != nil {
		entry.Message = trimmed
		return entry
	}

	if ts, ok := fields["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = parsed
		}
	}
	if lvl, ok := fields["level"].(string); ok {
		entry.Level = ParseLevel(lvl)
	}
	entry.Message, _ = fields["msg"].(string)
	entry.Component, _ = fields[logging.FieldComponent].(string)
	entry.JobID, _ = fields[logging.FieldJobID].(string)
	for _, key := range []string{"ts", "level", "msg", logging.FieldComponent, logging.FieldJobID} {
		delete(fields, key)
	}
	entry.Fields = fields
	return entry
}

// ParseLevel maps a level name to its slog level. Unknown names are info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Filter selects entries. Zero-valued fields match everything.
type Filter struct {
	JobID     string
	Component string
	MinLevel  slog.Level
}

// Match reports whether entry passes the filter.
func (f Filter) Match(entry Entry) bool {
	if entry.Level < f.MinLevel {
		return false
	}
	if f.JobID != "" && !strings.HasPrefix(entry.JobID, f.JobID) {
		return false
	}
	if f.Component != "" && !strings.EqualFold(entry.Component, f.Component) {
		return false
	}
	return true
}

// Format renders entry as "ts LEVEL component: msg key=value ..." with keys
// sorted and the job id first.
func (e Entry) Format() string {
	if e.Time.IsZero() && e.Fields == nil {
		return e.Message
	}
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.UTC().Format(time.RFC3339))
		b.WriteByte(' ')
	}
	b.WriteString(levelName(e.Level))
	b.WriteByte(' ')
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.JobID != "" {
		b.WriteString(" " + logging.FieldJobID + "=" + e.JobID)
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(fieldString(e.Fields[key]))
	}
	return b.String()
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func fieldString(value any) string {
	switch v := value.(type) {
	case string:
		if strings.ContainsAny(v, " \t\"=") {
			return strconv.Quote(v)
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return "null"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
