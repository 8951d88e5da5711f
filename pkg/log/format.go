package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// TextFormatter renders entries as a single human-readable line:
//
//	2024-01-02T15:04:05.000Z INFO  tick component=server admitted=3
type TextFormatter struct {
	// DisableTimestamp omits the leading timestamp (useful in tests).
	DisableTimestamp bool
	// ShowCaller appends caller=file:line.
	ShowCaller bool
}

// Format implements Formatter.
func (f *TextFormatter) Format(e *Entry) ([]byte, error) {
	var b bytes.Buffer
	if !f.DisableTimestamp {
		b.WriteString(e.Timestamp.UTC().Format(timestampFormat))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s %s", e.Level.String(), e.Message)
	for _, k := range sortedKeys(e.Fields) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(fmt.Sprint(e.Fields[k])))
	}
	if f.ShowCaller && e.Caller != "" {
		b.WriteString(" caller=")
		b.WriteString(e.Caller)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// JSONFormatter renders entries as one JSON object per line.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(e *Entry) ([]byte, error) {
	m := make(map[string]interface{}, len(e.Fields)+4)
	for k, v := range e.Fields {
		switch tv := v.(type) {
		case time.Duration:
			m[k] = tv.String()
		case error:
			m[k] = tv.Error()
		default:
			m[k] = v
		}
	}
	m["ts"] = e.Timestamp.UTC().Format(timestampFormat)
	m["level"] = strings.ToLower(e.Level.String())
	m["msg"] = e.Message
	if e.Caller != "" {
		m["caller"] = e.Caller
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func sortedKeys(m Fields) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
