package log

import "time"

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

// Str constructs a string field.
func Str(key, val string) Field { return Field{Key: key, Value: val} }

// Int constructs an int field.
func Int(key string, val int) Field { return Field{Key: key, Value: val} }

// Int64 constructs an int64 field.
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }

// Bool constructs a bool field.
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }

// Dur constructs a duration field rendered as a Go duration string.
func Dur(key string, val time.Duration) Field { return Field{Key: key, Value: val.String()} }

// Time constructs a timestamp field in RFC3339 with milliseconds.
func Time(key string, val time.Time) Field {
	return Field{Key: key, Value: val.UTC().Format("2006-01-02T15:04:05.000Z07:00")}
}

// Any constructs a field from an arbitrary value.
func Any(key string, val interface{}) Field { return Field{Key: key, Value: val} }

// Err constructs the conventional "error" field. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags an entry with the emitting component.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }

// RequestID tags an entry with a work request id.
func RequestID(id string) Field { return Field{Key: RequestIDKey, Value: id} }
