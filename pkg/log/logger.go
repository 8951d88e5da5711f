// Package log provides a structured logging system for spoolq components.
package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields is a map of field names to values.
type Fields map[string]interface{}

// Context keys for propagating logging context
const (
	RequestIDKey = "request_id"
	ComponentKey = "component"
	OperationKey = "operation"
)

// Entry represents a single log entry.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
}

// Logger defines the core logging interface for spoolq components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
	Fatalf(msg string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	// With adds multiple fields to the logger.
	With(fields ...Field) Logger

	// WithContext adds request context to the Logger
	WithContext(ctx context.Context) Logger

	// WithComponent tags logs with a component name
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Formatter defines the interface for formatting log entries.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output defines the interface for log outputs.
type Output interface {
	Write(entry *Entry, formattedEntry []byte) error
	Close() error
}

// LoggerOption is a function that configures a logger.
type LoggerOption func(*BaseLogger)

// BaseLogger implements the Logger interface.
type BaseLogger struct {
	level      Level
	fields     Fields
	formatter  Formatter
	outputs    []Output
	redactKeys []string
	sampleInit int
	sampleNext int
	slogLogger *slog.Logger
}

// ContextExtractor extracts logging context from a context.Context.
func ContextExtractor(ctx context.Context) Fields {
	fields := Fields{}
	if ctx == nil {
		return fields
	}
	for _, k := range []string{RequestIDKey, ComponentKey, OperationKey} {
		if v := ctx.Value(k); v != nil {
			fields[k] = v
		}
	}
	return fields
}

// NewLogger creates a new logger with the given options.
func NewLogger(options ...LoggerOption) Logger {
	logger := &BaseLogger{
		level:     InfoLevel,
		fields:    Fields{},
		formatter: &JSONFormatter{},
		outputs:   []Output{},
	}

	for _, option := range options {
		option(logger)
	}

	if len(logger.outputs) == 0 {
		logger.outputs = append(logger.outputs, &ConsoleOutput{})
	}

	logger.rebuild()
	return logger
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) {
		l.level = level
	}
}

// WithFormatter sets the log formatter.
func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) {
		l.formatter = formatter
	}
}

// WithOutput adds an output to the logger.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) {
		l.outputs = append(l.outputs, output)
	}
}

// WithRedaction replaces the values of the given keys with a placeholder.
func WithRedaction(keys ...string) LoggerOption {
	return func(l *BaseLogger) {
		l.redactKeys = append(l.redactKeys, keys...)
	}
}

// WithSampling logs the first `initial` entries of each message, then every
// `thereafter`-th one.
func WithSampling(initial, thereafter int) LoggerOption {
	return func(l *BaseLogger) {
		l.sampleInit = initial
		l.sampleNext = thereafter
	}
}

// rebuild wires a fresh bridge handler bound to l and its base fields.
func (l *BaseLogger) rebuild() {
	h := newBridgeHandler(l, l.redactKeys, l.sampleInit, l.sampleNext)
	l.slogLogger = slog.New(h.WithAttrs(attrsFromMap(l.fields)))
}

func (l *BaseLogger) clone() *BaseLogger {
	nl := *l
	nl.fields = make(Fields, len(l.fields))
	for k, v := range l.fields {
		nl.fields[k] = v
	}
	return &nl
}

func (l *BaseLogger) log(level Level, msg string, attrs []slog.Attr) {
	if level < l.level {
		return
	}
	var pcs [1]uintptr
	// skip runtime.Callers, log, and the exported level method
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), toSlogLevel(level), msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.slogLogger.Handler().Handle(context.Background(), r)
	if level == FatalLevel {
		for _, out := range l.outputs {
			_ = out.Close()
		}
		os.Exit(1)
	}
}

func (l *BaseLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, attrsFromFieldSlice(fields))
}

func (l *BaseLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, attrsFromFieldSlice(fields))
}

func (l *BaseLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, attrsFromFieldSlice(fields))
}

func (l *BaseLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, attrsFromFieldSlice(fields))
}

func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, attrsFromFieldSlice(fields))
}

// Debugf logs with key-value pairs: l.Debugf("msg", "k1", v1, "k2", v2).
func (l *BaseLogger) Debugf(msg string, args ...interface{}) {
	l.log(DebugLevel, msg, argsToAttrs(args))
}

func (l *BaseLogger) Infof(msg string, args ...interface{}) {
	l.log(InfoLevel, msg, argsToAttrs(args))
}

func (l *BaseLogger) Warnf(msg string, args ...interface{}) {
	l.log(WarnLevel, msg, argsToAttrs(args))
}

func (l *BaseLogger) Errorf(msg string, args ...interface{}) {
	l.log(ErrorLevel, msg, argsToAttrs(args))
}

func (l *BaseLogger) Fatalf(msg string, args ...interface{}) {
	l.log(FatalLevel, msg, argsToAttrs(args))
}

func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(Fields{key: value})
}

func (l *BaseLogger) WithFields(fields Fields) Logger {
	nl := l.clone()
	for k, v := range fields {
		nl.fields[k] = v
	}
	nl.rebuild()
	return nl
}

func (l *BaseLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	m := make(Fields, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return l.WithFields(m)
}

func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	fields := ContextExtractor(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields)
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.WithField(ComponentKey, component)
}

func (l *BaseLogger) SetLevel(level Level) { l.level = level }

func (l *BaseLogger) GetLevel() Level { return l.level }
