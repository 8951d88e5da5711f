package log

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"
)

const redacted = "[REDACTED]"

// pipeline is the write side shared by a logger's handler and every handler
// derived from it with WithAttrs/WithGroup.
type pipeline struct {
	logger  *BaseLogger
	redact  map[string]struct{}
	sampler *sampler
}

// bridgeHandler is a slog.Handler that routes records through the logger's
// formatter and outputs. Grouped keys are flattened as "group.key".
type bridgeHandler struct {
	p      *pipeline
	attrs  Fields
	prefix string
}

func newBridgeHandler(l *BaseLogger, redactKeys []string, sampleInit, sampleNext int) *bridgeHandler {
	p := &pipeline{logger: l}
	if len(redactKeys) > 0 {
		p.redact = make(map[string]struct{}, len(redactKeys))
		for _, k := range redactKeys {
			p.redact[k] = struct{}{}
		}
	}
	if sampleNext > 0 {
		p.sampler = newSampler(sampleInit, sampleNext, time.Second)
	}
	return &bridgeHandler{p: p}
}

func (h *bridgeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return fromSlogLevel(level) >= h.p.logger.level
}

func (h *bridgeHandler) Handle(_ context.Context, r slog.Record) error {
	if s := h.p.sampler; s != nil && !s.allow(r.Level, r.Message, r.Time) {
		return nil
	}
	fields := make(Fields, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		fields[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		h.collect(fields, h.prefix, a)
		return true
	})

	entry := &Entry{
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Fields:    fields,
		Timestamp: r.Time,
		Caller:    callerOf(r.PC),
	}
	l := h.p.logger
	formatted, err := l.formatter.Format(entry)
	if err != nil {
		return err
	}
	for _, out := range l.outputs {
		_ = out.Write(entry, formatted)
	}
	return nil
}

// collect resolves a into fields, expanding groups and masking redacted keys.
func (h *bridgeHandler) collect(fields Fields, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		sub := prefix
		if a.Key != "" {
			sub = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.collect(fields, sub, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if _, ok := h.p.redact[a.Key]; ok {
		fields[prefix+a.Key] = redacted
		return
	}
	fields[prefix+a.Key] = a.Value.Any()
}

func (h *bridgeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := &bridgeHandler{p: h.p, prefix: h.prefix, attrs: make(Fields, len(h.attrs)+len(attrs))}
	for k, v := range h.attrs {
		nh.attrs[k] = v
	}
	for _, a := range attrs {
		h.collect(nh.attrs, h.prefix, a)
	}
	return nh
}

func (h *bridgeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &bridgeHandler{p: h.p, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func callerOf(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	f, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if f.File == "" {
		return ""
	}
	return f.File + ":" + strconv.Itoa(f.Line)
}

// sampler passes the first `initial` records of each level+message per
// window, then every `thereafter`-th one.
type sampler struct {
	mu         sync.Mutex
	initial    uint64
	thereafter uint64
	window     time.Duration
	start      time.Time
	counts     map[string]uint64
}

func newSampler(initial, thereafter int, window time.Duration) *sampler {
	if initial < 0 {
		initial = 0
	}
	return &sampler{
		initial:    uint64(initial),
		thereafter: uint64(thereafter),
		window:     window,
		counts:     make(map[string]uint64),
	}
}

func (s *sampler) allow(level slog.Level, msg string, at time.Time) bool {
	key := level.String() + "|" + msg
	s.mu.Lock()
	if at.Sub(s.start) >= s.window {
		s.start = at
		clear(s.counts)
	}
	n := s.counts[key]
	s.counts[key] = n + 1
	s.mu.Unlock()
	return n < s.initial || (n-s.initial)%s.thereafter == 0
}

var levelMap = [...]struct {
	level Level
	slog  slog.Level
}{
	{DebugLevel, slog.LevelDebug},
	{InfoLevel, slog.LevelInfo},
	{WarnLevel, slog.LevelWarn},
	{ErrorLevel, slog.LevelError},
	{FatalLevel, slog.LevelError + 4},
}

func toSlogLevel(level Level) slog.Level {
	for _, m := range levelMap {
		if m.level == level {
			return m.slog
		}
	}
	return slog.LevelInfo
}

func fromSlogLevel(level slog.Level) Level {
	for _, m := range levelMap {
		if level <= m.slog {
			return m.level
		}
	}
	return FatalLevel
}

func attrsFromMap(m Fields) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func attrsFromFieldSlice(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	return attrs
}

// argsToAttrs pairs printf-style trailing args as key, value. A non-string
// key or a dangling value is kept under "arg<i>".
func argsToAttrs(args []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 == len(args) {
			attrs = append(attrs, slog.Any("arg"+strconv.Itoa(i), args[i]))
			i--
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}
