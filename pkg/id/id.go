package id

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	secDigits  = 10
	fracDigits = 6
)

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu         sync.Mutex
	lastMicros int64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMicros returns current time in microseconds since Unix epoch.
var NowMicros = func() int64 { return time.Now().UnixMicro() }

// Next returns a new ID. If the clock has not moved past the last issued
// value it uses last+1µs instead.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	us := NowMicros()
	if us <= g.lastMicros {
		us = g.lastMicros + 1
	}
	g.lastMicros = us
	return Format(us)
}

// Format renders a microsecond timestamp as an ID.
func Format(micros int64) string {
	return fmt.Sprintf("%010d.%06d", micros/1_000_000, micros%1_000_000)
}

// Parse recovers the creation time encoded in id. Only the exact
// ten-digit seconds, dot, six-digit micros form is accepted.
func Parse(id string) (time.Time, error) {
	sec, frac, ok := strings.Cut(id, ".")
	if !ok || len(sec) != secDigits || len(frac) != fracDigits || !digits(sec) || !digits(frac) {
		return time.Time{}, fmt.Errorf("id: malformed %q", id)
	}
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("id: malformed %q: %w", id, err)
	}
	us, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("id: malformed %q: %w", id, err)
	}
	return time.UnixMicro(s*1_000_000 + us), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Valid reports whether s is a well-formed ID.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
