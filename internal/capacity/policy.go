// Package capacity decides whether a task manager may start another task.
package capacity

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Snapshot is what a policy sees when asked for admission.
type Snapshot struct {
	Running int
	Now     time.Time
}

// Policy gates task starts.
type Policy interface {
	Allow(s Snapshot) bool
}

// Fixed allows up to n concurrent tasks. n <= 0 allows none.
type Fixed int

func (f Fixed) Allow(s Snapshot) bool { return s.Running < int(f) }

// Unlimited allows every start.
type Unlimited struct{}

func (Unlimited) Allow(Snapshot) bool { return true }

// CEL evaluates a boolean CEL expression per admission. Variables:
//
//	running  int   tasks currently running
//	limit    int   configured concurrency limit
//	hour     int   local hour of day, 0-23
//	weekday  int   0 = Sunday
//	now_ms   int   Unix milliseconds
//
// Evaluation errors deny admission.
type CEL struct {
	prog  cel.Program
	expr  string
	limit int
}

// NewCEL compiles expr. An empty expression yields "running < limit".
func NewCEL(expr string, limit int) (*CEL, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = "running < limit"
	}
	env, err := cel.NewEnv(
		cel.Variable("running", cel.IntType),
		cel.Variable("limit", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("capacity: parse %q: %w", expr, iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, fmt.Errorf("capacity: check %q: %w", expr, iss2.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.New("capacity: expression must evaluate to bool")
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &CEL{prog: prog, expr: expr, limit: limit}, nil
}

// String returns the compiled expression.
func (c *CEL) String() string { return c.expr }

func (c *CEL) Allow(s Snapshot) bool {
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}
	out, _, err := c.prog.Eval(map[string]any{
		"running": int64(s.Running),
		"limit":   int64(c.limit),
		"hour":    int64(now.Hour()),
		"weekday": int64(now.Weekday()),
		"now_ms":  now.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// UnlimitedLimit is the value CEL expressions see as limit when no
// concurrency cap is configured.
const UnlimitedLimit = math.MaxInt32

// FromConfig picks a policy: a CEL expression when expr is set, otherwise
// Fixed(limit), or Unlimited when limit < 0.
func FromConfig(expr string, limit int) (Policy, error) {
	if strings.TrimSpace(expr) != "" {
		if limit < 0 {
			limit = UnlimitedLimit
		}
		return NewCEL(expr, limit)
	}
	if limit < 0 {
		return Unlimited{}, nil
	}
	return Fixed(limit), nil
}
