package workqueue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout matches any *TimeoutError.
	ErrTimeout = errors.New("workqueue: timed out waiting for result")
	// ErrIDExhausted means EnqueueRequest could not find a free id. Given the
	// generator's per-process monotonicity this indicates a bug.
	ErrIDExhausted = errors.New("workqueue: could not allocate a request id")
	// ErrNotStarted is returned by Tick before Start.
	ErrNotStarted = errors.New("workqueue: server not started")
	// ErrInvalidID is returned for a request id not produced by the generator.
	ErrInvalidID = errors.New("workqueue: malformed request id")
)

// TimeoutError is returned by Wait when no result arrived in time.
type TimeoutError struct {
	RequestID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workqueue: request %s timed out after %s", e.RequestID, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) hold.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// TaskError is a failure reported by the task manager, forwarded verbatim
// from the server to the waiting client.
type TaskError struct {
	RequestID string
	Kind      string
	Message   string
	Causes    []string
}

func (e *TaskError) Error() string {
	if len(e.Causes) == 0 {
		return e.Message
	}
	return e.Message + " (caused by: " + strings.Join(e.Causes, "; ") + ")"
}
