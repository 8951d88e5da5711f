package workqueue

import (
	"encoding/json"
	"time"
)

// Completion is a finished task reported by TaskManager.Reap.
type Completion struct {
	RequestID string
	Result    Result
}

// TaskManager executes work on behalf of the server. The server calls it
// from a single goroutine; implementations may run tasks concurrently.
type TaskManager interface {
	// StartTick is called once per loop iteration before any other call.
	StartTick()
	// Reap returns tasks finished since the previous call. An id is never
	// returned twice.
	Reap() []Completion
	// HasCapacity reports whether another task may start now.
	HasCapacity() bool
	// StartTask begins executing payload. It must not block.
	StartTask(requestID string, payload json.RawMessage) error
	// TerminateTask cancels a running task, best effort. A terminated task
	// must not be reported by Reap.
	TerminateTask(requestID string)
	// SampleInterval is the pause between loop iterations.
	SampleInterval() time.Duration
	// Len is the number of running tasks.
	Len() int
}
