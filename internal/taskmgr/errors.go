package taskmgr

import (
	"errors"
	"fmt"
)

// ErrBadPayload is wrapped by payload decoding failures.
var ErrBadPayload = errors.New("taskmgr: bad payload")

// ExitError reports a non-zero exit from a process or container.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}

func (e *ExitError) Kind() string { return "ExitError" }

// PanicError reports a handler panic.
type PanicError struct{ Value string }

func (e *PanicError) Error() string { return "task panicked: " + e.Value }

func (e *PanicError) Kind() string { return "PanicError" }
