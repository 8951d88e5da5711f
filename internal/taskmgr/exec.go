package taskmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/rzbill/spoolq/internal/workqueue"
	logpkg "github.com/rzbill/spoolq/pkg/log"
)

// ExecPayload is the request payload understood by Exec.
type ExecPayload struct {
	Argv []string          `json:"argv"`
	Env  map[string]string `json:"env,omitempty"`
	Dir  string            `json:"dir,omitempty"`
}

// Output is the success result of Exec and Docker tasks.
type Output struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
	Elapsed  string `json:"elapsed"`
}

// Exec runs each request as a subprocess.
type Exec struct {
	*base
	inheritEnv bool
}

var _ workqueue.TaskManager = (*Exec)(nil)

// NewExec returns a subprocess manager. When inheritEnv is set, children
// start from the server's environment.
func NewExec(opts Options, inheritEnv bool) *Exec {
	return &Exec{base: newBase(opts, "taskmgr.exec"), inheritEnv: inheritEnv}
}

func (e *Exec) StartTask(requestID string, payload json.RawMessage) error {
	var p ExecPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(p.Argv) == 0 {
		return fmt.Errorf("%w: argv is empty", ErrBadPayload)
	}
	return e.launch(requestID, func(ctx context.Context) workqueue.Result {
		return e.run(ctx, requestID, p)
	})
}

func (e *Exec) run(ctx context.Context, requestID string, p ExecPayload) workqueue.Result {
	cmd := exec.CommandContext(ctx, p.Argv[0], p.Argv[1:]...)
	cmd.Dir = p.Dir
	if e.inheritEnv || len(p.Env) > 0 {
		var env []string
		if e.inheritEnv {
			env = os.Environ()
		}
		cmd.Env = append(env, envList(p.Env)...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	e.logger.Debug("exec start", logpkg.RequestID(requestID), logpkg.Str("argv0", p.Argv[0]))
	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String(), Elapsed: time.Since(start).String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		return workqueue.Failure(&ExitError{Code: exitErr.ExitCode(), Stderr: out.Stderr})
	default:
		return workqueue.Failure(fmt.Errorf("exec %s: %w", p.Argv[0], err))
	}
	res, err := workqueue.OK(out)
	if err != nil {
		return workqueue.Failure(err)
	}
	return res
}

func envList(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
