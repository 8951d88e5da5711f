package taskmgr

import (
	"context"
	"encoding/json"

	"github.com/rzbill/spoolq/internal/workqueue"
)

// HandlerFunc processes one payload. A returned error becomes the
// request's failure result.
type HandlerFunc func(ctx context.Context, requestID string, payload json.RawMessage) (any, error)

// Func runs a Go handler per request.
type Func struct {
	*base
	handler HandlerFunc
}

var _ workqueue.TaskManager = (*Func)(nil)

// NewFunc returns a manager that calls h for every started request.
func NewFunc(h HandlerFunc, opts Options) *Func {
	return &Func{base: newBase(opts, "taskmgr.func"), handler: h}
}

func (f *Func) StartTask(requestID string, payload json.RawMessage) error {
	return f.launch(requestID, func(ctx context.Context) workqueue.Result {
		v, err := f.handler(ctx, requestID, payload)
		if err != nil {
			return workqueue.Failure(err)
		}
		res, err := workqueue.OK(v)
		if err != nil {
			return workqueue.Failure(err)
		}
		return res
	})
}
