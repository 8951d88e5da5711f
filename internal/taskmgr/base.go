package taskmgr

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rzbill/spoolq/internal/capacity"
	"github.com/rzbill/spoolq/internal/workqueue"
	logpkg "github.com/rzbill/spoolq/pkg/log"
)

const defaultSampleInterval = time.Second

// Options are shared by every manager.
type Options struct {
	// Policy gates starts; nil means capacity.Fixed(1).
	Policy capacity.Policy
	// SampleInterval is reported to the server loop.
	SampleInterval time.Duration
	Logger         logpkg.Logger
	Now            func() time.Time
}

// runFunc executes one task until done or ctx is cancelled.
type runFunc func(ctx context.Context) workqueue.Result

type base struct {
	policy   capacity.Policy
	interval time.Duration
	logger   logpkg.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	finished []workqueue.Completion
	wg       sync.WaitGroup
}

func newBase(opts Options, component string) *base {
	b := &base{
		policy:   opts.Policy,
		interval: opts.SampleInterval,
		logger:   opts.Logger,
		now:      opts.Now,
		running:  make(map[string]context.CancelFunc),
	}
	if b.policy == nil {
		b.policy = capacity.Fixed(1)
	}
	if b.interval <= 0 {
		b.interval = defaultSampleInterval
	}
	if b.logger == nil {
		b.logger = logpkg.NewNopLogger()
	}
	b.logger = b.logger.With(logpkg.Component(component))
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b *base) StartTick() {}

func (b *base) Reap() []workqueue.Completion {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.finished
	b.finished = nil
	return out
}

func (b *base) HasCapacity() bool {
	b.mu.Lock()
	n := len(b.running)
	b.mu.Unlock()
	return b.policy.Allow(capacity.Snapshot{Running: n, Now: b.now()})
}

func (b *base) TerminateTask(requestID string) {
	b.mu.Lock()
	cancel, ok := b.running[requestID]
	delete(b.running, requestID)
	b.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	b.logger.Info("task terminated", logpkg.RequestID(requestID))
}

func (b *base) SampleInterval() time.Duration { return b.interval }

func (b *base) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.running)
}

// Wait blocks until every launched goroutine has returned.
func (b *base) Wait() { b.wg.Wait() }

// Shutdown terminates all running tasks and waits for them to exit.
func (b *base) Shutdown() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.running))
	for reqID := range b.running {
		ids = append(ids, reqID)
	}
	b.mu.Unlock()
	for _, reqID := range ids {
		b.TerminateTask(reqID)
	}
	b.wg.Wait()
}

func (b *base) launch(requestID string, run runFunc) error {
	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	if _, dup := b.running[requestID]; dup {
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("taskmgr: request %s already running", requestID)
	}
	b.running[requestID] = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		start := b.now()
		res := b.safeRun(ctx, requestID, run)
		b.finish(requestID, res, b.now().Sub(start))
	}()
	return nil
}

func (b *base) safeRun(ctx context.Context, requestID string, run runFunc) (res workqueue.Result) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("task panicked", logpkg.RequestID(requestID), logpkg.Any("panic", fmt.Sprint(r)), logpkg.Str("stack", string(debug.Stack())))
			res = workqueue.Failure(&PanicError{Value: fmt.Sprint(r)})
		}
	}()
	return run(ctx)
}

func (b *base) finish(requestID string, res workqueue.Result, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.running[requestID]; !ok {
		// terminated; nobody will collect it
		return
	}
	delete(b.running, requestID)
	b.finished = append(b.finished, workqueue.Completion{RequestID: requestID, Result: res})
	b.logger.Debug("task finished", logpkg.RequestID(requestID), logpkg.Dur("elapsed", elapsed), logpkg.Bool("failed", res.Failed()))
}
