package workqueue

import (
	"encoding/json"
	"time"
)

// fakeTM is a scriptable TaskManager. With echo set, every started task
// finishes immediately with its payload as the result.
type fakeTM struct {
	capacity   int // <0 means unlimited
	echo       bool
	resultFor  func(id string, payload json.RawMessage) Result
	running    map[string]json.RawMessage
	started    []string
	terminated []string
	finished   []Completion
	ticks      int
}

func newFakeTM(capacity int, echo bool) *fakeTM {
	return &fakeTM{capacity: capacity, echo: echo, running: map[string]json.RawMessage{}}
}

func (f *fakeTM) StartTick() { f.ticks++ }

func (f *fakeTM) Reap() []Completion {
	out := f.finished
	f.finished = nil
	for _, c := range out {
		delete(f.running, c.RequestID)
	}
	return out
}

func (f *fakeTM) HasCapacity() bool {
	return f.capacity < 0 || len(f.running) < f.capacity
}

func (f *fakeTM) StartTask(id string, payload json.RawMessage) error {
	f.running[id] = payload
	f.started = append(f.started, id)
	switch {
	case f.resultFor != nil:
		f.finished = append(f.finished, Completion{RequestID: id, Result: f.resultFor(id, payload)})
	case f.echo:
		f.finished = append(f.finished, Completion{RequestID: id, Result: Result{Value: payload}})
	}
	return nil
}

// finish marks a running task done with v.
func (f *fakeTM) finish(id string, v any) {
	r, _ := OK(v)
	f.finished = append(f.finished, Completion{RequestID: id, Result: r})
}

func (f *fakeTM) TerminateTask(id string) {
	f.terminated = append(f.terminated, id)
	delete(f.running, id)
}

func (f *fakeTM) SampleInterval() time.Duration { return 5 * time.Millisecond }

func (f *fakeTM) Len() int { return len(f.running) }
