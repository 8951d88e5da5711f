package workqueue

import (
	"time"

	"github.com/rzbill/spoolq/internal/spool"
)

// TickStats summarizes one server loop iteration.
type TickStats struct {
	Reaped   int
	Admitted int
	Aborted  int
	Started  int
	Pending  int
	Running  int
}

// Changed reports whether the tick moved any request.
func (s TickStats) Changed() bool {
	return s.Reaped+s.Admitted+s.Aborted+s.Started > 0
}

// MetricsHook observes request lifecycle events. Calls are made from the
// server loop goroutine.
type MetricsHook interface {
	ObserveAdmitted(requestID string, at time.Time)
	ObserveStarted(requestID string, queued time.Duration)
	ObserveCompleted(requestID string, ran time.Duration, failed bool)
	ObserveAborted(requestID string, state spool.State)
	ObserveTick(stats TickStats)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveAdmitted(string, time.Time)            {}
func (NoopMetrics) ObserveStarted(string, time.Duration)         {}
func (NoopMetrics) ObserveCompleted(string, time.Duration, bool) {}
func (NoopMetrics) ObserveAborted(string, spool.State)           {}
func (NoopMetrics) ObserveTick(TickStats)                        {}
