package workqueue

import (
	"context"
	"time"

	"github.com/rzbill/spoolq/internal/spool"
	"github.com/rzbill/spoolq/pkg/id"
	logpkg "github.com/rzbill/spoolq/pkg/log"
)

const defaultHeartbeat = 10 * time.Minute

// ServerOptions configures a Server.
type ServerOptions struct {
	Logger  logpkg.Logger
	Metrics MetricsHook
	// HeartbeatInterval is how often an idle loop logs that it is alive.
	HeartbeatInterval time.Duration
	// Now overrides the clock used for durations and heartbeats.
	Now func() time.Time
	// OnTick is called after every completed tick.
	OnTick func(TickStats)
}

// Server owns the spool state machine. All transitions happen on the
// goroutine running ProcessRequests (or the caller of Tick).
type Server struct {
	spool     *spool.Spool
	logger    logpkg.Logger
	metrics   MetricsHook
	heartbeat time.Duration
	now       func() time.Time
	onTick    func(TickStats)

	tm        TaskManager
	pending   []string
	isPending map[string]struct{}
	arrivals  map[string]time.Time
	started   map[string]time.Time
	lastLog   time.Time
	ticks     uint64
}

// NewServer returns a Server for sp.
func NewServer(sp *spool.Spool, opts ServerOptions) *Server {
	s := &Server{
		spool:     sp,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		heartbeat: opts.HeartbeatInterval,
		now:       opts.Now,
		onTick:    opts.OnTick,
	}
	if s.logger == nil {
		s.logger = logpkg.NewNopLogger()
	}
	s.logger = s.logger.With(logpkg.Component("workqueue.server"))
	if s.metrics == nil {
		s.metrics = NoopMetrics{}
	}
	if s.heartbeat <= 0 {
		s.heartbeat = defaultHeartbeat
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ProcessRequests wipes the spool and runs the dispatch loop until ctx is
// done (returns nil) or a tick fails (returns the error).
func (s *Server) ProcessRequests(ctx context.Context, tm TaskManager) error {
	if err := s.Start(tm); err != nil {
		return err
	}
	s.logger.Info("dispatch loop started",
		logpkg.Str("spool", s.spool.Root()),
		logpkg.Dur("sample_interval", tm.SampleInterval()),
	)
	for {
		if _, err := s.Tick(); err != nil {
			s.logger.Error("dispatch loop stopped", logpkg.Err(err), logpkg.Int64("ticks", int64(s.ticks)))
			return err
		}
		t := time.NewTimer(tm.SampleInterval())
		select {
		case <-ctx.Done():
			t.Stop()
			s.logger.Info("dispatch loop shutting down",
				logpkg.Int("pending", len(s.pending)),
				logpkg.Int("running", tm.Len()),
			)
			return nil
		case <-t.C:
		}
	}
}

// Start resets the spool and binds tm. Tick may be called afterwards.
func (s *Server) Start(tm TaskManager) error {
	if err := s.spool.Reset(); err != nil {
		return err
	}
	s.tm = tm
	s.pending = nil
	s.isPending = make(map[string]struct{})
	s.arrivals = make(map[string]time.Time)
	s.started = make(map[string]time.Time)
	s.lastLog = s.now()
	s.ticks = 0
	return nil
}

// Pending returns the ids waiting for capacity, oldest first.
func (s *Server) Pending() []string {
	return append([]string(nil), s.pending...)
}

// Tick runs one loop iteration.
func (s *Server) Tick() (TickStats, error) {
	var stats TickStats
	if s.tm == nil {
		return stats, ErrNotStarted
	}
	s.ticks++
	s.tm.StartTick()

	var err error
	if stats.Reaped, err = s.reap(); err != nil {
		return stats, err
	}
	if stats.Admitted, err = s.admit(); err != nil {
		return stats, err
	}
	if stats.Aborted, err = s.processAborts(); err != nil {
		return stats, err
	}
	if stats.Started, err = s.dispatch(); err != nil {
		return stats, err
	}
	stats.Pending = len(s.pending)
	stats.Running = s.tm.Len()

	s.report(stats)
	s.metrics.ObserveTick(stats)
	if s.onTick != nil {
		s.onTick(stats)
	}
	return stats, nil
}

// reap stores finished results. The result overwrites running/<id> and is
// then renamed to complete/<id>, so the request never has two files.
func (s *Server) reap() (int, error) {
	n := 0
	for _, c := range s.tm.Reap() {
		startedAt, wasStarted := s.started[c.RequestID]
		delete(s.started, c.RequestID)
		if !s.spool.IsInState(c.RequestID, spool.Running) {
			s.logger.Debug("dropping result for request no longer running", logpkg.RequestID(c.RequestID))
			continue
		}
		failed := c.Result.Failed()
		data, err := c.Result.Encode()
		if err != nil {
			s.logger.Warn("result not encodable, storing the encoding error instead",
				logpkg.RequestID(c.RequestID), logpkg.Err(err))
			failed = true
			if data, err = Failure(err).Encode(); err != nil {
				return n, err
			}
		}
		if err := s.spool.WriteAtomic(c.RequestID, spool.Running, data); err != nil {
			return n, err
		}
		if err := s.spool.Move(c.RequestID, spool.Running, spool.Complete); err != nil {
			return n, err
		}
		var ran time.Duration
		if wasStarted {
			ran = s.now().Sub(startedAt)
		}
		s.metrics.ObserveCompleted(c.RequestID, ran, failed)
		s.logger.Debug("request complete",
			logpkg.RequestID(c.RequestID),
			logpkg.Dur("ran", ran),
			logpkg.Bool("failed", failed),
		)
		n++
	}
	return n, nil
}

// admit moves everything in requested/ to pending/, in id order.
func (s *Server) admit() (int, error) {
	ids, err := s.spool.List(spool.Requested)
	if err != nil {
		return 0, err
	}
	n := 0
	now := s.now()
	for _, reqID := range ids {
		if s.duplicate(reqID) {
			s.logger.Warn("discarding request with an id already in flight", logpkg.RequestID(reqID))
			if _, err := s.spool.Remove(reqID, spool.Requested); err != nil {
				return n, err
			}
			continue
		}
		if err := s.spool.Move(reqID, spool.Requested, spool.Pending); err != nil {
			return n, err
		}
		s.pending = append(s.pending, reqID)
		s.isPending[reqID] = struct{}{}
		s.arrivals[reqID] = now
		s.metrics.ObserveAdmitted(reqID, now)
		s.logAdmitted(reqID, now)
		n++
	}
	return n, nil
}

// logAdmitted logs how long reqID sat in requested/, measured from the
// creation time encoded in the id.
func (s *Server) logAdmitted(reqID string, now time.Time) {
	created, err := id.Parse(reqID)
	if err != nil {
		s.logger.Debug("request admitted", logpkg.RequestID(reqID))
		return
	}
	age := now.Sub(created)
	if age < 0 {
		age = 0
	}
	s.logger.Debug("request admitted", logpkg.RequestID(reqID), logpkg.Dur("queued", age))
}

func (s *Server) duplicate(reqID string) bool {
	if _, ok := s.isPending[reqID]; ok {
		return true
	}
	return s.spool.IsInState(reqID, spool.Running) || s.spool.IsInState(reqID, spool.Complete)
}

// processAborts acts on every abort marker and deletes it.
func (s *Server) processAborts() (int, error) {
	ids, err := s.spool.List(spool.Aborting)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, reqID := range ids {
		if _, err := s.spool.Remove(reqID, spool.Aborting); err != nil {
			return n, err
		}
		state, found, err := s.abort(reqID)
		if err != nil {
			return n, err
		}
		if !found {
			s.logger.Debug("abort for unknown request ignored", logpkg.RequestID(reqID))
			continue
		}
		s.metrics.ObserveAborted(reqID, state)
		s.logger.Debug("request aborted", logpkg.RequestID(reqID), logpkg.Str("state", state.String()))
		n++
	}
	return n, nil
}

func (s *Server) abort(reqID string) (spool.State, bool, error) {
	if _, ok := s.isPending[reqID]; ok {
		s.dropPending(reqID)
		_, err := s.spool.Remove(reqID, spool.Pending)
		return spool.Pending, true, err
	}
	if s.spool.IsInState(reqID, spool.Running) {
		s.tm.TerminateTask(reqID)
		delete(s.started, reqID)
		_, err := s.spool.Remove(reqID, spool.Running)
		return spool.Running, true, err
	}
	if removed, err := s.spool.Remove(reqID, spool.Complete); err != nil || removed {
		return spool.Complete, removed, err
	}
	// Written after this tick's admit pass.
	removed, err := s.spool.Remove(reqID, spool.Requested)
	return spool.Requested, removed, err
}

func (s *Server) dropPending(reqID string) {
	delete(s.isPending, reqID)
	delete(s.arrivals, reqID)
	for i, p := range s.pending {
		if p == reqID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// dispatch starts pending requests in FIFO order while capacity allows.
func (s *Server) dispatch() (int, error) {
	n := 0
	for len(s.pending) > 0 && s.tm.HasCapacity() {
		reqID := s.pending[0]
		s.pending = s.pending[1:]
		delete(s.isPending, reqID)
		arrived := s.arrivals[reqID]
		delete(s.arrivals, reqID)

		payload, err := s.spool.Read(reqID, spool.Pending)
		if err != nil {
			return n, err
		}
		if err := s.tm.StartTask(reqID, payload); err != nil {
			s.logger.Warn("task failed to start", logpkg.RequestID(reqID), logpkg.Err(err))
			if err := s.failPending(reqID, err); err != nil {
				return n, err
			}
			continue
		}
		if err := s.spool.Move(reqID, spool.Pending, spool.Running); err != nil {
			return n, err
		}
		now := s.now()
		s.started[reqID] = now
		s.metrics.ObserveStarted(reqID, now.Sub(arrived))
		n++
	}
	return n, nil
}

// failPending completes a request that could not be started with its error.
func (s *Server) failPending(reqID string, cause error) error {
	data, err := Failure(cause).Encode()
	if err != nil {
		return err
	}
	if err := s.spool.WriteAtomic(reqID, spool.Pending, data); err != nil {
		return err
	}
	if err := s.spool.Move(reqID, spool.Pending, spool.Complete); err != nil {
		return err
	}
	s.metrics.ObserveCompleted(reqID, 0, true)
	return nil
}

func (s *Server) report(stats TickStats) {
	now := s.now()
	switch {
	case stats.Changed():
		s.logger.Info("tick",
			logpkg.Int("reaped", stats.Reaped),
			logpkg.Int("admitted", stats.Admitted),
			logpkg.Int("aborted", stats.Aborted),
			logpkg.Int("started", stats.Started),
			logpkg.Int("pending", stats.Pending),
			logpkg.Int("running", stats.Running),
		)
	case now.Sub(s.lastLog) >= s.heartbeat:
		s.logger.Info("heartbeat",
			logpkg.Int64("ticks", int64(s.ticks)),
			logpkg.Int("pending", stats.Pending),
			logpkg.Int("running", stats.Running),
		)
	default:
		return
	}
	s.lastLog = now
}
