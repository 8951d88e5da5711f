// Package history keeps a durable per-request lifecycle journal for the
// server, stored in Pebble outside the spool so it survives restarts.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/spoolq/internal/spool"
	pebblestore "github.com/rzbill/spoolq/internal/storage/pebble"
	"github.com/rzbill/spoolq/internal/workqueue"
	logpkg "github.com/rzbill/spoolq/pkg/log"
)

// ErrNotFound is returned by Get for an unknown request.
var ErrNotFound = errors.New("history: request not found")

const (
	entryPrefix = "req/"
	statsKey    = "stats"
)

// Entry is the recorded lifecycle of one request.
type Entry struct {
	ID          string        `json:"id"`
	State       string        `json:"state"`
	AdmittedAt  time.Time     `json:"admitted_at,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	QueueWait   time.Duration `json:"queue_wait,omitempty"`
	RunTime     time.Duration `json:"run_time,omitempty"`
	Failed      bool          `json:"failed,omitempty"`
	AbortedFrom string        `json:"aborted_from,omitempty"`
}

// Entry states. Live states reuse the spool directory names.
const (
	StatePending  = "pending"
	StateRunning  = "running"
	StateComplete = "complete"
	StateAborted  = "aborted"
)

// AbortedByRestart is the AbortedFrom value for requests that were still
// live when a previous server run ended. Start wipes the spool, so they
// can never finish.
const AbortedByRestart = "restart"

// Stats are cumulative counters across server runs.
type Stats struct {
	Admitted  int64 `json:"admitted"`
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Aborted   int64 `json:"aborted"`
}

// Options configures Open.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Logger  logpkg.Logger
	Now     func() time.Time
}

// Journal records server lifecycle events. It implements
// workqueue.MetricsHook; hook methods log write failures rather than
// stopping the server.
type Journal struct {
	db     *pebblestore.DB
	logger logpkg.Logger
	now    func() time.Time

	mu       sync.Mutex
	stats    Stats
	lastTick workqueue.TickStats
}

var _ workqueue.MetricsHook = (*Journal)(nil)

// Open opens or creates the journal in opts.DataDir.
func Open(opts Options) (*Journal, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync})
	if err != nil {
		return nil, err
	}
	j := &Journal{db: db, logger: opts.Logger, now: opts.Now}
	if j.logger == nil {
		j.logger = logpkg.NewNopLogger()
	}
	j.logger = j.logger.With(logpkg.Component("history"))
	if j.now == nil {
		j.now = time.Now
	}
	raw, err := db.Get([]byte(statsKey))
	switch {
	case errors.Is(err, pebblestore.ErrNotFound):
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("history: load stats: %w", err)
	default:
		if err := json.Unmarshal(raw, &j.stats); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: decode stats: %w", err)
		}
	}
	if err := j.closeInterrupted(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// closeInterrupted marks entries left pending or running by an earlier run
// as aborted.
func (j *Journal) closeInterrupted() error {
	var stale []Entry
	var decodeErr error
	err := j.db.Scan([]byte(entryPrefix), pebblestore.Ascending, 0, func(_, v []byte) bool {
		var e Entry
		if decodeErr = json.Unmarshal(v, &e); decodeErr != nil {
			return false
		}
		if e.State == StatePending || e.State == StateRunning {
			stale = append(stale, e)
		}
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return fmt.Errorf("history: scan entries: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	next := j.stats
	now := j.now()
	err = j.db.Update(func(b *pebble.Batch) error {
		for _, e := range stale {
			e.State = StateAborted
			e.AbortedFrom = AbortedByRestart
			e.FinishedAt = now
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Set(entryKey(e.ID), raw, nil); err != nil {
				return err
			}
			next.Aborted++
		}
		statsRaw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return b.Set([]byte(statsKey), statsRaw, nil)
	})
	if err != nil {
		return fmt.Errorf("history: close interrupted entries: %w", err)
	}
	j.stats = next
	j.logger.Info("closed entries interrupted by restart", logpkg.Int("count", len(stale)))
	return nil
}

// Close closes the underlying store.
func (j *Journal) Close() error { return j.db.Close() }

// Get returns the entry for requestID.
func (j *Journal) Get(requestID string) (Entry, error) {
	raw, err := j.db.Get(entryKey(requestID))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("history: decode %s: %w", requestID, err)
	}
	return e, nil
}

// Recent returns up to n entries, newest request id first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	var out []Entry
	var decodeErr error
	err := j.db.Scan([]byte(entryPrefix), pebblestore.Descending, n, func(_, v []byte) bool {
		var e Entry
		if decodeErr = json.Unmarshal(v, &e); decodeErr != nil {
			return false
		}
		out = append(out, e)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	return out, err
}

// Stats returns the cumulative counters.
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// LastTick returns the stats of the most recent server tick.
func (j *Journal) LastTick() workqueue.TickStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastTick
}

func (j *Journal) ObserveAdmitted(requestID string, at time.Time) {
	j.record(requestID, func(e *Entry, s *Stats) {
		*e = Entry{ID: requestID, State: StatePending, AdmittedAt: at}
		s.Admitted++
	})
}

func (j *Journal) ObserveStarted(requestID string, queued time.Duration) {
	j.record(requestID, func(e *Entry, s *Stats) {
		e.State = StateRunning
		e.StartedAt = j.now()
		e.QueueWait = queued
		s.Started++
	})
}

func (j *Journal) ObserveCompleted(requestID string, ran time.Duration, failed bool) {
	j.record(requestID, func(e *Entry, s *Stats) {
		e.State = StateComplete
		e.FinishedAt = j.now()
		e.RunTime = ran
		e.Failed = failed
		s.Completed++
		if failed {
			s.Failed++
		}
	})
}

func (j *Journal) ObserveAborted(requestID string, state spool.State) {
	j.record(requestID, func(e *Entry, s *Stats) {
		e.State = StateAborted
		e.FinishedAt = j.now()
		e.AbortedFrom = state.String()
		s.Aborted++
	})
}

func (j *Journal) ObserveTick(stats workqueue.TickStats) {
	j.mu.Lock()
	j.lastTick = stats
	j.mu.Unlock()
}

// record applies update to the stored entry and the counters and writes
// both in one batch. Counters only advance when the write succeeds.
func (j *Journal) record(requestID string, update func(*Entry, *Stats)) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e := Entry{ID: requestID}
	if raw, err := j.db.Get(entryKey(requestID)); err == nil {
		_ = json.Unmarshal(raw, &e)
	}
	next := j.stats
	update(&e, &next)

	entryRaw, err := json.Marshal(e)
	if err != nil {
		j.logger.Warn("encode entry failed", logpkg.RequestID(requestID), logpkg.Err(err))
		return
	}
	statsRaw, err := json.Marshal(next)
	if err != nil {
		j.logger.Warn("encode stats failed", logpkg.Err(err))
		return
	}
	err = j.db.Update(func(b *pebble.Batch) error {
		if err := b.Set(entryKey(requestID), entryRaw, nil); err != nil {
			return err
		}
		return b.Set([]byte(statsKey), statsRaw, nil)
	})
	if err != nil {
		j.logger.Warn("journal write failed", logpkg.RequestID(requestID), logpkg.Str("state", e.State), logpkg.Err(err))
		return
	}
	j.stats = next
}

func entryKey(requestID string) []byte { return []byte(entryPrefix + requestID) }
