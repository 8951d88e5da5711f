package pebblestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("pebblestore: not found")

// FsyncMode selects when committed writes reach stable storage.
type FsyncMode int

const (
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every commit.
	FsyncModeAlways
	// FsyncModeNever leaves syncing to Pebble.
	FsyncModeNever
)

// ParseFsyncMode accepts "interval", "always" and "never".
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "", "interval":
		return FsyncModeInterval, nil
	case "always":
		return FsyncModeAlways, nil
	case "never":
		return FsyncModeNever, nil
	}
	return 0, fmt.Errorf("pebblestore: unknown fsync mode %q", s)
}

// Options configures Open.
type Options struct {
	DataDir       string
	Fsync         FsyncMode
	FsyncInterval time.Duration
	// Pebble allows advanced tuning; nil uses defaults.
	Pebble  *pebble.Options
	Metrics MetricsHook
}

// MetricsHook observes storage latencies.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveCommit(elapsed time.Duration, bytes int)
}

// NoopMetrics discards observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRead(time.Duration, int)   {}
func (NoopMetrics) ObserveCommit(time.Duration, int) {}

// Direction orders a Scan.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// DB is an open store.
type DB struct {
	inner   *pebble.DB
	sync    *pebble.WriteOptions
	metrics MetricsHook
}

// Open creates or opens the database in opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebblestore: DataDir is required")
	}
	po := opts.Pebble
	if po == nil {
		po = &pebble.Options{}
	}
	wo := pebble.NoSync
	switch opts.Fsync {
	case FsyncModeAlways:
		wo = pebble.Sync
	case FsyncModeInterval:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}
	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %s: %w", opts.DataDir, err)
	}
	m := opts.Metrics
	if m == nil {
		m = NoopMetrics{}
	}
	return &DB{inner: inner, sync: wo, metrics: m}, nil
}

// Close closes the database. It is safe on a nil DB.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// Update applies fn's writes atomically.
func (db *DB) Update(fn func(b *pebble.Batch) error) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	start := time.Now()
	size := b.Len()
	err := b.Commit(db.sync)
	db.metrics.ObserveCommit(time.Since(start), size)
	return err
}

// Set writes a single key.
func (db *DB) Set(key, value []byte) error {
	return db.Update(func(b *pebble.Batch) error { return b.Set(key, value, nil) })
}

// Get returns a copy of key's value or ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(out))
	return out, nil
}

// Scan visits keys starting with prefix in the given order, stopping
// after limit entries (0 for all) or when fn returns false. Keys and
// values passed to fn are only valid for the duration of the call.
func (db *DB) Scan(prefix []byte, dir Direction, limit int, fn func(key, value []byte) bool) error {
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return err
	}
	defer it.Close()

	valid, next := it.First, it.Next
	if dir == Descending {
		valid, next = it.Last, it.Prev
	}
	n := 0
	for ok := valid(); ok; ok = next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return it.Error()
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
