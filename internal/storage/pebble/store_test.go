package pebblestore

import (
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
)

type testMetrics struct {
	read    int
	commits int
}

func (m *testMetrics) ObserveRead(_ time.Duration, bytes int) { m.read += bytes }
func (m *testMetrics) ObserveCommit(time.Duration, int)       { m.commits++ }

func newTestDB(t *testing.T) (*DB, *testMetrics) {
	t.Helper()
	metrics := &testMetrics{}
	db, err := Open(Options{DataDir: t.TempDir(), FsyncInterval: 2 * time.Millisecond, Metrics: metrics})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, metrics
}

func TestSetGet(t *testing.T) {
	db, metrics := newTestDB(t)
	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get = %q, %v", got, err)
	}
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if metrics.read == 0 || metrics.commits != 1 {
		t.Fatalf("metrics %+v", metrics)
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	db, _ := newTestDB(t)
	boom := errors.New("boom")
	err := db.Update(func(b *pebble.Batch) error {
		_ = b.Set([]byte("a"), []byte("1"), nil)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if _, err := db.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("aborted batch was applied")
	}
}

func TestScanPrefixOrder(t *testing.T) {
	db, _ := newTestDB(t)
	for _, k := range []string{"req/1", "req/2", "req/3", "rez", "stats"} {
		if err := db.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	collect := func(dir Direction, limit int) []string {
		var out []string
		if err := db.Scan([]byte("req/"), dir, limit, func(k, _ []byte) bool {
			out = append(out, string(k))
			return true
		}); err != nil {
			t.Fatalf("scan: %v", err)
		}
		return out
	}
	if got := collect(Ascending, 0); len(got) != 3 || got[0] != "req/1" || got[2] != "req/3" {
		t.Fatalf("ascending %v", got)
	}
	if got := collect(Descending, 2); len(got) != 2 || got[0] != "req/3" || got[1] != "req/2" {
		t.Fatalf("descending %v", got)
	}
}

func TestParseFsyncMode(t *testing.T) {
	for in, want := range map[string]FsyncMode{"": FsyncModeInterval, "always": FsyncModeAlways, "never": FsyncModeNever} {
		got, err := ParseFsyncMode(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %v, %v", in, got, err)
		}
	}
	if _, err := ParseFsyncMode("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPrefixEnd(t *testing.T) {
	if got := prefixEnd([]byte("req/")); string(got) != "req0" {
		t.Fatalf("got %q", got)
	}
	if got := prefixEnd([]byte{0xff, 0xff}); got != nil {
		t.Fatalf("got %v", got)
	}
}
