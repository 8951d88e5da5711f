package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/spoolq/internal/spool"
	"github.com/rzbill/spoolq/internal/taskmgr"
	"github.com/rzbill/spoolq/internal/workqueue"
)

func openTest(t *testing.T, dir string, now time.Time) *Journal {
	t.Helper()
	j, err := Open(Options{DataDir: dir, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return j
}

func TestLifecycle(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j := openTest(t, t.TempDir(), now)
	defer j.Close()

	j.ObserveAdmitted("a", now.Add(-time.Minute))
	j.ObserveStarted("a", 30*time.Second)
	j.ObserveCompleted("a", 2*time.Second, true)

	e, err := j.Get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.State != StateComplete || !e.Failed || e.QueueWait != 30*time.Second || e.RunTime != 2*time.Second {
		t.Fatalf("entry %+v", e)
	}
	if !e.AdmittedAt.Equal(now.Add(-time.Minute)) || !e.FinishedAt.Equal(now) {
		t.Fatalf("times %+v", e)
	}
	want := Stats{Admitted: 1, Started: 1, Completed: 1, Failed: 1}
	if got := j.Stats(); got != want {
		t.Fatalf("stats %+v, want %+v", got, want)
	}
	if _, err := j.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAbortRecordsState(t *testing.T) {
	j := openTest(t, t.TempDir(), time.Now())
	defer j.Close()
	j.ObserveAdmitted("b", time.Now())
	j.ObserveAborted("b", spool.Pending)
	e, _ := j.Get("b")
	if e.State != StateAborted || e.AbortedFrom != "pending" {
		t.Fatalf("entry %+v", e)
	}
}

func TestStatsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	j := openTest(t, dir, time.Now())
	j.ObserveAdmitted("a", time.Now())
	j.ObserveAdmitted("b", time.Now())
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	j = openTest(t, dir, time.Now())
	defer j.Close()
	if got := j.Stats().Admitted; got != 2 {
		t.Fatalf("admitted = %d after reopen", got)
	}
}

func TestReopenClosesInterruptedEntries(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j := openTest(t, dir, start)
	j.ObserveAdmitted("0000000001.000000", start)
	j.ObserveAdmitted("0000000002.000000", start)
	j.ObserveStarted("0000000002.000000", time.Second)
	j.ObserveAdmitted("0000000003.000000", start)
	j.ObserveStarted("0000000003.000000", time.Second)
	j.ObserveCompleted("0000000003.000000", time.Second, false)
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	restart := start.Add(time.Hour)
	j = openTest(t, dir, restart)
	for _, reqID := range []string{"0000000001.000000", "0000000002.000000"} {
		e, err := j.Get(reqID)
		if err != nil {
			t.Fatalf("get %s: %v", reqID, err)
		}
		if e.State != StateAborted || e.AbortedFrom != AbortedByRestart || !e.FinishedAt.Equal(restart) {
			t.Fatalf("interrupted entry not closed: %+v", e)
		}
	}
	e, _ := j.Get("0000000003.000000")
	if e.State != StateComplete {
		t.Fatalf("finished entry rewritten: %+v", e)
	}
	if got := j.Stats(); got.Aborted != 2 || got.Completed != 1 {
		t.Fatalf("stats %+v", got)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// a second reopen finds nothing left to close
	j = openTest(t, dir, restart.Add(time.Hour))
	defer j.Close()
	if got := j.Stats().Aborted; got != 2 {
		t.Fatalf("aborted = %d after second reopen", got)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	j := openTest(t, t.TempDir(), time.Now())
	defer j.Close()
	for _, id := range []string{"0000000001.000000", "0000000003.000000", "0000000002.000000"} {
		j.ObserveAdmitted(id, time.Now())
	}
	got, err := j.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "0000000003.000000" || got[1].ID != "0000000002.000000" {
		t.Fatalf("recent %+v", got)
	}
}

func TestJournalAsServerHook(t *testing.T) {
	j := openTest(t, t.TempDir(), time.Now())
	defer j.Close()

	sp := spool.New(t.TempDir())
	tm := taskmgr.NewFunc(func(_ context.Context, _ string, p json.RawMessage) (any, error) {
		return p, nil
	}, taskmgr.Options{})
	srv := workqueue.NewServer(sp, workqueue.ServerOptions{Metrics: j})
	if err := srv.Start(tm); err != nil {
		t.Fatalf("start: %v", err)
	}
	client := workqueue.NewClient(sp, workqueue.ClientOptions{DisableNotify: true})
	id, err := client.EnqueueRequest(context.Background(), 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for j.Stats().Completed == 0 && time.Now().Before(deadline) {
		if _, err := srv.Tick(); err != nil {
			t.Fatalf("tick: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	e, err := j.Get(id)
	if err != nil || e.State != StateComplete || e.Failed {
		t.Fatalf("entry %+v, %v", e, err)
	}
	if j.LastTick().Reaped != 1 {
		t.Fatalf("last tick %+v", j.LastTick())
	}
}
