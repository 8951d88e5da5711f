package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/spoolq/internal/history"
	grpcserver "github.com/rzbill/spoolq/internal/server/grpc"
	"github.com/rzbill/spoolq/internal/spool"
	"github.com/rzbill/spoolq/internal/workqueue"
)

func newSpool(t *testing.T) *spool.Spool {
	t.Helper()
	sp := spool.New(filepath.Join(t.TempDir(), "spool"))
	if err := sp.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return sp
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "spoolq", SilenceUsage: true, SilenceErrors: true}
	Register(root)
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestEnqueueThenList(t *testing.T) {
	sp := newSpool(t)
	out, err := run(t, "enqueue", "--spool", sp.Root(), "--data", `{"argv":["true"]}`)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id := strings.TrimSpace(out)
	raw, err := sp.Read(id, spool.Requested)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != `{"argv":["true"]}` {
		t.Fatalf("payload %s", raw)
	}

	out, err = run(t, "ls", "--spool", sp.Root(), "--state", "requested")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if !strings.Contains(out, id) || !strings.HasPrefix(out, "requested") {
		t.Fatalf("ls output %q", out)
	}
	if _, err := run(t, "ls", "--spool", sp.Root(), "--state", "bogus"); err == nil {
		t.Fatalf("expected bad state error")
	}
}

func TestEnqueuePlainStringPayload(t *testing.T) {
	sp := newSpool(t)
	out, err := run(t, "enqueue", "--spool", sp.Root(), "--data", "hello")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	raw, _ := sp.Read(strings.TrimSpace(out), spool.Requested)
	if string(raw) != `"hello"` {
		t.Fatalf("payload %s", raw)
	}
}

func writeResult(t *testing.T, sp *spool.Spool, id string, res workqueue.Result) {
	t.Helper()
	b, err := res.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := sp.WriteAtomic(id, spool.Complete, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWaitPrintsResult(t *testing.T) {
	sp := newSpool(t)
	res, _ := workqueue.OK(map[string]int{"answer": 42})
	writeResult(t, sp, "0000000001.000000", res)

	out, err := run(t, "wait", "0000000001.000000", "--spool", sp.Root(), "--timeout", "2s")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal([]byte(out), &got); err != nil || got["answer"] != 42 {
		t.Fatalf("output %q", out)
	}
	if sp.IsInState("0000000001.000000", spool.Complete) {
		t.Fatalf("result file not consumed")
	}
}

func TestWaitReportsTaskFailure(t *testing.T) {
	sp := newSpool(t)
	writeResult(t, sp, "0000000002.000000", workqueue.Result{Error: &workqueue.ErrorDescriptor{Kind: "ExitError", Message: "exit status 1"}})
	_, err := run(t, "wait", "0000000002.000000", "--spool", sp.Root())
	if err == nil || !strings.Contains(err.Error(), "ExitError: exit status 1") {
		t.Fatalf("err = %v", err)
	}
}

func TestWaitTimeoutAborts(t *testing.T) {
	sp := newSpool(t)
	_, err := run(t, "wait", "0000000003.000000", "--spool", sp.Root(), "--timeout", "20ms")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v", err)
	}
	if !sp.IsInState("0000000003.000000", spool.Aborting) {
		t.Fatalf("abort marker missing")
	}
}

func TestAbortTouchesMarkers(t *testing.T) {
	sp := newSpool(t)
	ids := []string{"0000000001.000000", "0000000002.000000"}
	if _, err := run(t, append([]string{"abort", "--spool", sp.Root()}, ids...)...); err != nil {
		t.Fatalf("abort: %v", err)
	}
	for _, reqID := range ids {
		if !sp.IsInState(reqID, spool.Aborting) {
			t.Fatalf("%s not marked", reqID)
		}
	}
}

func TestQueueCommandsRejectMalformedIDs(t *testing.T) {
	sp := newSpool(t)
	victim := filepath.Join(filepath.Dir(sp.Root()), "victim.json")
	if err := os.WriteFile(victim, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write victim: %v", err)
	}
	_, err := run(t, "wait", "../../victim.json", "--spool", sp.Root(), "--timeout", "20ms")
	if !errors.Is(err, workqueue.ErrInvalidID) {
		t.Fatalf("wait: want ErrInvalidID, got %v", err)
	}
	_, err = run(t, "abort", "0000000001.000000", "../x", "--spool", sp.Root())
	if !errors.Is(err, workqueue.ErrInvalidID) {
		t.Fatalf("abort: want ErrInvalidID, got %v", err)
	}
	if sp.IsInState("0000000001.000000", spool.Aborting) {
		t.Fatalf("valid id marked although the command line was rejected")
	}
	if _, err := os.Stat(filepath.Join(sp.Root(), "x")); !os.IsNotExist(err) {
		t.Fatalf("abort marker escaped the aborting directory")
	}
	if b, err := os.ReadFile(victim); err != nil || string(b) != "keep" {
		t.Fatalf("file outside spool touched: %q %v", b, err)
	}
}

func startAdmin(t *testing.T, sp *spool.Spool, j grpcserver.Journal) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpcserver.New(sp, j, nil)
	srv.OnTick(workqueue.TickStats{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Close)
	return lis.Addr().String()
}

func TestStatsAndHistoryCommands(t *testing.T) {
	sp := newSpool(t)
	j, err := history.Open(history.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer j.Close()
	j.ObserveAdmitted("0000000004.000000", time.Now())
	addr := startAdmin(t, sp, j)

	out, err := run(t, "stats", "--spool", sp.Root(), "--admin", addr)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "serving: true") || !strings.Contains(out, `"admitted"`) {
		t.Fatalf("stats output %q", out)
	}

	out, err = run(t, "history", "0000000004.000000", "--admin", addr)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, `"pending"`) {
		t.Fatalf("history output %q", out)
	}

	if _, err := run(t, "history", "missing", "--admin", addr); err == nil {
		t.Fatalf("expected not found")
	}
}
